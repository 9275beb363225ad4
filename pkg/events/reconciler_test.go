package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// fakeStore is an in-memory mappings.Store
type fakeStore struct {
	mu    sync.Mutex
	orgs  map[string]*mappings.OrgMapping
	users map[string]*mappings.UserMapping

	// orgLookupsUntilVisible makes org lookups miss N times before the row
	// becomes visible, simulating a webhook that has not committed yet
	orgLookupsUntilVisible int
	orgLookups             int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:  map[string]*mappings.OrgMapping{},
		users: map[string]*mappings.UserMapping{},
	}
}

func (f *fakeStore) GetOrgByExternalID(ctx context.Context, id string) (*mappings.OrgMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgLookups++
	if f.orgLookups <= f.orgLookupsUntilVisible {
		return nil, mappings.ErrNotFound
	}
	if org, ok := f.orgs[id]; ok {
		return org, nil
	}
	return nil, mappings.ErrNotFound
}

func (f *fakeStore) CreateOrg(ctx context.Context, m *mappings.OrgMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.orgs[m.ExternalOrgID]; ok {
		*m = *existing
		return nil
	}
	m.ID = int64(len(f.orgs) + 1)
	f.orgs[m.ExternalOrgID] = m
	return nil
}

func (f *fakeStore) DeleteOrg(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orgs, id)
	return nil
}

func (f *fakeStore) ListOrgs(ctx context.Context) ([]*mappings.OrgMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mappings.OrgMapping
	for _, org := range f.orgs {
		out = append(out, org)
	}
	return out, nil
}

func (f *fakeStore) GetUserByExternalID(ctx context.Context, id string) (*mappings.UserMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		return user, nil
	}
	return nil, mappings.ErrNotFound
}

func (f *fakeStore) CreateUser(ctx context.Context, m *mappings.UserMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[m.ExternalUserID]; ok {
		*m = *existing
		return nil
	}
	m.ID = int64(len(f.users) + 1)
	f.users[m.ExternalUserID] = m
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]*mappings.UserMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mappings.UserMapping
	for _, user := range f.users {
		out = append(out, user)
	}
	return out, nil
}

// fakeClient records platform API calls and returns scripted responses
type fakeClient struct {
	nextAccountID int64
	nextUserID    int64

	createAccountErr error
	addUserErr       error
	deleteAccountErr error

	createdAccounts []string
	createdUsers    []string
	links           []linkCall
	unlinks         []linkCall
	deletedAccounts []int64
}

type linkCall struct {
	accountID int64
	userID    int64
	role      chatwoot.Role
}

func (f *fakeClient) CreateAccount(ctx context.Context, name string) (*chatwoot.Account, error) {
	if f.createAccountErr != nil {
		return nil, f.createAccountErr
	}
	f.nextAccountID++
	f.createdAccounts = append(f.createdAccounts, name)
	return &chatwoot.Account{ID: f.nextAccountID, Name: name}, nil
}

func (f *fakeClient) DeleteAccount(ctx context.Context, accountID int64) error {
	if f.deleteAccountErr != nil {
		return f.deleteAccountErr
	}
	f.deletedAccounts = append(f.deletedAccounts, accountID)
	return nil
}

func (f *fakeClient) CreateUser(ctx context.Context, name, email string) (*chatwoot.User, error) {
	f.nextUserID++
	f.createdUsers = append(f.createdUsers, email)
	return &chatwoot.User{ID: f.nextUserID, Name: name, Email: email}, nil
}

func (f *fakeClient) AddAccountUser(ctx context.Context, accountID, userID int64, role chatwoot.Role) error {
	if f.addUserErr != nil {
		return f.addUserErr
	}
	f.links = append(f.links, linkCall{accountID, userID, role})
	return nil
}

func (f *fakeClient) RemoveAccountUser(ctx context.Context, accountID, userID int64) error {
	f.unlinks = append(f.unlinks, linkCall{accountID: accountID, userID: userID})
	return nil
}

func newTestReconciler(store mappings.Store, client PlatformClient, opts ...ReconcilerOption) *Reconciler {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	opts = append([]ReconcilerOption{
		WithRetryPolicy(mappings.RetryPolicy{MaxRetries: 5, Delay: time.Microsecond}),
	}, opts...)
	return NewReconciler(store, client, logger, opts...)
}

func TestReconciler_OrgCreated(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	err := r.Handle(context.Background(), OrgCreated{ExternalOrgID: "org_1", Name: "Acme Inc"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(client.createdAccounts) != 1 || client.createdAccounts[0] != "Acme Inc" {
		t.Errorf("Expected one account named Acme Inc, got %v", client.createdAccounts)
	}
	org, err := store.GetOrgByExternalID(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Expected org mapping: %v", err)
	}
	if org.AccountID != 1 {
		t.Errorf("Expected account ID 1, got %d", org.AccountID)
	}
	if org.DisplayName == nil || *org.DisplayName != "Acme Inc" {
		t.Errorf("Expected display name to be recorded, got %v", org.DisplayName)
	}
}

func TestReconciler_OrgCreated_PlatformFailure(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{createAccountErr: &chatwoot.APIError{StatusCode: 500, Body: "boom"}}
	r := newTestReconciler(store, client)

	err := r.Handle(context.Background(), OrgCreated{ExternalOrgID: "org_1", Name: "Acme Inc"})
	if err == nil {
		t.Fatal("Expected error so the delivery is retried")
	}
	if _, getErr := store.GetOrgByExternalID(context.Background(), "org_1"); !errors.Is(getErr, mappings.ErrNotFound) {
		t.Error("Expected no mapping after a failed provision")
	}
}

func TestReconciler_MemberAdded_ProvisionsAndLinks(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberAdded{
		ExternalOrgID:  "org_1",
		ExternalUserID: "user_1",
		Email:          "jamie@example.com",
		DisplayName:    "Jamie Doe",
		Role:           "org:member",
	}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(client.createdUsers) != 1 {
		t.Fatalf("Expected one provisioned user, got %d", len(client.createdUsers))
	}
	if len(client.links) != 1 {
		t.Fatalf("Expected one link call, got %d", len(client.links))
	}
	link := client.links[0]
	if link.accountID != 10 || link.role != chatwoot.RoleAgent {
		t.Errorf("Expected agent link to account 10, got %+v", link)
	}

	user, err := store.GetUserByExternalID(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("Expected user mapping: %v", err)
	}
	if user.Email == nil || *user.Email != "jamie@example.com" {
		t.Errorf("Expected email to be recorded, got %v", user.Email)
	}
}

func TestReconciler_MemberAdded_AdminRole(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberAdded{
		ExternalOrgID:  "org_1",
		ExternalUserID: "user_1",
		Email:          "jamie@example.com",
		Role:           "org:admin",
	}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if client.links[0].role != chatwoot.RoleAdministrator {
		t.Errorf("Expected administrator role, got %s", client.links[0].role)
	}
}

func TestReconciler_MemberAdded_ReusesExistingUser(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	store.users["user_1"] = &mappings.UserMapping{ID: 1, ExternalUserID: "user_1", PlatformUserID: 77}
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberAdded{ExternalOrgID: "org_1", ExternalUserID: "user_1", Email: "jamie@example.com"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(client.createdUsers) != 0 {
		t.Errorf("Expected no new platform user, got %v", client.createdUsers)
	}
	if len(client.links) != 1 || client.links[0].userID != 77 {
		t.Errorf("Expected existing platform user 77 to be linked, got %v", client.links)
	}
}

func TestReconciler_MemberAdded_WaitsForOrg(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	store.orgLookupsUntilVisible = 3
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberAdded{ExternalOrgID: "org_1", ExternalUserID: "user_1", Email: "jamie@example.com"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(client.links) != 1 {
		t.Errorf("Expected the link to happen once the org appeared, got %d links", len(client.links))
	}
	if store.orgLookups != 4 {
		t.Errorf("Expected 4 org lookups, got %d", store.orgLookups)
	}
}

func TestReconciler_MemberAdded_DroppedAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberAdded{ExternalOrgID: "org_missing", ExternalUserID: "user_1", Email: "jamie@example.com"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Exhausted retries must not surface an error, got %v", err)
	}

	if len(client.createdUsers) != 0 || len(client.links) != 0 {
		t.Error("Expected no platform calls for a dropped event")
	}
	if _, err := store.GetUserByExternalID(context.Background(), "user_1"); !errors.Is(err, mappings.ErrNotFound) {
		t.Error("Expected no user mapping for a dropped event")
	}
}

func TestReconciler_MemberAdded_AlreadyLinkedIsNoop(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	store.users["user_1"] = &mappings.UserMapping{ID: 1, ExternalUserID: "user_1", PlatformUserID: 77}
	client := &fakeClient{addUserErr: &chatwoot.APIError{StatusCode: 422, Body: "User is already in the account"}}
	r := newTestReconciler(store, client)

	event := MemberAdded{ExternalOrgID: "org_1", ExternalUserID: "user_1", Email: "jamie@example.com"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Already-linked must be a no-op, got %v", err)
	}
}

func TestReconciler_MemberRemoved(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	store.users["user_1"] = &mappings.UserMapping{ID: 1, ExternalUserID: "user_1", PlatformUserID: 77}
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberRemoved{ExternalOrgID: "org_1", ExternalUserID: "user_1"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(client.unlinks) != 1 {
		t.Fatalf("Expected one unlink call, got %d", len(client.unlinks))
	}
	if client.unlinks[0].accountID != 10 || client.unlinks[0].userID != 77 {
		t.Errorf("Unexpected unlink call: %+v", client.unlinks[0])
	}

	// The user mapping survives removal so re-adding the user reuses it
	if _, err := store.GetUserByExternalID(context.Background(), "user_1"); err != nil {
		t.Errorf("Expected user mapping to survive removal: %v", err)
	}
}

func TestReconciler_MemberRemoved_MissingMappingsIgnored(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	event := MemberRemoved{ExternalOrgID: "org_missing", ExternalUserID: "user_missing"}
	if err := r.Handle(context.Background(), event); err != nil {
		t.Fatalf("Missing mappings must be ignored, got %v", err)
	}
	if len(client.unlinks) != 0 {
		t.Error("Expected no unlink calls")
	}
}

func TestReconciler_OrgDeleted(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	if err := r.Handle(context.Background(), OrgDeleted{ExternalOrgID: "org_1"}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(client.deletedAccounts) != 1 || client.deletedAccounts[0] != 10 {
		t.Errorf("Expected account 10 to be deprovisioned, got %v", client.deletedAccounts)
	}
	if _, err := store.GetOrgByExternalID(context.Background(), "org_1"); !errors.Is(err, mappings.ErrNotFound) {
		t.Error("Expected org mapping to be deleted")
	}
}

func TestReconciler_OrgDeleted_RemoteFailureKeepsMapping(t *testing.T) {
	store := newFakeStore()
	store.orgs["org_1"] = &mappings.OrgMapping{ID: 1, ExternalOrgID: "org_1", AccountID: 10}
	client := &fakeClient{deleteAccountErr: &chatwoot.APIError{StatusCode: 500, Body: "boom"}}
	r := newTestReconciler(store, client)

	if err := r.Handle(context.Background(), OrgDeleted{ExternalOrgID: "org_1"}); err == nil {
		t.Fatal("Expected error so the delivery is retried")
	}
	if _, err := store.GetOrgByExternalID(context.Background(), "org_1"); err != nil {
		t.Error("Expected mapping to survive a failed remote delete")
	}
}

func TestReconciler_OrgDeleted_UnknownOrgIgnored(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	if err := r.Handle(context.Background(), OrgDeleted{ExternalOrgID: "org_missing"}); err != nil {
		t.Fatalf("Unknown org must be ignored, got %v", err)
	}
	if len(client.deletedAccounts) != 0 {
		t.Error("Expected no deprovision calls")
	}
}

func TestReconciler_IgnoredEvent(t *testing.T) {
	store := newFakeStore()
	client := &fakeClient{}
	r := newTestReconciler(store, client)

	if err := r.Handle(context.Background(), Ignored{Type: "user.updated"}); err != nil {
		t.Fatalf("Ignored events must succeed, got %v", err)
	}
	if len(client.createdAccounts)+len(client.createdUsers)+len(client.links) != 0 {
		t.Error("Expected no platform calls for ignored events")
	}
}
