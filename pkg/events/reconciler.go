package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// PlatformClient is the support platform surface the reconciler drives
type PlatformClient interface {
	CreateAccount(ctx context.Context, name string) (*chatwoot.Account, error)
	DeleteAccount(ctx context.Context, accountID int64) error
	CreateUser(ctx context.Context, name, email string) (*chatwoot.User, error)
	AddAccountUser(ctx context.Context, accountID, userID int64, role chatwoot.Role) error
	RemoveAccountUser(ctx context.Context, accountID, userID int64) error
}

// Reconciler consumes verified lifecycle events and drives the mapping store
// and the support platform to convergence
type Reconciler struct {
	store        mappings.Store
	client       PlatformClient
	logger       *observability.Logger
	metrics      *observability.Metrics
	adminRoleTag string
	retry        mappings.RetryPolicy
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithRetryPolicy overrides the bounded-retry lookup policy
func WithRetryPolicy(policy mappings.RetryPolicy) ReconcilerOption {
	return func(r *Reconciler) {
		r.retry = policy
	}
}

// WithMetrics attaches event metrics
func WithMetrics(metrics *observability.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = metrics
	}
}

// WithAdminRoleTag overrides the upstream role value that maps to
// administrator (default "org:admin")
func WithAdminRoleTag(tag string) ReconcilerOption {
	return func(r *Reconciler) {
		r.adminRoleTag = tag
	}
}

// NewReconciler creates an event reconciler
func NewReconciler(store mappings.Store, client PlatformClient, logger *observability.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:        store,
		client:       client,
		logger:       logger,
		adminRoleTag: "org:admin",
		retry:        mappings.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle applies one event. An error return means the delivery failed and the
// sender should redeliver; a nil return means the event is fully absorbed,
// which includes the documented drop and no-op cases.
func (r *Reconciler) Handle(ctx context.Context, event Event) error {
	var err error
	switch e := event.(type) {
	case OrgCreated:
		err = r.handleOrgCreated(ctx, e)
	case MemberAdded:
		err = r.handleMemberAdded(ctx, e)
	case MemberRemoved:
		err = r.handleMemberRemoved(ctx, e)
	case OrgDeleted:
		err = r.handleOrgDeleted(ctx, e)
	case Ignored:
		r.count(string(e.Type), "ignored")
		return nil
	default:
		return fmt.Errorf("unknown event variant %T", event)
	}

	if err != nil {
		r.count(string(event.EventType()), "error")
		return err
	}
	r.count(string(event.EventType()), "ok")
	return nil
}

func (r *Reconciler) count(eventType, outcome string) {
	if r.metrics != nil {
		r.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}

// handleOrgCreated provisions a platform account and records the mapping.
// There is no compensating rollback: if the mapping insert fails after the
// account was provisioned, the remote account is orphaned and the error
// surfaces to the sender for redelivery.
func (r *Reconciler) handleOrgCreated(ctx context.Context, event OrgCreated) error {
	logger := r.logger.WithField("external_org_id", event.ExternalOrgID)
	logger.Info("provisioning account for organization")

	account, err := r.client.CreateAccount(ctx, event.Name)
	if err != nil {
		return fmt.Errorf("failed to provision account: %w", err)
	}

	mapping := &mappings.OrgMapping{
		ExternalOrgID: event.ExternalOrgID,
		AccountID:     account.ID,
	}
	if event.Name != "" {
		name := event.Name
		mapping.DisplayName = &name
	}
	if err := r.store.CreateOrg(ctx, mapping); err != nil {
		return fmt.Errorf("failed to store organization mapping: %w", err)
	}

	logger.WithField("account_id", account.ID).Info("account provisioned")
	return nil
}

// handleMemberAdded resolves the organization with the bounded-retry lookup
// (the organization-created webhook may still be in flight), lazily provisions
// the user, and links the two with the mapped role
func (r *Reconciler) handleMemberAdded(ctx context.Context, event MemberAdded) error {
	logger := r.logger.WithFields(map[string]interface{}{
		"external_org_id":  event.ExternalOrgID,
		"external_user_id": event.ExternalUserID,
	})

	org, err := r.resolveOrg(ctx, event.ExternalOrgID)
	if errors.Is(err, mappings.ErrNotFound) {
		// The organization never materialized within the retry budget. The
		// event is dropped; the provider does not get an error back.
		logger.Warn("organization mapping not found after retries, dropping membership event")
		r.count(string(TypeMemberAdded), "dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve organization mapping: %w", err)
	}

	// User mappings are created synchronously by this handler, so a single
	// lookup suffices: there is no cross-event race to wait out.
	user, err := r.store.GetUserByExternalID(ctx, event.ExternalUserID)
	if errors.Is(err, mappings.ErrNotFound) {
		user, err = r.provisionUser(ctx, event)
	}
	if err != nil {
		return err
	}

	role := chatwoot.RoleAgent
	if event.Role == r.adminRoleTag {
		role = chatwoot.RoleAdministrator
	}

	if err := r.client.AddAccountUser(ctx, org.AccountID, user.PlatformUserID, role); err != nil {
		if isAlreadyLinked(err) {
			logger.Debug("user already linked to account")
			return nil
		}
		return fmt.Errorf("failed to link user to account: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"account_id":       org.AccountID,
		"platform_user_id": user.PlatformUserID,
		"role":             string(role),
	}).Info("user linked to account")
	return nil
}

// provisionUser creates the platform user and its mapping. Name falls back to
// the email address when the provider supplied no display name.
func (r *Reconciler) provisionUser(ctx context.Context, event MemberAdded) (*mappings.UserMapping, error) {
	name := event.DisplayName
	if name == "" {
		name = event.Email
	}

	platformUser, err := r.client.CreateUser(ctx, name, event.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	mapping := &mappings.UserMapping{
		ExternalUserID: event.ExternalUserID,
		PlatformUserID: platformUser.ID,
	}
	if event.Email != "" {
		email := event.Email
		mapping.Email = &email
	}
	if err := r.store.CreateUser(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to store user mapping: %w", err)
	}
	return mapping, nil
}

// handleMemberRemoved unlinks the user from the account. Missing mappings are
// ignored: removal races are rare and non-critical, and by the time a member
// can be removed both mappings normally exist.
func (r *Reconciler) handleMemberRemoved(ctx context.Context, event MemberRemoved) error {
	org, err := r.store.GetOrgByExternalID(ctx, event.ExternalOrgID)
	if errors.Is(err, mappings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve organization mapping: %w", err)
	}

	user, err := r.store.GetUserByExternalID(ctx, event.ExternalUserID)
	if errors.Is(err, mappings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve user mapping: %w", err)
	}

	if err := r.client.RemoveAccountUser(ctx, org.AccountID, user.PlatformUserID); err != nil {
		return fmt.Errorf("failed to unlink user from account: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"account_id":       org.AccountID,
		"platform_user_id": user.PlatformUserID,
	}).Info("user unlinked from account")
	return nil
}

// handleOrgDeleted deprovisions the remote account, then deletes the mapping
// row. The ordering is deliberate: if the remote delete fails, the row stays,
// so an existing mapping always implies a live or pending-delete account.
func (r *Reconciler) handleOrgDeleted(ctx context.Context, event OrgDeleted) error {
	org, err := r.store.GetOrgByExternalID(ctx, event.ExternalOrgID)
	if errors.Is(err, mappings.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve organization mapping: %w", err)
	}

	if err := r.client.DeleteAccount(ctx, org.AccountID); err != nil {
		return fmt.Errorf("failed to deprovision account: %w", err)
	}

	if err := r.store.DeleteOrg(ctx, event.ExternalOrgID); err != nil {
		return fmt.Errorf("failed to delete organization mapping: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"external_org_id": event.ExternalOrgID,
		"account_id":      org.AccountID,
	}).Info("account deprovisioned")
	return nil
}

// resolveOrg wraps the organization lookup in the shared bounded-retry policy
func (r *Reconciler) resolveOrg(ctx context.Context, externalOrgID string) (*mappings.OrgMapping, error) {
	policy := r.retry
	policy.OnRetry = func(attempt int) {
		if r.metrics != nil {
			r.metrics.MappingLookupRetriesTotal.WithLabelValues("org").Inc()
		}
		r.logger.WithFields(map[string]interface{}{
			"external_org_id": externalOrgID,
			"attempt":         attempt,
			"max_retries":     policy.MaxRetries,
		}).Debug("waiting for organization mapping")
	}
	return mappings.ResolveWithRetry(ctx, policy, func(ctx context.Context) (*mappings.OrgMapping, error) {
		return r.store.GetOrgByExternalID(ctx, externalOrgID)
	})
}

// isAlreadyLinked reports whether a link failure just means the membership
// already exists, which re-delivered events are allowed to hit
func isAlreadyLinked(err error) bool {
	var apiErr *chatwoot.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 409 || apiErr.StatusCode == 422
}
