package webhooks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/events"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// stubStore fails every operation so reconciler errors can be provoked, or
// succeeds trivially when ok is set
type stubStore struct {
	mappings.Store
	ok bool
}

func (s *stubStore) CreateOrg(ctx context.Context, m *mappings.OrgMapping) error {
	if s.ok {
		m.ID = 1
		return nil
	}
	return context.DeadlineExceeded
}

type stubClient struct{}

func (stubClient) CreateAccount(ctx context.Context, name string) (*chatwoot.Account, error) {
	return &chatwoot.Account{ID: 1, Name: name}, nil
}
func (stubClient) DeleteAccount(ctx context.Context, accountID int64) error { return nil }
func (stubClient) CreateUser(ctx context.Context, name, email string) (*chatwoot.User, error) {
	return &chatwoot.User{ID: 1, Name: name, Email: email}, nil
}
func (stubClient) AddAccountUser(ctx context.Context, accountID, userID int64, role chatwoot.Role) error {
	return nil
}
func (stubClient) RemoveAccountUser(ctx context.Context, accountID, userID int64) error {
	return nil
}

func setupHandler(t *testing.T, storeOK bool) *mux.Router {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	reconciler := events.NewReconciler(&stubStore{ok: storeOK}, stubClient{}, logger,
		events.WithRetryPolicy(mappings.RetryPolicy{MaxRetries: 0, Delay: time.Microsecond}))
	verifier := NewVerifier(StaticSecret(testSecret()), 5*time.Minute)

	router := mux.NewRouter()
	NewHandler(verifier, reconciler, logger).RegisterRoutes(router)
	return router
}

func deliver(t *testing.T, router *mux.Router, payload []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader(payload))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(HeaderID, "msg_1")
	req.Header.Set(HeaderTimestamp, timestamp)
	if sign {
		req.Header.Set(HeaderSignature, signPayload("msg_1", timestamp, payload))
	} else {
		req.Header.Set(HeaderSignature, "v1,Zm9yZ2VkLXNpZ25hdHVyZQ==")
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestHandler_ValidDelivery(t *testing.T) {
	router := setupHandler(t, true)
	payload := []byte(`{"type":"organization.created","data":{"id":"org_1","name":"Acme"}}`)

	recorder := deliver(t, router, payload, true)
	if recorder.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHandler_IgnoredEventTypeAccepted(t *testing.T) {
	router := setupHandler(t, false)
	payload := []byte(`{"type":"user.updated","data":{}}`)

	recorder := deliver(t, router, payload, true)
	if recorder.Code != http.StatusOK {
		t.Errorf("Expected 200 for ignored event type, got %d", recorder.Code)
	}
}

func TestHandler_BadSignature(t *testing.T) {
	router := setupHandler(t, true)
	payload := []byte(`{"type":"organization.created","data":{"id":"org_1"}}`)

	recorder := deliver(t, router, payload, false)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad signature, got %d", recorder.Code)
	}
}

func TestHandler_MissingHeaders(t *testing.T) {
	router := setupHandler(t, true)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader([]byte(`{}`)))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing headers, got %d", recorder.Code)
	}
}

func TestHandler_MalformedPayload(t *testing.T) {
	router := setupHandler(t, true)
	payload := []byte(`{"type":"organization.created","data":"nope"}`)

	recorder := deliver(t, router, payload, true)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed payload, got %d", recorder.Code)
	}
}

func TestHandler_ReconcileFailureRequestsRedelivery(t *testing.T) {
	router := setupHandler(t, false)
	payload := []byte(`{"type":"organization.created","data":{"id":"org_1","name":"Acme"}}`)

	recorder := deliver(t, router, payload, true)
	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 so the provider redelivers, got %d", recorder.Code)
	}
}
