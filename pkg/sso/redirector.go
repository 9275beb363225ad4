package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// LoginClient is the support platform surface needed for SSO redirects
type LoginClient interface {
	GetUserLoginURL(ctx context.Context, userID int64) (string, error)
}

// NotFoundError reports that a caller has no mapping on the named side.
// It distinguishes "not provisioned yet" from hard failures so the HTTP
// layer can answer with a helpful 404 instead of a 500.
type NotFoundError struct {
	Kind       string
	ExternalID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s mapping found for %s", e.Kind, e.ExternalID)
}

// Redirector resolves a caller's support platform login URL from their
// identity provider session
type Redirector struct {
	store   mappings.Store
	client  LoginClient
	logger  *observability.Logger
	metrics *observability.Metrics
	retry   mappings.RetryPolicy
}

// RedirectorOption configures a Redirector
type RedirectorOption func(*Redirector)

// WithRetryPolicy overrides the mapping lookup retry policy
func WithRetryPolicy(policy mappings.RetryPolicy) RedirectorOption {
	return func(r *Redirector) {
		r.retry = policy
	}
}

// WithMetrics enables retry instrumentation
func WithMetrics(metrics *observability.Metrics) RedirectorOption {
	return func(r *Redirector) {
		r.metrics = metrics
	}
}

// NewRedirector creates an SSO redirector
func NewRedirector(store mappings.Store, client LoginClient, logger *observability.Logger, opts ...RedirectorOption) *Redirector {
	r := &Redirector{
		store:  store,
		client: client,
		logger: logger,
		retry:  mappings.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLoginURL looks up the caller's platform user and organization
// mappings and asks the platform for a single-use login URL. Both lookups
// use the bounded retry policy because a caller can land here moments after
// signup, before the provisioning webhooks have been processed.
func (r *Redirector) ResolveLoginURL(ctx context.Context, externalUserID, externalOrgID string) (string, error) {
	user, err := mappings.ResolveWithRetry(ctx, r.retryPolicy("user"), func(ctx context.Context) (*mappings.UserMapping, error) {
		return r.store.GetUserByExternalID(ctx, externalUserID)
	})
	if errors.Is(err, mappings.ErrNotFound) {
		return "", &NotFoundError{Kind: "user", ExternalID: externalUserID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve user mapping: %w", err)
	}

	// The organization mapping is not part of the login URL request, but a
	// missing one means provisioning never completed and the platform user
	// has no account membership to land in.
	_, err = mappings.ResolveWithRetry(ctx, r.retryPolicy("org"), func(ctx context.Context) (*mappings.OrgMapping, error) {
		return r.store.GetOrgByExternalID(ctx, externalOrgID)
	})
	if errors.Is(err, mappings.ErrNotFound) {
		return "", &NotFoundError{Kind: "organization", ExternalID: externalOrgID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve organization mapping: %w", err)
	}

	url, err := r.client.GetUserLoginURL(ctx, user.PlatformUserID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch login URL: %w", err)
	}
	return url, nil
}

func (r *Redirector) retryPolicy(kind string) mappings.RetryPolicy {
	policy := r.retry
	policy.OnRetry = func(attempt int) {
		if r.metrics != nil {
			r.metrics.MappingLookupRetriesTotal.WithLabelValues(kind).Inc()
		}
		r.logger.WithFields(map[string]any{
			"kind":    kind,
			"attempt": attempt,
		}).Debug("Retrying mapping lookup")
	}
	return policy
}
