// Package sweep audits mapping rows against the support platform to detect
// drift from half-finished provisioning or out-of-band deletions.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// PlatformReader is the read side of the platform API used for auditing
type PlatformReader interface {
	GetAccount(ctx context.Context, accountID int64) (*chatwoot.Account, error)
	GetUser(ctx context.Context, userID int64) (*chatwoot.User, error)
}

// Drift records a mapping row whose platform counterpart no longer exists
type Drift struct {
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
	PlatformID int64  `json:"platform_id"`
	Repaired   bool   `json:"repaired"`
}

// Report summarizes one audit pass
type Report struct {
	OrgsChecked  int     `json:"orgs_checked"`
	UsersChecked int     `json:"users_checked"`
	Drifts       []Drift `json:"drifts"`
}

// Auditor walks every mapping row and verifies its platform counterpart
type Auditor struct {
	store   mappings.Store
	client  PlatformReader
	logger  *observability.Logger
	metrics *observability.Metrics

	// repair deletes mapping rows whose counterpart is gone. Off by
	// default so an audit pass is read-only.
	repair bool
}

// AuditorOption configures an Auditor
type AuditorOption func(*Auditor)

// WithRepair enables deletion of drifted mapping rows
func WithRepair(repair bool) AuditorOption {
	return func(a *Auditor) {
		a.repair = repair
	}
}

// WithMetrics enables drift instrumentation
func WithMetrics(metrics *observability.Metrics) AuditorOption {
	return func(a *Auditor) {
		a.metrics = metrics
	}
}

// NewAuditor creates a drift auditor
func NewAuditor(store mappings.Store, client PlatformReader, logger *observability.Logger, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		store:  store,
		client: client,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run performs one audit pass. Platform errors other than "gone" abort the
// pass so a platform outage is never misread as mass drift.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	orgs, err := a.store.ListOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization mappings: %w", err)
	}
	for _, org := range orgs {
		report.OrgsChecked++
		_, err := a.client.GetAccount(ctx, org.AccountID)
		if err == nil {
			continue
		}
		if !isGone(err) {
			return nil, fmt.Errorf("failed to check account %d: %w", org.AccountID, err)
		}
		drift := Drift{Kind: "org", ExternalID: org.ExternalOrgID, PlatformID: org.AccountID}
		if a.repair {
			if err := a.store.DeleteOrg(ctx, org.ExternalOrgID); err != nil {
				return nil, fmt.Errorf("failed to repair org mapping %s: %w", org.ExternalOrgID, err)
			}
			drift.Repaired = true
		}
		a.record(report, drift)
	}

	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list user mappings: %w", err)
	}
	for _, user := range users {
		report.UsersChecked++
		_, err := a.client.GetUser(ctx, user.PlatformUserID)
		if err == nil {
			continue
		}
		if !isGone(err) {
			return nil, fmt.Errorf("failed to check user %d: %w", user.PlatformUserID, err)
		}
		drift := Drift{Kind: "user", ExternalID: user.ExternalUserID, PlatformID: user.PlatformUserID}
		if a.repair {
			if err := a.store.DeleteUser(ctx, user.ExternalUserID); err != nil {
				return nil, fmt.Errorf("failed to repair user mapping %s: %w", user.ExternalUserID, err)
			}
			drift.Repaired = true
		}
		a.record(report, drift)
	}

	return report, nil
}

func (a *Auditor) record(report *Report, drift Drift) {
	report.Drifts = append(report.Drifts, drift)
	if a.metrics != nil {
		a.metrics.SweepDriftDetected.WithLabelValues(drift.Kind).Inc()
	}
	a.logger.WithFields(map[string]any{
		"kind":        drift.Kind,
		"external_id": drift.ExternalID,
		"platform_id": drift.PlatformID,
		"repaired":    drift.Repaired,
	}).Warn("Mapping drift detected")
}

// isGone reports whether the platform answered 404 for the resource
func isGone(err error) bool {
	var apiErr *chatwoot.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
