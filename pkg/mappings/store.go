package mappings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/deskbridge/pkg/observability"
)

// Store is the mapping persistence interface. All lookups are equality lookups
// on the external ID column; ErrNotFound signals a missing row.
type Store interface {
	GetOrgByExternalID(ctx context.Context, externalOrgID string) (*OrgMapping, error)
	CreateOrg(ctx context.Context, mapping *OrgMapping) error
	DeleteOrg(ctx context.Context, externalOrgID string) error
	ListOrgs(ctx context.Context) ([]*OrgMapping, error)

	GetUserByExternalID(ctx context.Context, externalUserID string) (*UserMapping, error)
	CreateUser(ctx context.Context, mapping *UserMapping) error
	DeleteUser(ctx context.Context, externalUserID string) error
	ListUsers(ctx context.Context) ([]*UserMapping, error)
}

// SQLStore implements Store over database/sql
type SQLStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewSQLStore creates a new SQL-backed mapping store. metrics may be nil.
func NewSQLStore(db *sql.DB, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, metrics: metrics}
}

// GetOrgByExternalID retrieves an organization mapping by external ID
func (s *SQLStore) GetOrgByExternalID(ctx context.Context, externalOrgID string) (*OrgMapping, error) {
	query := `
		SELECT id, external_org_id, account_id, display_name, created_at
		FROM organization_mappings
		WHERE external_org_id = $1
	`
	mapping := &OrgMapping{}
	err := s.db.QueryRowContext(ctx, query, externalOrgID).Scan(
		&mapping.ID, &mapping.ExternalOrgID, &mapping.AccountID,
		&mapping.DisplayName, &mapping.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization mapping: %w", err)
	}
	return mapping, nil
}

// CreateOrg inserts an organization mapping. A concurrent insert for the same
// external ID is not an error: the row that won the race is refetched and
// copied back into mapping.
func (s *SQLStore) CreateOrg(ctx context.Context, mapping *OrgMapping) error {
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO organization_mappings (external_org_id, account_id, display_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_org_id) DO NOTHING
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		mapping.ExternalOrgID, mapping.AccountID, mapping.DisplayName, mapping.CreatedAt,
	).Scan(&mapping.ID)
	if err == sql.ErrNoRows {
		// Lost an insert race; the existing row wins
		if s.metrics != nil {
			s.metrics.MappingInsertConflicts.WithLabelValues("org").Inc()
		}
		existing, getErr := s.GetOrgByExternalID(ctx, mapping.ExternalOrgID)
		if getErr != nil {
			return fmt.Errorf("failed to refetch organization mapping after conflict: %w", getErr)
		}
		*mapping = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create organization mapping: %w", err)
	}
	return nil
}

// DeleteOrg removes an organization mapping by external ID
func (s *SQLStore) DeleteOrg(ctx context.Context, externalOrgID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM organization_mappings WHERE external_org_id = $1`, externalOrgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization mapping: %w", err)
	}
	return nil
}

// ListOrgs lists all organization mappings
func (s *SQLStore) ListOrgs(ctx context.Context) ([]*OrgMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_org_id, account_id, display_name, created_at
		FROM organization_mappings
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*OrgMapping
	for rows.Next() {
		mapping := &OrgMapping{}
		if err := rows.Scan(
			&mapping.ID, &mapping.ExternalOrgID, &mapping.AccountID,
			&mapping.DisplayName, &mapping.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

// GetUserByExternalID retrieves a user mapping by external ID
func (s *SQLStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*UserMapping, error) {
	query := `
		SELECT id, external_user_id, platform_user_id, email, created_at
		FROM user_mappings
		WHERE external_user_id = $1
	`
	mapping := &UserMapping{}
	err := s.db.QueryRowContext(ctx, query, externalUserID).Scan(
		&mapping.ID, &mapping.ExternalUserID, &mapping.PlatformUserID,
		&mapping.Email, &mapping.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user mapping: %w", err)
	}
	return mapping, nil
}

// CreateUser inserts a user mapping with the same refetch-on-conflict behavior
// as CreateOrg
func (s *SQLStore) CreateUser(ctx context.Context, mapping *UserMapping) error {
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO user_mappings (external_user_id, platform_user_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_user_id) DO NOTHING
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		mapping.ExternalUserID, mapping.PlatformUserID, mapping.Email, mapping.CreatedAt,
	).Scan(&mapping.ID)
	if err == sql.ErrNoRows {
		if s.metrics != nil {
			s.metrics.MappingInsertConflicts.WithLabelValues("user").Inc()
		}
		existing, getErr := s.GetUserByExternalID(ctx, mapping.ExternalUserID)
		if getErr != nil {
			return fmt.Errorf("failed to refetch user mapping after conflict: %w", getErr)
		}
		*mapping = *existing
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create user mapping: %w", err)
	}
	return nil
}

// DeleteUser removes a user mapping by external ID. Event handling never calls
// this; it exists for the drift sweeper's opt-in repair mode.
func (s *SQLStore) DeleteUser(ctx context.Context, externalUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_mappings WHERE external_user_id = $1`, externalUserID)
	if err != nil {
		return fmt.Errorf("failed to delete user mapping: %w", err)
	}
	return nil
}

// ListUsers lists all user mappings
func (s *SQLStore) ListUsers(ctx context.Context) ([]*UserMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_user_id, platform_user_id, email, created_at
		FROM user_mappings
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*UserMapping
	for rows.Next() {
		mapping := &UserMapping{}
		if err := rows.Scan(
			&mapping.ID, &mapping.ExternalUserID, &mapping.PlatformUserID,
			&mapping.Email, &mapping.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	return mappings, rows.Err()
}

// EnsureSchema creates the mapping tables if they do not exist (PostgreSQL)
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS organization_mappings (
			id BIGSERIAL PRIMARY KEY,
			external_org_id TEXT NOT NULL UNIQUE,
			account_id BIGINT NOT NULL UNIQUE,
			display_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_mappings (
			id BIGSERIAL PRIMARY KEY,
			external_user_id TEXT NOT NULL UNIQUE,
			platform_user_id BIGINT NOT NULL UNIQUE,
			email TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure mapping schema: %w", err)
	}
	return nil
}
