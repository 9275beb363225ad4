package mappings

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no mapping row exists for the given external ID
var ErrNotFound = errors.New("mapping not found")

// OrgMapping associates an identity-provider organization with a support
// platform account. AccountID never changes once the row exists; organization
// re-creation is delete-and-recreate.
type OrgMapping struct {
	ID            int64     `json:"id"`
	ExternalOrgID string    `json:"external_org_id"`
	AccountID     int64     `json:"account_id"`
	DisplayName   *string   `json:"display_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserMapping associates an identity-provider user with a support platform
// user. The mapping is provider-global: it is independent of which
// organizations the user belongs to, and membership removal never deletes it.
type UserMapping struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PlatformUserID int64     `json:"platform_user_id"`
	Email          *string   `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
