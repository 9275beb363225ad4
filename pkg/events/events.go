package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies an identity provider lifecycle event
type Type string

const (
	TypeOrgCreated    Type = "organization.created"
	TypeOrgDeleted    Type = "organization.deleted"
	TypeMemberAdded   Type = "organizationMembership.created"
	TypeMemberRemoved Type = "organizationMembership.deleted"
)

// Event is one of the tagged lifecycle event variants. Unhandled provider
// event types decode to Ignored rather than an error, so the webhook endpoint
// can accept them without special-casing.
type Event interface {
	EventType() Type
}

// OrgCreated signals a new upstream organization
type OrgCreated struct {
	ExternalOrgID string
	Name          string
}

func (OrgCreated) EventType() Type { return TypeOrgCreated }

// MemberAdded signals a user joining an upstream organization
type MemberAdded struct {
	ExternalOrgID  string
	ExternalUserID string
	Email          string
	DisplayName    string
	Role           string
}

func (MemberAdded) EventType() Type { return TypeMemberAdded }

// MemberRemoved signals a user leaving an upstream organization
type MemberRemoved struct {
	ExternalOrgID  string
	ExternalUserID string
}

func (MemberRemoved) EventType() Type { return TypeMemberRemoved }

// OrgDeleted signals an upstream organization being removed
type OrgDeleted struct {
	ExternalOrgID string
}

func (OrgDeleted) EventType() Type { return TypeOrgDeleted }

// Ignored is the explicit arm for provider event types deskbridge does not
// handle
type Ignored struct {
	Type Type
}

func (e Ignored) EventType() Type { return e.Type }

// envelope is the provider's webhook payload shape
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type orgData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type membershipData struct {
	Organization struct {
		ID string `json:"id"`
	} `json:"organization"`
	PublicUserData struct {
		UserID     string `json:"user_id"`
		Identifier string `json:"identifier"`
		FirstName  string `json:"first_name"`
		LastName   string `json:"last_name"`
	} `json:"public_user_data"`
	Role string `json:"role"`
}

// Parse decodes a verified webhook payload into its event variant
func Parse(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}

	switch env.Type {
	case TypeOrgCreated:
		var data orgData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid organization data: %w", err)
		}
		return OrgCreated{ExternalOrgID: data.ID, Name: data.Name}, nil

	case TypeOrgDeleted:
		var data orgData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid organization data: %w", err)
		}
		return OrgDeleted{ExternalOrgID: data.ID}, nil

	case TypeMemberAdded:
		var data membershipData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid membership data: %w", err)
		}
		return MemberAdded{
			ExternalOrgID:  data.Organization.ID,
			ExternalUserID: data.PublicUserData.UserID,
			Email:          data.PublicUserData.Identifier,
			DisplayName:    displayName(data.PublicUserData.FirstName, data.PublicUserData.LastName),
			Role:           data.Role,
		}, nil

	case TypeMemberRemoved:
		var data membershipData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid membership data: %w", err)
		}
		return MemberRemoved{
			ExternalOrgID:  data.Organization.ID,
			ExternalUserID: data.PublicUserData.UserID,
		}, nil

	default:
		return Ignored{Type: env.Type}, nil
	}
}

// displayName composes the provider's name fields; empty when neither is set
func displayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
