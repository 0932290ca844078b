package domain

import (
	"time"

	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

// Membership attaches a role to an account for one resource. At most one
// membership exists per (AccountID, ResourceType, ResourceID).
type Membership struct {
	AccountID    string
	ResourceType string
	ResourceID   string
	Role         role.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionGrant attaches a role to an anonymous session for one resource.
// PublicInfoID references the session's public presence record. At most one
// grant exists per (ResourceType, ResourceID, SessionID).
type SessionGrant struct {
	ResourceType string
	ResourceID   string
	SessionID    string
	Role         role.Role
	PublicInfoID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewMembership builds a membership record with timestamps.
func NewMembership(accountID, resourceType, resourceID string, grantRole role.Role, now func() time.Time) Membership {
	if now == nil {
		now = time.Now
	}
	createdAt := now().UTC()
	return Membership{
		AccountID:    accountID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Role:         grantRole,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// NewSessionGrant builds a session grant record with timestamps.
func NewSessionGrant(resourceType, resourceID, sessionID string, grantRole role.Role, publicInfoID string, now func() time.Time) SessionGrant {
	if now == nil {
		now = time.Now
	}
	createdAt := now().UTC()
	return SessionGrant{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SessionID:    sessionID,
		Role:         grantRole,
		PublicInfoID: publicInfoID,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// MigratedRole is the membership role produced when a session grant is
// converted on login: the higher rank of the policy's public user role and
// the grant's own role.
func MigratedRole(policy AccessPolicy, grant SessionGrant) role.Role {
	return role.Combine(policy.PublicUserRole, grant.Role)
}
