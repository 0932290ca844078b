package domain

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

// AccessPolicy holds the public entry roles for one protected resource.
// At most one policy exists per (ResourceType, ResourceID).
type AccessPolicy struct {
	ResourceType    string
	ResourceID      string
	PublicGuestRole role.Role
	PublicUserRole  role.Role
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreatePolicyInput describes the data needed to create an access policy.
type CreatePolicyInput struct {
	ResourceType    string
	ResourceID      string
	PublicGuestRole role.Role
	PublicUserRole  role.Role
}

// NewAccessPolicy validates input and builds a policy record with timestamps.
func NewAccessPolicy(input CreatePolicyInput, now func() time.Time) (AccessPolicy, error) {
	if now == nil {
		now = time.Now
	}

	normalized, err := NormalizeCreatePolicyInput(input)
	if err != nil {
		return AccessPolicy{}, err
	}

	createdAt := now().UTC()
	return AccessPolicy{
		ResourceType:    normalized.ResourceType,
		ResourceID:      normalized.ResourceID,
		PublicGuestRole: normalized.PublicGuestRole,
		PublicUserRole:  normalized.PublicUserRole,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreatePolicyInput trims and validates policy input.
func NormalizeCreatePolicyInput(input CreatePolicyInput) (CreatePolicyInput, error) {
	input.ResourceType = strings.TrimSpace(input.ResourceType)
	input.ResourceID = strings.TrimSpace(input.ResourceID)
	if input.ResourceType == "" || input.ResourceID == "" {
		return CreatePolicyInput{}, apperrors.New(apperrors.CodePolicyResourceRequired, "resource type and id are required")
	}
	if input.PublicGuestRole != role.None && !role.Valid(input.PublicGuestRole) {
		return CreatePolicyInput{}, apperrors.New(apperrors.CodePolicyInvalidRole, "public guest role is not a known role")
	}
	if input.PublicUserRole != role.None && !role.Valid(input.PublicUserRole) {
		return CreatePolicyInput{}, apperrors.New(apperrors.CodePolicyInvalidRole, "public user role is not a known role")
	}
	return input, nil
}

// EntryRole returns the role granted on join for the given identity class:
// the public user role for authenticated identities and the public guest
// role for anonymous sessions. None means entry is denied for that class.
func EntryRole(policy AccessPolicy, authenticated bool) role.Role {
	if authenticated {
		return policy.PublicUserRole
	}
	return policy.PublicGuestRole
}

// Joinable reports whether any public entry role is set on the policy.
func Joinable(policy AccessPolicy) bool {
	return policy.PublicGuestRole != role.None || policy.PublicUserRole != role.None
}
