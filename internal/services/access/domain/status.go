package domain

import (
	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

// EffectiveStatus is the computed summary of an identity's relationship to a
// resource. It is derived, never stored as a source of truth.
type EffectiveStatus struct {
	Role    role.Role
	Level   int
	Joined  bool
	CanJoin bool
}

// ComputeStatus combines the three source records and the identity's
// asserted roles into one effective status. Sources apply in a fixed order:
// public guest role, session grant, then for authenticated identities the
// public user role and membership, then each asserted role in list order.
// Combine keeps the higher rank, so the order fixes determinism only.
func ComputeStatus(policy *AccessPolicy, membership *Membership, grant *SessionGrant, identity Identity) EffectiveStatus {
	combined := role.None
	canJoin := false
	if policy != nil {
		combined = role.Combine(combined, policy.PublicGuestRole)
		canJoin = Joinable(*policy)
	}
	if grant != nil {
		combined = role.Combine(combined, grant.Role)
	}
	if identity.Authenticated() {
		if policy != nil {
			combined = role.Combine(combined, policy.PublicUserRole)
		}
		if membership != nil {
			combined = role.Combine(combined, membership.Role)
		}
	}
	for _, asserted := range identity.Roles {
		combined = role.Combine(combined, asserted)
	}
	return EffectiveStatus{
		Role:    combined,
		Level:   role.Level(combined),
		Joined:  membership != nil || grant != nil,
		CanJoin: canJoin,
	}
}
