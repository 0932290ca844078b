package domain

import (
	"strings"

	"github.com/louisbranch/gathering.space/internal/services/access/role"
)

// Identity describes the caller of an access operation. Account and session
// identifiers are trusted inputs issued by the auth service; Roles carries
// externally asserted global roles (e.g. platform admin).
type Identity struct {
	AccountID string
	SessionID string
	Roles     []role.Role
}

// Authenticated reports whether the identity is backed by an account.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.AccountID) != ""
}

// NormalizeIdentity trims identifier whitespace.
func NormalizeIdentity(identity Identity) Identity {
	identity.AccountID = strings.TrimSpace(identity.AccountID)
	identity.SessionID = strings.TrimSpace(identity.SessionID)
	return identity
}
