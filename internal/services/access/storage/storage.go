// Package storage defines persistence contracts for access-control state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness constraint was violated on create.
var ErrAlreadyExists = errors.New("record already exists")

// PolicyStore persists per-resource access policies.
type PolicyStore interface {
	// CreatePolicy inserts a policy. It fails with ErrAlreadyExists when a
	// policy already exists for the resource.
	CreatePolicy(ctx context.Context, policy domain.AccessPolicy) error
	GetPolicy(ctx context.Context, resourceType, resourceID string) (domain.AccessPolicy, error)
	DeletePolicy(ctx context.Context, resourceType, resourceID string) error
}

// MembershipStore persists per-account grants.
type MembershipStore interface {
	// PutMembership upserts a membership for (account, resource).
	PutMembership(ctx context.Context, membership domain.Membership) error
	GetMembership(ctx context.Context, accountID, resourceType, resourceID string) (domain.Membership, error)
	DeleteMembership(ctx context.Context, accountID, resourceType, resourceID string) error
	ListMembershipsByResource(ctx context.Context, resourceType, resourceID string) ([]domain.Membership, error)
	ListMembershipsByAccount(ctx context.Context, accountID string) ([]domain.Membership, error)
	// DeleteMembershipsByResource removes every membership for a resource and
	// returns the number of removed rows. Used by policy cascade deletion.
	DeleteMembershipsByResource(ctx context.Context, resourceType, resourceID string) (int, error)
}

// SessionGrantStore persists per-anonymous-session grants.
type SessionGrantStore interface {
	// PutSessionGrant upserts a grant for (resource, session).
	PutSessionGrant(ctx context.Context, grant domain.SessionGrant) error
	GetSessionGrant(ctx context.Context, resourceType, resourceID, sessionID string) (domain.SessionGrant, error)
	DeleteSessionGrant(ctx context.Context, resourceType, resourceID, sessionID string) error
	ListSessionGrantsByResource(ctx context.Context, resourceType, resourceID string) ([]domain.SessionGrant, error)
	ListSessionGrantsBySession(ctx context.Context, sessionID string) ([]domain.SessionGrant, error)
	DeleteSessionGrantsByResource(ctx context.Context, resourceType, resourceID string) (int, error)
}

// SessionInfoStore persists public session presence records. Session info is
// append-only identity for a session: rows are created once and mutated,
// never deleted.
type SessionInfoStore interface {
	PutSessionInfo(ctx context.Context, info domain.PublicSessionInfo) error
	GetSessionInfo(ctx context.Context, sessionID string) (domain.PublicSessionInfo, error)
	GetSessionInfoByID(ctx context.Context, infoID string) (domain.PublicSessionInfo, error)
	// ListOnlineSessionInfos returns rows with online = true via the partial
	// online index, for bulk-offline sweeps.
	ListOnlineSessionInfos(ctx context.Context) ([]domain.PublicSessionInfo, error)
}

// PresenceStore persists per-(subject, resource) presence records.
type PresenceStore interface {
	PutPresence(ctx context.Context, record domain.PresenceRecord) error
	GetPresence(ctx context.Context, kind domain.SubjectKind, subjectID, resourceType, resourceID string) (domain.PresenceRecord, error)
	// ListOnlinePresence returns every record with online = true via the
	// partial online index.
	ListOnlinePresence(ctx context.Context) ([]domain.PresenceRecord, error)
	ListOnlinePresenceByResource(ctx context.Context, resourceType, resourceID string) ([]domain.PresenceRecord, error)
}

// ReconcileStore repairs recoverable inconsistencies left by partial cascade
// failures: grants whose policy row is gone.
type ReconcileStore interface {
	// DeleteOrphanGrants removes memberships and session grants referencing
	// resources without a policy and reports how many rows each sweep removed.
	DeleteOrphanGrants(ctx context.Context) (memberships int, sessionGrants int, err error)
}

// AnalyticsEvent records one presence transition for the analytics pipeline.
type AnalyticsEvent struct {
	Type         string
	SubjectKind  string
	SubjectID    string
	ResourceType string
	ResourceID   string
	Timestamp    time.Time
	Duration     time.Duration
	HasDuration  bool
}

// AnalyticsStore persists analytics events.
type AnalyticsStore interface {
	AppendAnalyticsEvent(ctx context.Context, event AnalyticsEvent) error
}
