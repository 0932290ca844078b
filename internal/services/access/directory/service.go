// Package directory owns per-resource access policies: creation with
// optional initial grants, lookup, cascading deletion, and the orphan
// reconciliation sweep.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// Store is the persistence surface the directory mutates.
type Store interface {
	storage.PolicyStore
	storage.MembershipStore
	storage.SessionGrantStore
	storage.ReconcileStore
}

// Sessions resolves public info records for anonymous sessions.
type Sessions interface {
	GetOrCreateSessionInfo(ctx context.Context, sessionID string) (domain.PublicSessionInfo, error)
}

// MemberGrant seeds a membership when a policy is created.
type MemberGrant struct {
	AccountID string
	Role      role.Role
}

// SessionRoleGrant seeds a session grant when a policy is created.
type SessionRoleGrant struct {
	SessionID string
	Role      role.Role
}

// CreatePolicyRequest carries the policy fields plus optional initial
// grants applied right after the policy row.
type CreatePolicyRequest struct {
	ResourceType         string
	ResourceID           string
	PublicGuestRole      role.Role
	PublicUserRole       role.Role
	InitialMembers       []MemberGrant
	InitialSessionGrants []SessionRoleGrant
}

// Service manages access policies.
type Service struct {
	store    Store
	sessions Sessions
	hub      *notify.Hub
	clock    func() time.Time
}

// NewService creates a directory service.
func NewService(store Store, sessions Sessions, hub *notify.Hub) *Service {
	return &Service{store: store, sessions: sessions, hub: hub, clock: time.Now}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) publish(change notify.Change) {
	if s.hub != nil {
		s.hub.Publish(change)
	}
}

// CreatePolicy creates the policy for a resource, then seeds the initial
// memberships and session grants. It fails with AlreadyExists when the
// resource already has a policy.
func (s *Service) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (domain.AccessPolicy, error) {
	policy, err := domain.NewAccessPolicy(domain.CreatePolicyInput{
		ResourceType:    req.ResourceType,
		ResourceID:      req.ResourceID,
		PublicGuestRole: req.PublicGuestRole,
		PublicUserRole:  req.PublicUserRole,
	}, s.clock)
	if err != nil {
		return domain.AccessPolicy{}, err
	}

	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return domain.AccessPolicy{}, apperrors.Wrap(apperrors.CodeAlreadyExists, "resource already has an access policy", err)
		}
		return domain.AccessPolicy{}, fmt.Errorf("create policy: %w", err)
	}
	s.publish(notify.Change{
		Table:        notify.TablePolicies,
		Key:          notify.KeyPolicy(policy.ResourceType, policy.ResourceID),
		ResourceType: policy.ResourceType,
		ResourceID:   policy.ResourceID,
		Op:           notify.OpPut,
	})

	for _, member := range req.InitialMembers {
		if member.AccountID == "" || !role.Valid(member.Role) {
			return domain.AccessPolicy{}, apperrors.New(apperrors.CodePolicyInvalidRole, "initial member needs an account id and a known role")
		}
		membership := domain.NewMembership(member.AccountID, policy.ResourceType, policy.ResourceID, member.Role, s.clock)
		if err := s.store.PutMembership(ctx, membership); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("seed membership: %w", err)
		}
		s.publish(notify.Change{
			Table:        notify.TableMemberships,
			Key:          notify.KeyMembership(member.AccountID, policy.ResourceType, policy.ResourceID),
			ResourceType: policy.ResourceType,
			ResourceID:   policy.ResourceID,
			Op:           notify.OpPut,
		})
	}

	for _, sessionGrant := range req.InitialSessionGrants {
		if sessionGrant.SessionID == "" || !role.Valid(sessionGrant.Role) {
			return domain.AccessPolicy{}, apperrors.New(apperrors.CodePolicyInvalidRole, "initial session grant needs a session id and a known role")
		}
		info, err := s.sessions.GetOrCreateSessionInfo(ctx, sessionGrant.SessionID)
		if err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("resolve session info: %w", err)
		}
		record := domain.NewSessionGrant(policy.ResourceType, policy.ResourceID, sessionGrant.SessionID, sessionGrant.Role, info.ID, s.clock)
		if err := s.store.PutSessionGrant(ctx, record); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("seed session grant: %w", err)
		}
		s.publish(notify.Change{
			Table:        notify.TableSessionGrants,
			Key:          notify.KeySessionGrant(policy.ResourceType, policy.ResourceID, sessionGrant.SessionID),
			ResourceType: policy.ResourceType,
			ResourceID:   policy.ResourceID,
			Op:           notify.OpPut,
		})
	}

	return policy, nil
}

// GetPolicy loads the policy for a resource.
func (s *Service) GetPolicy(ctx context.Context, resourceType, resourceID string) (domain.AccessPolicy, error) {
	policy, err := s.store.GetPolicy(ctx, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.AccessPolicy{}, apperrors.Wrap(apperrors.CodeNotFound, "no access policy for resource", err)
		}
		return domain.AccessPolicy{}, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// DeletePolicy removes all grants for the resource, then the policy row.
// Grants go first so a partial failure leaves a policy with fewer grants
// rather than orphan grants pointing at a vanished resource. A failure
// after partial removal is reported to the caller and repaired later by
// ReconcileOrphans.
func (s *Service) DeletePolicy(ctx context.Context, resourceType, resourceID string) error {
	if _, err := s.store.GetPolicy(ctx, resourceType, resourceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.Wrap(apperrors.CodeNotFound, "no access policy for resource", err)
		}
		return fmt.Errorf("get policy: %w", err)
	}

	memberships, err := s.store.DeleteMembershipsByResource(ctx, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("cascade memberships: %w", err)
	}
	grants, err := s.store.DeleteSessionGrantsByResource(ctx, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("cascade session grants: %w", err)
	}
	if err := s.store.DeletePolicy(ctx, resourceType, resourceID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete policy: %w", err)
	}

	log.Printf("policy deleted resource=%s/%s memberships=%d session_grants=%d", resourceType, resourceID, memberships, grants)
	s.publish(notify.Change{
		Table:        notify.TablePolicies,
		Key:          notify.KeyPolicy(resourceType, resourceID),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Op:           notify.OpDelete,
	})
	return nil
}

// ReconcileOrphans removes grants whose policy row is gone and returns the
// number of records repaired. Orphans are a recoverable inconsistency left
// by interrupted cascade deletes.
func (s *Service) ReconcileOrphans(ctx context.Context) (int, error) {
	memberships, grants, err := s.store.DeleteOrphanGrants(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile orphan grants: %w", err)
	}
	repaired := memberships + grants
	if repaired > 0 {
		log.Printf("reconciled orphan grants memberships=%d session_grants=%d", memberships, grants)
	}
	return repaired, nil
}
