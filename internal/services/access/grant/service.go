// Package grant implements grant lifecycle operations: joining and leaving
// resources, migrating anonymous session grants into memberships on login,
// and the session-to-account linkage on logout.
package grant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/platform/id"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// Store is the persistence surface the grant service mutates.
type Store interface {
	storage.PolicyStore
	storage.MembershipStore
	storage.SessionGrantStore
	storage.SessionInfoStore
}

// Service coordinates grant mutations. Mutations on the same session or
// grant key are serialized through a per-key mutex so read-modify-write
// sequences never interleave.
type Service struct {
	store Store
	hub   *notify.Hub
	keys  *kmutex.Kmutex

	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewService creates a grant service over the given store and hub.
func NewService(store Store, hub *notify.Hub) *Service {
	return &Service{
		store:       store,
		hub:         hub,
		keys:        kmutex.New(),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithIDGenerator overrides the id generator.
func (s *Service) WithIDGenerator(idGenerator func() (string, error)) *Service {
	s.idGenerator = idGenerator
	return s
}

func (s *Service) publish(change notify.Change) {
	if s.hub != nil {
		s.hub.Publish(change)
	}
}

// Join grants the identity entry to a resource. Authenticated identities
// receive a membership at the policy's public user role; anonymous sessions
// receive a session grant at the public guest role. It fails with NotFound
// when no policy exists, AlreadyJoined when a grant is already held, and
// AccessDenied when the policy sets no entry role for the identity class.
func (s *Service) Join(ctx context.Context, identity domain.Identity, resourceType, resourceID string) (role.Role, error) {
	identity = domain.NormalizeIdentity(identity)
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)

	key := joinKey(identity, resourceType, resourceID)
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	policy, err := s.store.GetPolicy(ctx, resourceType, resourceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return role.None, apperrors.Wrap(apperrors.CodeNotFound, "no access policy for resource", err)
		}
		return role.None, fmt.Errorf("load policy: %w", err)
	}

	joined, err := s.alreadyJoined(ctx, identity, resourceType, resourceID)
	if err != nil {
		return role.None, err
	}
	if joined {
		return role.None, apperrors.New(apperrors.CodeAlreadyJoined, "identity already joined this resource")
	}

	entryRole := domain.EntryRole(policy, identity.Authenticated())
	if entryRole == role.None {
		return role.None, apperrors.New(apperrors.CodeAccessDenied, "no entry role for this identity class")
	}

	if identity.Authenticated() {
		membership := domain.NewMembership(identity.AccountID, resourceType, resourceID, entryRole, s.clock)
		if err := s.store.PutMembership(ctx, membership); err != nil {
			return role.None, fmt.Errorf("create membership: %w", err)
		}
		s.publish(notify.Change{
			Table:        notify.TableMemberships,
			Key:          notify.KeyMembership(identity.AccountID, resourceType, resourceID),
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Op:           notify.OpPut,
		})
		return entryRole, nil
	}

	if identity.SessionID == "" {
		return role.None, apperrors.New(apperrors.CodeGrantSessionMissing, "anonymous join requires a session id")
	}
	info, err := s.GetOrCreateSessionInfo(ctx, identity.SessionID)
	if err != nil {
		return role.None, err
	}
	sessionGrant := domain.NewSessionGrant(resourceType, resourceID, identity.SessionID, entryRole, info.ID, s.clock)
	if err := s.store.PutSessionGrant(ctx, sessionGrant); err != nil {
		return role.None, fmt.Errorf("create session grant: %w", err)
	}
	s.publish(notify.Change{
		Table:        notify.TableSessionGrants,
		Key:          notify.KeySessionGrant(resourceType, resourceID, identity.SessionID),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Op:           notify.OpPut,
	})
	return entryRole, nil
}

// Leave removes the identity's grant on a resource, whichever kind is held.
// It fails with NotMember when no grant exists.
func (s *Service) Leave(ctx context.Context, identity domain.Identity, resourceType, resourceID string) error {
	identity = domain.NormalizeIdentity(identity)
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)

	key := joinKey(identity, resourceType, resourceID)
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	removed := false
	if identity.AccountID != "" {
		err := s.store.DeleteMembership(ctx, identity.AccountID, resourceType, resourceID)
		switch {
		case err == nil:
			removed = true
			s.publish(notify.Change{
				Table:        notify.TableMemberships,
				Key:          notify.KeyMembership(identity.AccountID, resourceType, resourceID),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Op:           notify.OpDelete,
			})
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fmt.Errorf("delete membership: %w", err)
		}
	}
	if identity.SessionID != "" {
		err := s.store.DeleteSessionGrant(ctx, resourceType, resourceID, identity.SessionID)
		switch {
		case err == nil:
			removed = true
			s.publish(notify.Change{
				Table:        notify.TableSessionGrants,
				Key:          notify.KeySessionGrant(resourceType, resourceID, identity.SessionID),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Op:           notify.OpDelete,
			})
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fmt.Errorf("delete session grant: %w", err)
		}
	}
	if !removed {
		return apperrors.New(apperrors.CodeNotMember, "identity holds no grant on this resource")
	}
	return nil
}

// MigrateOnLogin converts all of a session's grants into memberships for
// the account, each at the higher rank of the grant role and the resource's
// public user role, then removes the session grants and links the session's
// public info to the account. Running it again for a drained session is a
// no-op.
func (s *Service) MigrateOnLogin(ctx context.Context, accountID, sessionID string) error {
	if err := s.migrate(ctx, accountID, sessionID, true); err != nil {
		return err
	}
	return s.linkAccount(ctx, sessionID, accountID)
}

// MigrateOnRegisterStart mirrors MigrateOnLogin but keeps the session
// grants in place, for the provisional pre-confirmation registration flow.
func (s *Service) MigrateOnRegisterStart(ctx context.Context, accountID, sessionID string) error {
	if err := s.migrate(ctx, accountID, sessionID, false); err != nil {
		return err
	}
	return s.linkAccount(ctx, sessionID, accountID)
}

func (s *Service) migrate(ctx context.Context, accountID, sessionID string, removeGrants bool) error {
	accountID = strings.TrimSpace(accountID)
	sessionID = strings.TrimSpace(sessionID)
	if accountID == "" {
		return apperrors.New(apperrors.CodeGrantAccountMissing, "migration requires an account id")
	}
	if sessionID == "" {
		return apperrors.New(apperrors.CodeGrantSessionMissing, "migration requires a session id")
	}

	key := "session/" + sessionID
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	grants, err := s.store.ListSessionGrantsBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list session grants: %w", err)
	}

	for _, sessionGrant := range grants {
		migratedRole := sessionGrant.Role
		policy, err := s.store.GetPolicy(ctx, sessionGrant.ResourceType, sessionGrant.ResourceID)
		switch {
		case err == nil:
			migratedRole = domain.MigratedRole(policy, sessionGrant)
		case errors.Is(err, storage.ErrNotFound):
			// Orphan grant; migrate at its own role and let the sweep
			// clean up later.
			log.Printf("migrate found orphan grant resource=%s/%s session=%s", sessionGrant.ResourceType, sessionGrant.ResourceID, sessionID)
		default:
			return fmt.Errorf("load policy: %w", err)
		}

		existing, err := s.store.GetMembership(ctx, accountID, sessionGrant.ResourceType, sessionGrant.ResourceID)
		switch {
		case err == nil:
			migratedRole = role.Combine(existing.Role, migratedRole)
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fmt.Errorf("load membership: %w", err)
		}

		membership := domain.NewMembership(accountID, sessionGrant.ResourceType, sessionGrant.ResourceID, migratedRole, s.clock)
		if err := s.store.PutMembership(ctx, membership); err != nil {
			return fmt.Errorf("create membership: %w", err)
		}
		s.publish(notify.Change{
			Table:        notify.TableMemberships,
			Key:          notify.KeyMembership(accountID, sessionGrant.ResourceType, sessionGrant.ResourceID),
			ResourceType: sessionGrant.ResourceType,
			ResourceID:   sessionGrant.ResourceID,
			Op:           notify.OpPut,
		})

		if !removeGrants {
			continue
		}
		if err := s.store.DeleteSessionGrant(ctx, sessionGrant.ResourceType, sessionGrant.ResourceID, sessionGrant.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete migrated session grant: %w", err)
		}
		s.publish(notify.Change{
			Table:        notify.TableSessionGrants,
			Key:          notify.KeySessionGrant(sessionGrant.ResourceType, sessionGrant.ResourceID, sessionGrant.SessionID),
			ResourceType: sessionGrant.ResourceType,
			ResourceID:   sessionGrant.ResourceID,
			Op:           notify.OpDelete,
		})
	}
	return nil
}

// Logout clears the account link on the session's public info. Sessions
// without a public info record are left untouched.
func (s *Service) Logout(ctx context.Context, accountID, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.New(apperrors.CodeGrantSessionMissing, "logout requires a session id")
	}

	key := "session/" + sessionID
	s.keys.Lock(key)
	defer s.keys.Unlock(key)

	info, err := s.store.GetSessionInfo(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session info: %w", err)
	}
	if info.AccountID == "" {
		return nil
	}
	info.AccountID = ""
	info.UpdatedAt = s.clock().UTC()
	if err := s.store.PutSessionInfo(ctx, info); err != nil {
		return fmt.Errorf("update session info: %w", err)
	}
	s.publish(notify.Change{
		Table: notify.TableSessionInfos,
		Key:   notify.KeySessionInfo(sessionID),
		Op:    notify.OpPut,
	})
	return nil
}

// GetOrCreateSessionInfo resolves the public info record for a session,
// creating it on first use. Records are never deleted once created.
func (s *Service) GetOrCreateSessionInfo(ctx context.Context, sessionID string) (domain.PublicSessionInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.PublicSessionInfo{}, apperrors.New(apperrors.CodeGrantSessionMissing, "session id is required")
	}

	info, err := s.store.GetSessionInfo(ctx, sessionID)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.PublicSessionInfo{}, fmt.Errorf("load session info: %w", err)
	}

	info, err = domain.NewPublicSessionInfo(sessionID, s.clock, s.idGenerator)
	if err != nil {
		return domain.PublicSessionInfo{}, err
	}
	if err := s.store.PutSessionInfo(ctx, info); err != nil {
		return domain.PublicSessionInfo{}, fmt.Errorf("create session info: %w", err)
	}
	s.publish(notify.Change{
		Table: notify.TableSessionInfos,
		Key:   notify.KeySessionInfo(sessionID),
		Op:    notify.OpPut,
	})
	return info, nil
}

func (s *Service) linkAccount(ctx context.Context, sessionID, accountID string) error {
	info, err := s.store.GetSessionInfo(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session info: %w", err)
	}
	if info.AccountID == accountID {
		return nil
	}
	info.AccountID = accountID
	info.UpdatedAt = s.clock().UTC()
	if err := s.store.PutSessionInfo(ctx, info); err != nil {
		return fmt.Errorf("link session info account: %w", err)
	}
	s.publish(notify.Change{
		Table: notify.TableSessionInfos,
		Key:   notify.KeySessionInfo(info.SessionID),
		Op:    notify.OpPut,
	})
	return nil
}

func joinKey(identity domain.Identity, resourceType, resourceID string) string {
	if identity.Authenticated() {
		return "membership/" + identity.AccountID + "/" + resourceType + "/" + resourceID
	}
	return "grant/" + resourceType + "/" + resourceID + "/" + identity.SessionID
}

func (s *Service) alreadyJoined(ctx context.Context, identity domain.Identity, resourceType, resourceID string) (bool, error) {
	if identity.AccountID != "" {
		_, err := s.store.GetMembership(ctx, identity.AccountID, resourceType, resourceID)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, storage.ErrNotFound):
		default:
			return false, fmt.Errorf("check membership: %w", err)
		}
	}
	if identity.SessionID != "" {
		_, err := s.store.GetSessionGrant(ctx, resourceType, resourceID, identity.SessionID)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, storage.ErrNotFound):
		default:
			return false, fmt.Errorf("check session grant: %w", err)
		}
	}
	return false, nil
}
