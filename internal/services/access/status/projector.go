// Package status maintains live effective-status views. A subscription
// watches the policy, membership and session grant backing one
// (identity, resource) pair and re-emits the combined status whenever a
// recomputation yields a different value.
package status

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// Store is the read surface the projector computes from.
type Store interface {
	storage.PolicyStore
	storage.MembershipStore
	storage.SessionGrantStore
}

// Projector computes effective statuses and serves live subscriptions.
type Projector struct {
	store Store
	hub   *notify.Hub
}

// NewProjector creates a projector over the given store and change hub.
func NewProjector(store Store, hub *notify.Hub) *Projector {
	return &Projector{store: store, hub: hub}
}

// Compute resolves the current effective status for an identity on a
// resource. Missing policy or grants are treated as absent sources, not
// errors.
func (p *Projector) Compute(ctx context.Context, identity domain.Identity, resourceType, resourceID string) (domain.EffectiveStatus, error) {
	identity = domain.NormalizeIdentity(identity)

	var policy *domain.AccessPolicy
	loaded, err := p.store.GetPolicy(ctx, resourceType, resourceID)
	switch {
	case err == nil:
		policy = &loaded
	case errors.Is(err, storage.ErrNotFound):
	default:
		return domain.EffectiveStatus{}, fmt.Errorf("load policy: %w", err)
	}

	var membership *domain.Membership
	if identity.AccountID != "" {
		record, err := p.store.GetMembership(ctx, identity.AccountID, resourceType, resourceID)
		switch {
		case err == nil:
			membership = &record
		case errors.Is(err, storage.ErrNotFound):
		default:
			return domain.EffectiveStatus{}, fmt.Errorf("load membership: %w", err)
		}
	}

	var sessionGrant *domain.SessionGrant
	if identity.SessionID != "" {
		record, err := p.store.GetSessionGrant(ctx, resourceType, resourceID, identity.SessionID)
		switch {
		case err == nil:
			sessionGrant = &record
		case errors.Is(err, storage.ErrNotFound):
		default:
			return domain.EffectiveStatus{}, fmt.Errorf("load session grant: %w", err)
		}
	}

	return domain.ComputeStatus(policy, membership, sessionGrant, identity), nil
}

// Subscribe starts a live status view for an identity on a resource. The
// current status is emitted first; afterwards a new value is emitted only
// when a recomputation differs from the last emitted one. The subscription
// ends when Close is called or ctx is cancelled.
func (p *Projector) Subscribe(ctx context.Context, identity domain.Identity, resourceType, resourceID string) *Subscription {
	identity = domain.NormalizeIdentity(identity)

	topics := []string{
		notify.TopicKey(notify.TablePolicies, notify.KeyPolicy(resourceType, resourceID)),
	}
	if identity.AccountID != "" {
		topics = append(topics, notify.TopicKey(notify.TableMemberships, notify.KeyMembership(identity.AccountID, resourceType, resourceID)))
	}
	if identity.SessionID != "" {
		topics = append(topics, notify.TopicKey(notify.TableSessionGrants, notify.KeySessionGrant(resourceType, resourceID, identity.SessionID)))
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		updates: make(chan domain.EffectiveStatus, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	changes := p.hub.Subscribe(topics...)

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer changes.Close()

		emitted := false
		var last domain.EffectiveStatus
		recompute := func() {
			current, err := p.Compute(subCtx, identity, resourceType, resourceID)
			if err != nil {
				if subCtx.Err() == nil {
					log.Printf("status recompute failed resource=%s/%s err=%v", resourceType, resourceID, err)
				}
				return
			}
			if emitted && current == last {
				return
			}
			select {
			case sub.updates <- current:
				emitted = true
				last = current
			case <-subCtx.Done():
			}
		}

		recompute()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-changes.C():
				if !ok {
					return
				}
				recompute()
			}
		}
	}()

	return sub
}

// Subscription is a live effective-status feed for one (identity, resource)
// pair.
type Subscription struct {
	updates chan domain.EffectiveStatus
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
}

// Updates returns the status channel. It delivers the initial status and
// then only genuine changes, and is closed when the subscription ends.
func (s *Subscription) Updates() <-chan domain.EffectiveStatus {
	return s.updates
}

// Close stops the subscription. It is idempotent and returns once the
// worker has exited.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
	})
	<-s.done
}
