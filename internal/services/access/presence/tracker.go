// Package presence converts raw online/offline signals into deduplicated
// state transitions and duration-bearing analytics events. Transitions on
// the same record key are serialized through a per-key mutex so the
// read-compare-write never interleaves with a concurrent signal or with the
// bulk offline sweep.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/services/access/analytics"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// Store is the persistence surface the tracker mutates.
type Store interface {
	storage.PresenceStore
	storage.SessionInfoStore
}

// Tracker maintains online/offline state per (subject, resource) key and
// session-global presence on PublicSessionInfo.
type Tracker struct {
	store   Store
	emitter *analytics.Emitter
	hub     *notify.Hub
	keys    *kmutex.Kmutex
	clock   func() time.Time
}

// NewTracker creates a presence tracker.
func NewTracker(store Store, emitter *analytics.Emitter, hub *notify.Hub) *Tracker {
	return &Tracker{
		store:   store,
		emitter: emitter,
		hub:     hub,
		keys:    kmutex.New(),
		clock:   time.Now,
	}
}

// WithClock overrides the tracker clock.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

func (t *Tracker) publish(change notify.Change) {
	if t.hub != nil {
		t.hub.Publish(change)
	}
}

func presenceKey(kind domain.SubjectKind, subjectID, resourceType, resourceID string) string {
	return "presence/" + string(kind) + "/" + subjectID + "/" + resourceType + "/" + resourceID
}

func validateSubject(kind domain.SubjectKind, subjectID string) error {
	if kind != domain.SubjectSession && kind != domain.SubjectAccount {
		return apperrors.New(apperrors.CodePresenceInvalidSubject, "subject kind must be session or account")
	}
	if strings.TrimSpace(subjectID) == "" {
		return apperrors.New(apperrors.CodePresenceInvalidSubject, "subject id is required")
	}
	return nil
}

// ResourceOnline marks a subject online against a resource. A subject that
// is already online is left untouched and no analytics event is emitted.
func (t *Tracker) ResourceOnline(ctx context.Context, kind domain.SubjectKind, subjectID, resourceType, resourceID string) error {
	return t.resourceTransition(ctx, kind, subjectID, resourceType, resourceID, true)
}

// ResourceOffline marks a subject offline against a resource.
func (t *Tracker) ResourceOffline(ctx context.Context, kind domain.SubjectKind, subjectID, resourceType, resourceID string) error {
	return t.resourceTransition(ctx, kind, subjectID, resourceType, resourceID, false)
}

func (t *Tracker) resourceTransition(ctx context.Context, kind domain.SubjectKind, subjectID, resourceType, resourceID string, toOnline bool) error {
	if err := validateSubject(kind, subjectID); err != nil {
		return err
	}
	subjectID = strings.TrimSpace(subjectID)
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)

	key := presenceKey(kind, subjectID, resourceType, resourceID)
	t.keys.Lock(key)
	defer t.keys.Unlock(key)

	record, err := t.store.GetPresence(ctx, kind, subjectID, resourceType, resourceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load presence record: %w", err)
		}
		record = domain.PresenceRecord{
			SubjectKind:  kind,
			SubjectID:    subjectID,
			ResourceType: resourceType,
			ResourceID:   resourceID,
		}
	}

	var change *domain.PresenceChange
	if toOnline {
		record, change = domain.GoOnline(record, t.clock())
	} else {
		record, change = domain.GoOffline(record, t.clock())
	}
	if change == nil {
		return nil
	}

	if err := t.store.PutPresence(ctx, record); err != nil {
		return fmt.Errorf("store presence record: %w", err)
	}
	t.publish(notify.Change{
		Table:        notify.TablePresence,
		Key:          key,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Op:           notify.OpPut,
	})
	t.emitter.Presence(ctx, eventType(toOnline), kind, subjectID, resourceType, resourceID, *change)
	return nil
}

// SessionOnline marks the session's global presence online.
func (t *Tracker) SessionOnline(ctx context.Context, sessionID string) error {
	return t.sessionTransition(ctx, sessionID, true)
}

// SessionOffline marks the session's global presence offline.
func (t *Tracker) SessionOffline(ctx context.Context, sessionID string) error {
	return t.sessionTransition(ctx, sessionID, false)
}

func (t *Tracker) sessionTransition(ctx context.Context, sessionID string, toOnline bool) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return apperrors.New(apperrors.CodePresenceInvalidSubject, "session id is required")
	}

	key := "session/" + sessionID
	t.keys.Lock(key)
	defer t.keys.Unlock(key)

	info, err := t.store.GetSessionInfo(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load session info: %w", err)
		}
		// A signal for a session never seen before still creates its
		// public info; going offline without prior state is a no-op.
		if !toOnline {
			return nil
		}
		info, err = domain.NewPublicSessionInfo(sessionID, t.clock, nil)
		if err != nil {
			return err
		}
	}

	var change *domain.PresenceChange
	if toOnline {
		info, change = domain.SessionGoOnline(info, t.clock())
	} else {
		info, change = domain.SessionGoOffline(info, t.clock())
	}
	if change == nil {
		return nil
	}

	if err := t.store.PutSessionInfo(ctx, info); err != nil {
		return fmt.Errorf("store session info: %w", err)
	}
	t.publish(notify.Change{
		Table: notify.TableSessionInfos,
		Key:   notify.KeySessionInfo(sessionID),
		Op:    notify.OpPut,
	})
	t.emitter.Presence(ctx, sessionEventType(toOnline), domain.SubjectSession, sessionID, "", "", *change)
	return nil
}

// ForceAllOffline sweeps every online presence record and session info to
// offline, each with its own duration. The guard re-read under the per-key
// lock skips records that a concurrent signal already flipped, so no
// transition is double-recorded.
func (t *Tracker) ForceAllOffline(ctx context.Context) (int, error) {
	records, err := t.store.ListOnlinePresence(ctx)
	if err != nil {
		return 0, fmt.Errorf("list online presence: %w", err)
	}

	swept := 0
	for _, record := range records {
		key := presenceKey(record.SubjectKind, record.SubjectID, record.ResourceType, record.ResourceID)
		t.keys.Lock(key)
		current, err := t.store.GetPresence(ctx, record.SubjectKind, record.SubjectID, record.ResourceType, record.ResourceID)
		if err != nil {
			t.keys.Unlock(key)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return swept, fmt.Errorf("re-read presence record: %w", err)
		}
		current, change := domain.GoOffline(current, t.clock())
		if change == nil {
			t.keys.Unlock(key)
			continue
		}
		if err := t.store.PutPresence(ctx, current); err != nil {
			t.keys.Unlock(key)
			return swept, fmt.Errorf("store presence record: %w", err)
		}
		t.keys.Unlock(key)

		swept++
		t.publish(notify.Change{
			Table:        notify.TablePresence,
			Key:          key,
			ResourceType: current.ResourceType,
			ResourceID:   current.ResourceID,
			Op:           notify.OpPut,
		})
		t.emitter.Presence(ctx, analytics.EventPresenceOffline, current.SubjectKind, current.SubjectID, current.ResourceType, current.ResourceID, *change)
	}

	infos, err := t.store.ListOnlineSessionInfos(ctx)
	if err != nil {
		return swept, fmt.Errorf("list online session infos: %w", err)
	}
	for _, info := range infos {
		if err := t.SessionOffline(ctx, info.SessionID); err != nil {
			return swept, err
		}
		swept++
	}

	if swept > 0 {
		log.Printf("forced all offline records=%d", swept)
	}
	return swept, nil
}

func eventType(toOnline bool) string {
	if toOnline {
		return analytics.EventPresenceOnline
	}
	return analytics.EventPresenceOffline
}

func sessionEventType(toOnline bool) string {
	if toOnline {
		return analytics.EventSessionOnline
	}
	return analytics.EventSessionOffline
}
