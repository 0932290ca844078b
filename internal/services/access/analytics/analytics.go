// Package analytics records presence activity events. Emission is best
// effort: a failing sink never blocks or fails the operation that
// produced the event.
package analytics

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// Event types emitted by the presence tracker.
const (
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
	EventSessionOnline   = "session.online"
	EventSessionOffline  = "session.offline"
)

// Emitter appends presence events to an analytics store.
type Emitter struct {
	store storage.AnalyticsStore
	clock func() time.Time
}

// NewEmitter creates an emitter backed by the given store.
func NewEmitter(store storage.AnalyticsStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// WithClock overrides the emitter clock.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Presence records a presence change for a subject on a resource.
// Failures are logged and swallowed; emission must not disturb the
// presence transition that produced the change.
func (e *Emitter) Presence(ctx context.Context, eventType string, kind domain.SubjectKind, subjectID, resourceType, resourceID string, change domain.PresenceChange) {
	if e == nil || e.store == nil {
		return
	}
	event := storage.AnalyticsEvent{
		Type:         eventType,
		SubjectKind:  string(kind),
		SubjectID:    subjectID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    change.At,
		Duration:     change.Duration,
		HasDuration:  change.HasDuration,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clock().UTC()
	}
	if err := e.store.AppendAnalyticsEvent(ctx, event); err != nil {
		log.Printf("analytics append failed type=%s subject=%s err=%v", eventType, subjectID, err)
	}
}
