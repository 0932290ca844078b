package domain

import (
	"time"
)

// SubjectKind identifies the kind of subject a presence record tracks.
type SubjectKind string

const (
	// SubjectSession tracks an anonymous session.
	SubjectSession SubjectKind = "session"
	// SubjectAccount tracks an authenticated account.
	SubjectAccount SubjectKind = "account"
)

// PresenceRecord tracks the online state of one subject against one
// resource. One record exists per (SubjectKind, SubjectID, ResourceType,
// ResourceID) actively tracked.
type PresenceRecord struct {
	SubjectKind  SubjectKind
	SubjectID    string
	ResourceType string
	ResourceID   string
	Online       bool
	LastOnlineAt time.Time
}

// PresenceChange records one observed state transition. Duration is the time
// spent in the previous state; HasDuration is false when the record had no
// prior timestamp.
type PresenceChange struct {
	Online      bool
	At          time.Time
	Duration    time.Duration
	HasDuration bool
}

// GoOnline transitions the record to online. A record that is already online
// is returned unchanged with a nil change: the transition is idempotent and
// must not produce duplicate analytics.
func GoOnline(record PresenceRecord, now time.Time) (PresenceRecord, *PresenceChange) {
	if record.Online {
		return record, nil
	}
	online, lastOnlineAt, change := markPresence(record.LastOnlineAt, true, now)
	record.Online = online
	record.LastOnlineAt = lastOnlineAt
	return record, change
}

// GoOffline transitions the record to offline. A record that is already
// offline is returned unchanged with a nil change.
func GoOffline(record PresenceRecord, now time.Time) (PresenceRecord, *PresenceChange) {
	if !record.Online {
		return record, nil
	}
	online, lastOnlineAt, change := markPresence(record.LastOnlineAt, false, now)
	record.Online = online
	record.LastOnlineAt = lastOnlineAt
	return record, change
}

// SessionGoOnline applies the online transition to a session's public info
// with the same suppress-duplicate, compute-duration discipline.
func SessionGoOnline(info PublicSessionInfo, now time.Time) (PublicSessionInfo, *PresenceChange) {
	if info.Online {
		return info, nil
	}
	online, lastOnlineAt, change := markPresence(info.LastOnlineAt, true, now)
	info.Online = online
	info.LastOnlineAt = lastOnlineAt
	info.UpdatedAt = change.At
	return info, change
}

// SessionGoOffline applies the offline transition to a session's public info.
func SessionGoOffline(info PublicSessionInfo, now time.Time) (PublicSessionInfo, *PresenceChange) {
	if !info.Online {
		return info, nil
	}
	online, lastOnlineAt, change := markPresence(info.LastOnlineAt, false, now)
	info.Online = online
	info.LastOnlineAt = lastOnlineAt
	info.UpdatedAt = change.At
	return info, change
}

// markPresence stamps a state flip. The previous timestamp yields the
// duration spent in the prior state; a zero timestamp means the subject was
// never seen before and the duration is absent.
func markPresence(lastOnlineAt time.Time, toOnline bool, now time.Time) (bool, time.Time, *PresenceChange) {
	at := now.UTC()
	change := &PresenceChange{Online: toOnline, At: at}
	if !lastOnlineAt.IsZero() {
		change.Duration = at.Sub(lastOnlineAt)
		change.HasDuration = true
	}
	return toOnline, at, change
}
