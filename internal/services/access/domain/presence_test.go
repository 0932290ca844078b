package domain

import (
	"testing"
	"time"
)

func TestGoOnlineFromNewRecord(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	record := PresenceRecord{SubjectKind: SubjectSession, SubjectID: "s1", ResourceType: "room", ResourceID: "1"}

	next, change := GoOnline(record, now)
	if !next.Online {
		t.Fatal("expected record to be online")
	}
	if !next.LastOnlineAt.Equal(now) {
		t.Fatalf("last online = %v, want %v", next.LastOnlineAt, now)
	}
	if change == nil {
		t.Fatal("expected a presence change")
	}
	if !change.Online || !change.At.Equal(now) {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.HasDuration {
		t.Fatal("expected no duration on first transition")
	}
}

func TestGoOnlineIsIdempotent(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	record := PresenceRecord{SubjectKind: SubjectAccount, SubjectID: "u1", ResourceType: "room", ResourceID: "1"}

	record, first := GoOnline(record, now)
	if first == nil {
		t.Fatal("expected first transition to emit a change")
	}
	later := now.Add(time.Minute)
	next, second := GoOnline(record, later)
	if second != nil {
		t.Fatal("expected duplicate goOnline to be a no-op")
	}
	if !next.LastOnlineAt.Equal(now) {
		t.Fatal("expected duplicate goOnline not to touch the timestamp")
	}
}

func TestOnlineOfflinePairComputesDurations(t *testing.T) {
	start := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	record := PresenceRecord{SubjectKind: SubjectSession, SubjectID: "s1", ResourceType: "room", ResourceID: "1"}

	record, _ = GoOnline(record, start)
	end := start.Add(42 * time.Second)
	record, offline := GoOffline(record, end)
	if offline == nil {
		t.Fatal("expected offline change")
	}
	if offline.Online {
		t.Fatal("expected change to record the offline state")
	}
	if !offline.HasDuration || offline.Duration != 42*time.Second {
		t.Fatalf("online duration = %v (has=%v), want 42s", offline.Duration, offline.HasDuration)
	}

	// Immediate reconnect reports a zero offline duration.
	record, online := GoOnline(record, end)
	if online == nil {
		t.Fatal("expected online change")
	}
	if !online.HasDuration || online.Duration != 0 {
		t.Fatalf("offline duration = %v (has=%v), want 0s", online.Duration, online.HasDuration)
	}
	if !record.Online {
		t.Fatal("expected record to be online again")
	}
}

func TestGoOfflineOnOfflineRecordIsNoop(t *testing.T) {
	record := PresenceRecord{SubjectKind: SubjectSession, SubjectID: "s1", ResourceType: "room", ResourceID: "1"}
	next, change := GoOffline(record, time.Now())
	if change != nil {
		t.Fatal("expected no change for an already-offline record")
	}
	if next.Online || !next.LastOnlineAt.IsZero() {
		t.Fatalf("unexpected mutation: %+v", next)
	}
}

func TestSessionPresenceTransitions(t *testing.T) {
	start := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	info := PublicSessionInfo{ID: "p1", SessionID: "s1"}

	info, change := SessionGoOnline(info, start)
	if change == nil || change.HasDuration {
		t.Fatalf("expected first online change without duration, got %+v", change)
	}
	if !info.Online || !info.LastOnlineAt.Equal(start) {
		t.Fatalf("unexpected info state: %+v", info)
	}

	if _, dup := SessionGoOnline(info, start.Add(time.Second)); dup != nil {
		t.Fatal("expected duplicate session online to be suppressed")
	}

	end := start.Add(5 * time.Minute)
	info, change = SessionGoOffline(info, end)
	if change == nil || !change.HasDuration || change.Duration != 5*time.Minute {
		t.Fatalf("expected 5m online duration, got %+v", change)
	}
	if info.Online {
		t.Fatal("expected info to be offline")
	}

	if _, dup := SessionGoOffline(info, end.Add(time.Second)); dup != nil {
		t.Fatal("expected duplicate session offline to be suppressed")
	}
}
