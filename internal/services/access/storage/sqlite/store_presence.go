package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// PutSessionInfo upserts one public session info row keyed by id.
func (s *Store) PutSessionInfo(ctx context.Context, info domain.PublicSessionInfo) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	infoID := strings.TrimSpace(info.ID)
	sessionID := strings.TrimSpace(info.SessionID)
	if infoID == "" {
		return fmt.Errorf("session info id is required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO session_infos (id, session_id, account_id, online, last_online_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_id = excluded.account_id,
		   online = excluded.online,
		   last_online_at = excluded.last_online_at,
		   updated_at = excluded.updated_at`,
		infoID,
		sessionID,
		strings.TrimSpace(info.AccountID),
		boolToColumn(info.Online),
		toMillisOrZero(info.LastOnlineAt),
		toMillis(info.CreatedAt),
		toMillis(info.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session info: %w", err)
	}
	return nil
}

// GetSessionInfo returns the session info row for one session.
func (s *Store) GetSessionInfo(ctx context.Context, sessionID string) (domain.PublicSessionInfo, error) {
	if err := s.ready(ctx); err != nil {
		return domain.PublicSessionInfo{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, account_id, online, last_online_at, created_at, updated_at
		 FROM session_infos
		 WHERE session_id = ?`,
		strings.TrimSpace(sessionID),
	)
	return scanSessionInfo(row)
}

// GetSessionInfoByID returns one session info row by its public id.
func (s *Store) GetSessionInfoByID(ctx context.Context, infoID string) (domain.PublicSessionInfo, error) {
	if err := s.ready(ctx); err != nil {
		return domain.PublicSessionInfo{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, account_id, online, last_online_at, created_at, updated_at
		 FROM session_infos
		 WHERE id = ?`,
		strings.TrimSpace(infoID),
	)
	return scanSessionInfo(row)
}

// ListOnlineSessionInfos returns every session info row with online = true.
func (s *Store) ListOnlineSessionInfos(ctx context.Context) ([]domain.PublicSessionInfo, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, session_id, account_id, online, last_online_at, created_at, updated_at
		 FROM session_infos
		 WHERE online = 1
		 ORDER BY session_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list online session infos: %w", err)
	}
	defer rows.Close()

	var infos []domain.PublicSessionInfo
	for rows.Next() {
		info, err := scanSessionInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session infos: %w", err)
	}
	return infos, nil
}

// PutPresence upserts one presence row.
func (s *Store) PutPresence(ctx context.Context, record domain.PresenceRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	subjectID := strings.TrimSpace(record.SubjectID)
	resourceType := strings.TrimSpace(record.ResourceType)
	resourceID := strings.TrimSpace(record.ResourceID)
	if record.SubjectKind != domain.SubjectSession && record.SubjectKind != domain.SubjectAccount {
		return fmt.Errorf("subject kind is invalid")
	}
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if resourceType == "" || resourceID == "" {
		return fmt.Errorf("resource type and id are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO presence_records (subject_kind, subject_id, resource_type, resource_id, online, last_online_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_kind, subject_id, resource_type, resource_id) DO UPDATE SET
		   online = excluded.online,
		   last_online_at = excluded.last_online_at`,
		string(record.SubjectKind),
		subjectID,
		resourceType,
		resourceID,
		boolToColumn(record.Online),
		toMillisOrZero(record.LastOnlineAt),
	)
	if err != nil {
		return fmt.Errorf("put presence: %w", err)
	}
	return nil
}

// GetPresence returns one presence row.
func (s *Store) GetPresence(ctx context.Context, kind domain.SubjectKind, subjectID, resourceType, resourceID string) (domain.PresenceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return domain.PresenceRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT subject_kind, subject_id, resource_type, resource_id, online, last_online_at
		 FROM presence_records
		 WHERE subject_kind = ? AND subject_id = ? AND resource_type = ? AND resource_id = ?`,
		string(kind),
		strings.TrimSpace(subjectID),
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	return scanPresence(row)
}

// ListOnlinePresence returns every presence row with online = true.
func (s *Store) ListOnlinePresence(ctx context.Context) ([]domain.PresenceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT subject_kind, subject_id, resource_type, resource_id, online, last_online_at
		 FROM presence_records
		 WHERE online = 1
		 ORDER BY subject_kind, subject_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list online presence: %w", err)
	}
	defer rows.Close()
	return collectPresence(rows)
}

// ListOnlinePresenceByResource returns the online presence rows for one resource.
func (s *Store) ListOnlinePresenceByResource(ctx context.Context, resourceType, resourceID string) ([]domain.PresenceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT subject_kind, subject_id, resource_type, resource_id, online, last_online_at
		 FROM presence_records
		 WHERE resource_type = ? AND resource_id = ? AND online = 1
		 ORDER BY subject_kind, subject_id`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list online presence by resource: %w", err)
	}
	defer rows.Close()
	return collectPresence(rows)
}

// AppendAnalyticsEvent persists one analytics event row.
func (s *Store) AppendAnalyticsEvent(ctx context.Context, event storage.AnalyticsEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(event.Type) == "" {
		return fmt.Errorf("event type is required")
	}
	var durationMillis sql.NullInt64
	if event.HasDuration {
		durationMillis = sql.NullInt64{Int64: event.Duration.Milliseconds(), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO analytics_events (type, subject_kind, subject_id, resource_type, resource_id, timestamp, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.Type,
		event.SubjectKind,
		event.SubjectID,
		event.ResourceType,
		event.ResourceID,
		toMillis(event.Timestamp),
		durationMillis,
	)
	if err != nil {
		return fmt.Errorf("append analytics event: %w", err)
	}
	return nil
}

// ListAnalyticsEvents returns stored events ordered by insertion, for tests
// and offline inspection.
func (s *Store) ListAnalyticsEvents(ctx context.Context) ([]storage.AnalyticsEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT type, subject_kind, subject_id, resource_type, resource_id, timestamp, duration_ms
		 FROM analytics_events
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list analytics events: %w", err)
	}
	defer rows.Close()

	var events []storage.AnalyticsEvent
	for rows.Next() {
		var event storage.AnalyticsEvent
		var timestamp int64
		var durationMillis sql.NullInt64
		if err := rows.Scan(&event.Type, &event.SubjectKind, &event.SubjectID, &event.ResourceType, &event.ResourceID, &timestamp, &durationMillis); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		event.Timestamp = fromMillis(timestamp)
		if durationMillis.Valid {
			event.Duration = time.Duration(durationMillis.Int64) * time.Millisecond
			event.HasDuration = true
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analytics events: %w", err)
	}
	return events, nil
}

func boolToColumn(value bool) int {
	if value {
		return 1
	}
	return 0
}

func scanSessionInfo(row rowScanner) (domain.PublicSessionInfo, error) {
	var info domain.PublicSessionInfo
	var online int
	var lastOnlineAt, createdAt, updatedAt int64
	err := row.Scan(&info.ID, &info.SessionID, &info.AccountID, &online, &lastOnlineAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PublicSessionInfo{}, storage.ErrNotFound
		}
		return domain.PublicSessionInfo{}, fmt.Errorf("scan session info: %w", err)
	}
	info.Online = online == 1
	info.LastOnlineAt = fromMillisOrZero(lastOnlineAt)
	info.CreatedAt = fromMillis(createdAt)
	info.UpdatedAt = fromMillis(updatedAt)
	return info, nil
}

func scanPresence(row rowScanner) (domain.PresenceRecord, error) {
	var record domain.PresenceRecord
	var kind string
	var online int
	var lastOnlineAt int64
	err := row.Scan(&kind, &record.SubjectID, &record.ResourceType, &record.ResourceID, &online, &lastOnlineAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PresenceRecord{}, storage.ErrNotFound
		}
		return domain.PresenceRecord{}, fmt.Errorf("scan presence: %w", err)
	}
	record.SubjectKind = domain.SubjectKind(kind)
	record.Online = online == 1
	record.LastOnlineAt = fromMillisOrZero(lastOnlineAt)
	return record, nil
}

func collectPresence(rows *sql.Rows) ([]domain.PresenceRecord, error) {
	var records []domain.PresenceRecord
	for rows.Next() {
		record, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence records: %w", err)
	}
	return records, nil
}
