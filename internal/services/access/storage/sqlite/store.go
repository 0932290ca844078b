// Package sqlite provides a SQLite-backed access storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/gathering.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
	"github.com/louisbranch/gathering.space/internal/services/access/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
)

// Store persists access-control state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Presence timestamps use 0 for "never online".
func toMillisOrZero(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return toMillis(value)
}

func fromMillisOrZero(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return fromMillis(value)
}

// Open opens a SQLite access store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		// SQLITE_CONSTRAINT_PRIMARYKEY / SQLITE_CONSTRAINT_UNIQUE
		code := sqliteErr.Code()
		return code == 1555 || code == 2067
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreatePolicy inserts one access policy row. A second policy for the same
// resource fails with storage.ErrAlreadyExists.
func (s *Store) CreatePolicy(ctx context.Context, policy domain.AccessPolicy) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	resourceType := strings.TrimSpace(policy.ResourceType)
	resourceID := strings.TrimSpace(policy.ResourceID)
	if resourceType == "" || resourceID == "" {
		return fmt.Errorf("resource type and id are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO access_policies (resource_type, resource_id, public_guest_role, public_user_role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		resourceType,
		resourceID,
		string(policy.PublicGuestRole),
		string(policy.PublicUserRole),
		toMillis(policy.CreatedAt),
		toMillis(policy.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

// GetPolicy returns the policy for one resource.
func (s *Store) GetPolicy(ctx context.Context, resourceType, resourceID string) (domain.AccessPolicy, error) {
	if err := s.ready(ctx); err != nil {
		return domain.AccessPolicy{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT resource_type, resource_id, public_guest_role, public_user_role, created_at, updated_at
		 FROM access_policies
		 WHERE resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	return scanPolicy(row)
}

// DeletePolicy removes the policy row for one resource.
func (s *Store) DeletePolicy(ctx context.Context, resourceType, resourceID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM access_policies WHERE resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete policy rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func roleFromColumn(value string) role.Role {
	return role.Role(value)
}

func scanPolicy(row rowScanner) (domain.AccessPolicy, error) {
	var policy domain.AccessPolicy
	var guestRole, userRole string
	var createdAt, updatedAt int64
	err := row.Scan(&policy.ResourceType, &policy.ResourceID, &guestRole, &userRole, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AccessPolicy{}, storage.ErrNotFound
		}
		return domain.AccessPolicy{}, fmt.Errorf("scan policy: %w", err)
	}
	policy.PublicGuestRole = roleFromColumn(guestRole)
	policy.PublicUserRole = roleFromColumn(userRole)
	policy.CreatedAt = fromMillis(createdAt)
	policy.UpdatedAt = fromMillis(updatedAt)
	return policy, nil
}
