package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
)

// PutMembership upserts one membership row.
func (s *Store) PutMembership(ctx context.Context, membership domain.Membership) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	accountID := strings.TrimSpace(membership.AccountID)
	resourceType := strings.TrimSpace(membership.ResourceType)
	resourceID := strings.TrimSpace(membership.ResourceID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if resourceType == "" || resourceID == "" {
		return fmt.Errorf("resource type and id are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO memberships (account_id, resource_type, resource_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, resource_type, resource_id) DO UPDATE SET
		   role = excluded.role,
		   updated_at = excluded.updated_at`,
		accountID,
		resourceType,
		resourceID,
		string(membership.Role),
		toMillis(membership.CreatedAt),
		toMillis(membership.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put membership: %w", err)
	}
	return nil
}

// GetMembership returns one membership row.
func (s *Store) GetMembership(ctx context.Context, accountID, resourceType, resourceID string) (domain.Membership, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Membership{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT account_id, resource_type, resource_id, role, created_at, updated_at
		 FROM memberships
		 WHERE account_id = ? AND resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(accountID),
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	return scanMembership(row)
}

// DeleteMembership removes one membership row.
func (s *Store) DeleteMembership(ctx context.Context, accountID, resourceType, resourceID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM memberships WHERE account_id = ? AND resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(accountID),
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete membership rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMembershipsByResource returns every membership for one resource.
func (s *Store) ListMembershipsByResource(ctx context.Context, resourceType, resourceID string) ([]domain.Membership, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT account_id, resource_type, resource_id, role, created_at, updated_at
		 FROM memberships
		 WHERE resource_type = ? AND resource_id = ?
		 ORDER BY account_id`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships by resource: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

// ListMembershipsByAccount returns every membership held by one account.
func (s *Store) ListMembershipsByAccount(ctx context.Context, accountID string) ([]domain.Membership, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT account_id, resource_type, resource_id, role, created_at, updated_at
		 FROM memberships
		 WHERE account_id = ?
		 ORDER BY resource_type, resource_id`,
		strings.TrimSpace(accountID),
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships by account: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

// DeleteMembershipsByResource removes every membership for one resource.
func (s *Store) DeleteMembershipsByResource(ctx context.Context, resourceType, resourceID string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM memberships WHERE resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return 0, fmt.Errorf("delete memberships by resource: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete memberships rows affected: %w", err)
	}
	return int(affected), nil
}

// PutSessionGrant upserts one session grant row.
func (s *Store) PutSessionGrant(ctx context.Context, grant domain.SessionGrant) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	resourceType := strings.TrimSpace(grant.ResourceType)
	resourceID := strings.TrimSpace(grant.ResourceID)
	sessionID := strings.TrimSpace(grant.SessionID)
	if resourceType == "" || resourceID == "" {
		return fmt.Errorf("resource type and id are required")
	}
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(grant.PublicInfoID) == "" {
		return fmt.Errorf("public info id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO session_grants (resource_type, resource_id, session_id, role, public_info_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(resource_type, resource_id, session_id) DO UPDATE SET
		   role = excluded.role,
		   public_info_id = excluded.public_info_id,
		   updated_at = excluded.updated_at`,
		resourceType,
		resourceID,
		sessionID,
		string(grant.Role),
		strings.TrimSpace(grant.PublicInfoID),
		toMillis(grant.CreatedAt),
		toMillis(grant.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put session grant: %w", err)
	}
	return nil
}

// GetSessionGrant returns one session grant row.
func (s *Store) GetSessionGrant(ctx context.Context, resourceType, resourceID, sessionID string) (domain.SessionGrant, error) {
	if err := s.ready(ctx); err != nil {
		return domain.SessionGrant{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT resource_type, resource_id, session_id, role, public_info_id, created_at, updated_at
		 FROM session_grants
		 WHERE resource_type = ? AND resource_id = ? AND session_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
		strings.TrimSpace(sessionID),
	)
	return scanSessionGrant(row)
}

// DeleteSessionGrant removes one session grant row.
func (s *Store) DeleteSessionGrant(ctx context.Context, resourceType, resourceID, sessionID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM session_grants WHERE resource_type = ? AND resource_id = ? AND session_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
		strings.TrimSpace(sessionID),
	)
	if err != nil {
		return fmt.Errorf("delete session grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session grant rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSessionGrantsByResource returns every session grant for one resource.
func (s *Store) ListSessionGrantsByResource(ctx context.Context, resourceType, resourceID string) ([]domain.SessionGrant, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT resource_type, resource_id, session_id, role, public_info_id, created_at, updated_at
		 FROM session_grants
		 WHERE resource_type = ? AND resource_id = ?
		 ORDER BY session_id`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return nil, fmt.Errorf("list session grants by resource: %w", err)
	}
	defer rows.Close()
	return collectSessionGrants(rows)
}

// ListSessionGrantsBySession returns every session grant held by one session.
func (s *Store) ListSessionGrantsBySession(ctx context.Context, sessionID string) ([]domain.SessionGrant, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT resource_type, resource_id, session_id, role, public_info_id, created_at, updated_at
		 FROM session_grants
		 WHERE session_id = ?
		 ORDER BY resource_type, resource_id`,
		strings.TrimSpace(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list session grants by session: %w", err)
	}
	defer rows.Close()
	return collectSessionGrants(rows)
}

// DeleteSessionGrantsByResource removes every session grant for one resource.
func (s *Store) DeleteSessionGrantsByResource(ctx context.Context, resourceType, resourceID string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM session_grants WHERE resource_type = ? AND resource_id = ?`,
		strings.TrimSpace(resourceType),
		strings.TrimSpace(resourceID),
	)
	if err != nil {
		return 0, fmt.Errorf("delete session grants by resource: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session grants rows affected: %w", err)
	}
	return int(affected), nil
}

// DeleteOrphanGrants removes grants referencing resources without a policy.
func (s *Store) DeleteOrphanGrants(ctx context.Context) (int, int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, 0, err
	}
	membershipResult, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM memberships
		 WHERE NOT EXISTS (
		   SELECT 1 FROM access_policies p
		   WHERE p.resource_type = memberships.resource_type AND p.resource_id = memberships.resource_id
		 )`,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("delete orphan memberships: %w", err)
	}
	membershipCount, err := membershipResult.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("orphan memberships rows affected: %w", err)
	}

	grantResult, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM session_grants
		 WHERE NOT EXISTS (
		   SELECT 1 FROM access_policies p
		   WHERE p.resource_type = session_grants.resource_type AND p.resource_id = session_grants.resource_id
		 )`,
	)
	if err != nil {
		return int(membershipCount), 0, fmt.Errorf("delete orphan session grants: %w", err)
	}
	grantCount, err := grantResult.RowsAffected()
	if err != nil {
		return int(membershipCount), 0, fmt.Errorf("orphan session grants rows affected: %w", err)
	}
	return int(membershipCount), int(grantCount), nil
}

func scanMembership(row rowScanner) (domain.Membership, error) {
	var membership domain.Membership
	var grantRole string
	var createdAt, updatedAt int64
	err := row.Scan(&membership.AccountID, &membership.ResourceType, &membership.ResourceID, &grantRole, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Membership{}, storage.ErrNotFound
		}
		return domain.Membership{}, fmt.Errorf("scan membership: %w", err)
	}
	membership.Role = roleFromColumn(grantRole)
	membership.CreatedAt = fromMillis(createdAt)
	membership.UpdatedAt = fromMillis(updatedAt)
	return membership, nil
}

func collectMemberships(rows *sql.Rows) ([]domain.Membership, error) {
	var memberships []domain.Membership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

func scanSessionGrant(row rowScanner) (domain.SessionGrant, error) {
	var grant domain.SessionGrant
	var grantRole string
	var createdAt, updatedAt int64
	err := row.Scan(&grant.ResourceType, &grant.ResourceID, &grant.SessionID, &grantRole, &grant.PublicInfoID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionGrant{}, storage.ErrNotFound
		}
		return domain.SessionGrant{}, fmt.Errorf("scan session grant: %w", err)
	}
	grant.Role = roleFromColumn(grantRole)
	grant.CreatedAt = fromMillis(createdAt)
	grant.UpdatedAt = fromMillis(updatedAt)
	return grant, nil
}

func collectSessionGrants(rows *sql.Rows) ([]domain.SessionGrant, error) {
	var grants []domain.SessionGrant
	for rows.Next() {
		grant, err := scanSessionGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session grants: %w", err)
	}
	return grants, nil
}
