package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/gathering.space/internal/platform/errors"
	"github.com/louisbranch/gathering.space/internal/services/access/domain"
	"github.com/louisbranch/gathering.space/internal/services/access/grant"
	"github.com/louisbranch/gathering.space/internal/services/access/notify"
	"github.com/louisbranch/gathering.space/internal/services/access/role"
	"github.com/louisbranch/gathering.space/internal/services/access/storage"
	"github.com/louisbranch/gathering.space/internal/services/access/storage/sqlite"
)

func testClock() time.Time {
	return time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(t.TempDir() + "/access.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := notify.NewHub()
	sessions := grant.NewService(store, hub).WithClock(testClock)
	service := NewService(store, sessions, hub).WithClock(testClock)
	return service, store
}

func TestCreatePolicyWithInitialGrants(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	policy, err := service.CreatePolicy(ctx, CreatePolicyRequest{
		ResourceType:    "room",
		ResourceID:      "1",
		PublicGuestRole: role.Reader,
		PublicUserRole:  role.Speaker,
		InitialMembers: []MemberGrant{
			{AccountID: "u1", Role: role.Owner},
		},
		InitialSessionGrants: []SessionRoleGrant{
			{SessionID: "s1", Role: role.Vip},
		},
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	if policy.PublicGuestRole != role.Reader {
		t.Fatalf("guest role = %q, want %q", policy.PublicGuestRole, role.Reader)
	}

	membership, err := store.GetMembership(ctx, "u1", "room", "1")
	if err != nil {
		t.Fatalf("get seeded membership: %v", err)
	}
	if membership.Role != role.Owner {
		t.Fatalf("membership role = %q, want %q", membership.Role, role.Owner)
	}

	sessionGrant, err := store.GetSessionGrant(ctx, "room", "1", "s1")
	if err != nil {
		t.Fatalf("get seeded session grant: %v", err)
	}
	if sessionGrant.Role != role.Vip {
		t.Fatalf("session grant role = %q, want %q", sessionGrant.Role, role.Vip)
	}
	info, err := store.GetSessionInfo(ctx, "s1")
	if err != nil {
		t.Fatalf("expected session info created: %v", err)
	}
	if sessionGrant.PublicInfoID != info.ID {
		t.Fatalf("grant public info = %q, want %q", sessionGrant.PublicInfoID, info.ID)
	}
}

func TestCreatePolicyDuplicateFails(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	req := CreatePolicyRequest{ResourceType: "room", ResourceID: "1", PublicGuestRole: role.Reader}
	if _, err := service.CreatePolicy(ctx, req); err != nil {
		t.Fatalf("create policy: %v", err)
	}
	_, err := service.CreatePolicy(ctx, req)
	if apperrors.CodeOf(err) != apperrors.CodeAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreatePolicyRejectsInvalidInitialGrants(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.CreatePolicy(ctx, CreatePolicyRequest{
		ResourceType:   "room",
		ResourceID:     "1",
		InitialMembers: []MemberGrant{{AccountID: "u1", Role: "sovereign"}},
	})
	if apperrors.CodeOf(err) != apperrors.CodePolicyInvalidRole {
		t.Fatalf("expected PolicyInvalidRole, got %v", err)
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.GetPolicy(context.Background(), "room", "missing")
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeletePolicyCascades(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	_, err := service.CreatePolicy(ctx, CreatePolicyRequest{
		ResourceType:    "room",
		ResourceID:      "1",
		PublicGuestRole: role.Reader,
		InitialMembers: []MemberGrant{
			{AccountID: "u1", Role: role.Reader},
			{AccountID: "u2", Role: role.Moderator},
		},
		InitialSessionGrants: []SessionRoleGrant{{SessionID: "s1", Role: role.Reader}},
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}

	if err := service.DeletePolicy(ctx, "room", "1"); err != nil {
		t.Fatalf("delete policy: %v", err)
	}

	if _, err := store.GetPolicy(ctx, "room", "1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected policy removed, got %v", err)
	}
	if _, err := store.GetMembership(ctx, "u1", "room", "1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected membership cascade, got %v", err)
	}
	if _, err := store.GetSessionGrant(ctx, "room", "1", "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session grant cascade, got %v", err)
	}

	// Session info survives the cascade; it is never deleted.
	if _, err := store.GetSessionInfo(ctx, "s1"); err != nil {
		t.Fatalf("expected session info kept: %v", err)
	}

	err = service.DeletePolicy(ctx, "room", "1")
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected NotFound on second delete, got %v", err)
	}
}

func TestReconcileOrphans(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	if err := store.PutMembership(ctx, domain.NewMembership("u1", "room", "gone", role.Reader, testClock)); err != nil {
		t.Fatalf("seed orphan membership: %v", err)
	}
	if err := store.PutSessionGrant(ctx, domain.NewSessionGrant("room", "gone", "s1", role.Reader, "p1", testClock)); err != nil {
		t.Fatalf("seed orphan session grant: %v", err)
	}

	repaired, err := service.ReconcileOrphans(ctx)
	if err != nil {
		t.Fatalf("reconcile orphans: %v", err)
	}
	if repaired != 2 {
		t.Fatalf("repaired = %d, want 2", repaired)
	}

	repaired, err = service.ReconcileOrphans(ctx)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if repaired != 0 {
		t.Fatalf("repaired on clean store = %d, want 0", repaired)
	}
}
