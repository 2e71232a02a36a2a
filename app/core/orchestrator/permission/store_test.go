package permission

import (
	"context"
	"errors"
	"testing"

	"minuteman/app/core/orchestrator/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestGetRoleDefaultsToMember(t *testing.T) {
	store := newTestStore(t)
	if role := store.GetRole(context.Background(), "nobody"); role != RoleMember {
		t.Fatalf("expected member for unknown user, got %s", role)
	}
}

func TestSetRoleRequiresSuperAdmin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, acting := range []Role{RoleMember, RoleGroupAdmin, RoleDeptManager} {
		err := store.SetRole(ctx, acting, "target", "Target", RoleGroupAdmin)
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("acting=%s: expected ErrForbidden, got %v", acting, err)
		}
	}
	if role := store.GetRole(ctx, "target"); role != RoleMember {
		t.Fatalf("forbidden write must not persist, got %s", role)
	}
}

func TestSetRoleUpsertsLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetRole(ctx, RoleSuperAdmin, "u1", "Amy", RoleGroupAdmin); err != nil {
		t.Fatalf("set role failed: %v", err)
	}
	if role := store.GetRole(ctx, "u1"); role != RoleGroupAdmin {
		t.Fatalf("expected group_admin, got %s", role)
	}

	if err := store.SetRole(ctx, RoleSuperAdmin, "u1", "Amy", RoleDeptManager); err != nil {
		t.Fatalf("second set role failed: %v", err)
	}
	if role := store.GetRole(ctx, "u1"); role != RoleDeptManager {
		t.Fatalf("expected dept_manager after upsert, got %s", role)
	}
}

func TestBootstrapSeedsSuperAdmins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Bootstrap(ctx, []string{"root", " ", "root2"}); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if role := store.GetRole(ctx, "root"); role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %s", role)
	}
	if role := store.GetRole(ctx, "root2"); role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %s", role)
	}
}

func TestParseRole(t *testing.T) {
	if _, ok := ParseRole("chief"); ok {
		t.Fatal("unknown role should not parse")
	}
	role, ok := ParseRole(" super_admin ")
	if !ok || role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %s ok=%v", role, ok)
	}
}

func TestRoleGates(t *testing.T) {
	if RoleMember.CanStartMeeting() {
		t.Fatal("member must not start meetings")
	}
	if !RoleGroupAdmin.CanStartMeeting() || !RoleDeptManager.CanStartMeeting() || !RoleSuperAdmin.CanStartMeeting() {
		t.Fatal("admin roles must start meetings")
	}
	if RoleGroupAdmin.CanViewCrossScope() || RoleMember.CanViewCrossScope() {
		t.Fatal("cross-scope view is limited to dept_manager and super_admin")
	}
	if !RoleDeptManager.CanViewCrossScope() || !RoleSuperAdmin.CanViewCrossScope() {
		t.Fatal("dept_manager and super_admin must view cross-scope")
	}
}
