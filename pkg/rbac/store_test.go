package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRoleLifecycle(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, &Role{Name: "TEACHER", Description: "Teaching staff"})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	if role.ID == 0 || !role.IsActive {
		t.Errorf("Unexpected created role: %+v", role)
	}

	if _, err := store.CreateRole(ctx, &Role{Name: "TEACHER"}); !IsConflict(err) {
		t.Errorf("Expected conflict for duplicate name, got %v", err)
	}

	byName, err := store.GetRoleByName(ctx, "TEACHER")
	if err != nil {
		t.Fatalf("GetRoleByName failed: %v", err)
	}
	if byName.ID != role.ID {
		t.Errorf("Expected role %d, got %d", role.ID, byName.ID)
	}

	role.Description = "All teaching staff"
	if err := store.UpdateRole(ctx, role); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}

	if err := store.SoftDeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("SoftDeleteRole failed: %v", err)
	}
	if _, err := store.GetRole(ctx, role.ID); !IsNotFound(err) {
		t.Errorf("Expected deleted role to be gone, got %v", err)
	}

	// the row survives for history
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM roles WHERE id = $1", role.ID).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Error("Expected soft-deleted row to survive")
	}
}

func TestReplaceRolePermissions(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	read := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	update := CreateTestPermission(t, store, "grades", "update", ScopeOwn)
	role := CreateTestRole(t, store, "EDITOR", read)

	conditions := json.RawMessage(`{"term":"current"}`)
	err := store.ReplaceRolePermissions(ctx, role.ID, []RolePermission{
		{PermissionID: update.ID, Conditions: conditions},
	})
	if err != nil {
		t.Fatalf("ReplaceRolePermissions failed: %v", err)
	}

	got, err := store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetRole failed: %v", err)
	}
	if len(got.Permissions) != 1 {
		t.Fatalf("Expected 1 permission, got %d", len(got.Permissions))
	}
	link := got.Permissions[0]
	if link.PermissionID != update.ID {
		t.Errorf("Expected permission %d, got %d", update.ID, link.PermissionID)
	}
	if string(link.Conditions) != `{"term":"current"}` {
		t.Errorf("Unexpected conditions: %s", link.Conditions)
	}
}

func TestPermissionLifecycle(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	perm, err := store.CreatePermission(ctx, &Permission{
		Module: "fees", Action: "collect", Scope: ScopeAll, Description: "Collect fee payments",
	})
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	if _, err := store.CreatePermission(ctx, &Permission{Module: "fees", Action: "collect", Scope: ScopeAll}); !IsConflict(err) {
		t.Errorf("Expected conflict for duplicate permission, got %v", err)
	}

	found, err := store.FindPermission(ctx, "fees", "collect", ScopeAll)
	if err != nil {
		t.Fatalf("FindPermission failed: %v", err)
	}
	if found.ID != perm.ID {
		t.Errorf("Expected permission %d, got %d", perm.ID, found.ID)
	}

	perm.Description = "Collect and reconcile fee payments"
	if err := store.UpdatePermission(ctx, perm); err != nil {
		t.Fatalf("UpdatePermission failed: %v", err)
	}

	if err := store.DeletePermission(ctx, perm.ID); err != nil {
		t.Fatalf("DeletePermission failed: %v", err)
	}
	if _, err := store.GetPermission(ctx, perm.ID); !IsNotFound(err) {
		t.Errorf("Expected permission to be gone, got %v", err)
	}
}

func TestFindPermissionByIdentity(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	plain, err := store.CreatePermission(ctx, &Permission{
		Module: "grades", Action: "read", Scope: ScopeAll,
	})
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	// same module, action, and scope is fine as long as the resource differs
	drafts, err := store.CreatePermission(ctx, &Permission{
		Module: "grades", Action: "read", Resource: "drafts", Scope: ScopeAll,
	})
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	found, err := store.FindPermissionByIdentity(ctx, "grades", "read", "drafts")
	if err != nil {
		t.Fatalf("FindPermissionByIdentity failed: %v", err)
	}
	if found.ID != drafts.ID {
		t.Errorf("Expected permission %d, got %d", drafts.ID, found.ID)
	}

	found, err = store.FindPermissionByIdentity(ctx, "grades", "read", "")
	if err != nil {
		t.Fatalf("FindPermissionByIdentity failed: %v", err)
	}
	if found.ID != plain.ID {
		t.Errorf("Expected permission %d, got %d", plain.ID, found.ID)
	}
}

func TestUpsertAssignmentReactivates(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	role := CreateTestRole(t, store, "TEACHER")
	user := CreateTestUser(t, db, "nina", "")

	first, err := store.UpsertAssignment(ctx, &UserRoleAssignment{PrincipalID: user, RoleID: role.ID})
	if err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	revoked, err := store.RevokeAssignment(ctx, user, role.ID)
	if err != nil || !revoked {
		t.Fatalf("RevokeAssignment failed: revoked=%v err=%v", revoked, err)
	}

	expiry := time.Now().UTC().Add(24 * time.Hour)
	second, err := store.UpsertAssignment(ctx, &UserRoleAssignment{
		PrincipalID: user,
		RoleID:      role.ID,
		ExpiresAt:   &expiry,
		Context:     json.RawMessage(`{"group_id":4}`),
	})
	if err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("Expected reactivation of row %d, got new row %d", first.ID, second.ID)
	}
	if !second.IsActive {
		t.Error("Expected reactivated assignment to be active")
	}
	if second.ExpiresAt == nil {
		t.Error("Expected expiry to be updated")
	}
	if string(second.Context) != `{"group_id":4}` {
		t.Errorf("Expected context to be updated, got %s", second.Context)
	}

	all, err := store.ListAssignments(ctx, user, false)
	if err != nil {
		t.Fatalf("ListAssignments failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected a single assignment row, got %d", len(all))
	}
}

func TestRevokeAssignmentIdempotent(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	role := CreateTestRole(t, store, "TEACHER")
	user := CreateTestUser(t, db, "omar", "")

	// revoking an assignment that never existed is not an error
	revoked, err := store.RevokeAssignment(ctx, user, role.ID)
	if err != nil {
		t.Fatalf("RevokeAssignment failed: %v", err)
	}
	if revoked {
		t.Error("Expected nothing to be revoked")
	}

	if _, err := store.UpsertAssignment(ctx, &UserRoleAssignment{PrincipalID: user, RoleID: role.ID}); err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	revoked, err = store.RevokeAssignment(ctx, user, role.ID)
	if err != nil || !revoked {
		t.Fatalf("Expected revocation: revoked=%v err=%v", revoked, err)
	}

	revoked, err = store.RevokeAssignment(ctx, user, role.ID)
	if err != nil {
		t.Fatalf("RevokeAssignment failed: %v", err)
	}
	if revoked {
		t.Error("Expected second revocation to be a no-op")
	}
}

func TestDeactivateExpiredAssignments(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	role := CreateTestRole(t, store, "TEACHER")
	expiredUser := CreateTestUser(t, db, "expired", "")
	liveUser := CreateTestUser(t, db, "live", "")

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	if _, err := db.Exec(
		"INSERT INTO user_role_assignments (principal_id, role_id, assigned_at, expires_at, is_active) VALUES ($1, $2, $3, $4, TRUE)",
		expiredUser, role.ID, past.Add(-time.Hour), past); err != nil {
		t.Fatalf("Failed to insert assignment: %v", err)
	}
	if _, err := store.UpsertAssignment(ctx, &UserRoleAssignment{PrincipalID: liveUser, RoleID: role.ID, ExpiresAt: &future}); err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	principals, err := store.DeactivateExpiredAssignments(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DeactivateExpiredAssignments failed: %v", err)
	}
	if len(principals) != 1 || principals[0] != expiredUser {
		t.Errorf("Expected only the expired principal, got %v", principals)
	}

	active, err := store.ListAssignments(ctx, expiredUser, true)
	if err != nil {
		t.Fatalf("ListAssignments failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active assignments, got %d", len(active))
	}

	// second run finds nothing
	principals, err = store.DeactivateExpiredAssignments(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("DeactivateExpiredAssignments failed: %v", err)
	}
	if len(principals) != 0 {
		t.Errorf("Expected no principals on second run, got %v", principals)
	}
}

func TestEffectivePermissionsJoins(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	read := CreateTestPermission(t, store, "grades", "read", ScopeGroup)
	role := CreateTestRole(t, store, "GROUP_TEACHER")
	if err := store.ReplaceRolePermissions(ctx, role.ID, []RolePermission{
		{PermissionID: read.ID, Conditions: json.RawMessage(`{"subject":"math"}`)},
	}); err != nil {
		t.Fatalf("ReplaceRolePermissions failed: %v", err)
	}

	user := CreateTestUser(t, db, "paula", "")
	if _, err := store.UpsertAssignment(ctx, &UserRoleAssignment{
		PrincipalID: user, RoleID: role.ID, Context: json.RawMessage(`{"group_id":8}`),
	}); err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	perms, err := store.EffectivePermissions(ctx, user, time.Now().UTC())
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("Expected 1 permission, got %d", len(perms))
	}

	ep := perms[0]
	if ep.Module != "grades" || ep.Scope != ScopeGroup || ep.RoleName != "GROUP_TEACHER" {
		t.Errorf("Unexpected permission: %+v", ep)
	}
	if string(ep.Conditions) != `{"subject":"math"}` {
		t.Errorf("Expected role link conditions, got %s", ep.Conditions)
	}
	if string(ep.Context) != `{"group_id":8}` {
		t.Errorf("Expected assignment context, got %s", ep.Context)
	}
}

func TestEffectivePermissionsSkipInactiveRole(t *testing.T) {
	db := SetupTestDB(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	perm := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	role := CreateTestRole(t, store, "READER", perm)
	user := CreateTestUser(t, db, "quinn", "")
	if _, err := store.UpsertAssignment(ctx, &UserRoleAssignment{PrincipalID: user, RoleID: role.ID}); err != nil {
		t.Fatalf("UpsertAssignment failed: %v", err)
	}

	if err := store.SetRoleActive(ctx, role.ID, false); err != nil {
		t.Fatalf("SetRoleActive failed: %v", err)
	}

	perms, err := store.EffectivePermissions(ctx, user, time.Now().UTC())
	if err != nil {
		t.Fatalf("EffectivePermissions failed: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("Expected inactive role to grant nothing, got %d permissions", len(perms))
	}
}
