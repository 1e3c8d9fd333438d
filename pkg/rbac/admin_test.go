package rbac

import (
	"context"
	"testing"
	"time"
)

func TestCreateRoleWithRefs(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	read := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	CreateTestPermission(t, store, "grades", "update", ScopeOwn)

	role, unresolved, err := manager.CreateRole(ctx, CreateRoleInput{
		Name: "GRADE_CLERK",
		Permissions: []PermissionRef{
			{ID: &read.ID},
			{Module: "grades", Action: "update", Scope: ScopeOwn},
			{Module: "grades", Action: "delete", Scope: ScopeAll}, // does not exist
		},
	})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	if len(role.Permissions) != 2 {
		t.Errorf("Expected 2 linked permissions, got %d", len(role.Permissions))
	}
	if len(unresolved) != 1 {
		t.Fatalf("Expected 1 unresolved ref, got %d", len(unresolved))
	}
	if unresolved[0].String() != "grades:delete:ALL" {
		t.Errorf("Unexpected unresolved ref: %s", unresolved[0])
	}
}

func TestCreateRoleRequiresName(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, _ := NewTestResolver(t, db)

	if _, _, err := manager.CreateRole(context.Background(), CreateRoleInput{}); !IsInvalid(err) {
		t.Errorf("Expected invalid error, got %v", err)
	}
}

func TestUpdateRoleReplacesPermissionSet(t *testing.T) {
	db := SetupTestDB(t)
	resolver, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	read := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	update := CreateTestPermission(t, store, "grades", "update", ScopeAll)
	role := CreateTestRole(t, store, "CLERK", read)
	user := CreateTestUser(t, db, "rita", "")
	assign(t, manager, user, role.ID)

	// prime the cache
	decision, _ := resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if !decision.Allowed {
		t.Fatalf("Expected allow before update: %s", decision.Reason)
	}

	newSet := []PermissionRef{{ID: &update.ID}}
	updated, _, err := manager.UpdateRole(ctx, role.ID, UpdateRoleInput{Permissions: &newSet})
	if err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if len(updated.Permissions) != 1 || updated.Permissions[0].PermissionID != update.ID {
		t.Errorf("Expected permission set to be replaced: %+v", updated.Permissions)
	}

	// the cached set must have been invalidated with the role change
	decision, _ = resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if decision.Allowed {
		t.Error("Expected read to be revoked after permission set replacement")
	}
	decision, _ = resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "update"})
	if !decision.Allowed {
		t.Errorf("Expected update to be granted after replacement: %s", decision.Reason)
	}
}

func TestSystemRoleProtections(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, &Role{Name: "ADMIN", IsSystem: true})
	if err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}

	if err := manager.DeleteRole(ctx, role.ID); !IsForbidden(err) {
		t.Errorf("Expected forbidden for system role delete, got %v", err)
	}

	name := "SUPERADMIN"
	if _, _, err := manager.UpdateRole(ctx, role.ID, UpdateRoleInput{Name: &name}); !IsForbidden(err) {
		t.Errorf("Expected forbidden for system role rename, got %v", err)
	}

	// description edits stay allowed
	desc := "Full platform access"
	updated, _, err := manager.UpdateRole(ctx, role.ID, UpdateRoleInput{Description: &desc})
	if err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	if updated.Description != desc {
		t.Errorf("Expected description update, got %q", updated.Description)
	}
}

func TestToggleRoleStatus(t *testing.T) {
	db := SetupTestDB(t)
	resolver, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	perm := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	role := CreateTestRole(t, store, "READER", perm)
	user := CreateTestUser(t, db, "sam", "")
	assign(t, manager, user, role.ID)

	decision, _ := resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if !decision.Allowed {
		t.Fatalf("Expected allow: %s", decision.Reason)
	}

	toggled, err := manager.ToggleRoleStatus(ctx, role.ID)
	if err != nil {
		t.Fatalf("ToggleRoleStatus failed: %v", err)
	}
	if toggled.IsActive {
		t.Error("Expected role to be inactive")
	}

	decision, _ = resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if decision.Allowed {
		t.Error("Expected deny through inactive role")
	}

	if _, err := manager.ToggleRoleStatus(ctx, role.ID); err != nil {
		t.Fatalf("ToggleRoleStatus failed: %v", err)
	}
	decision, _ = resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if !decision.Allowed {
		t.Errorf("Expected allow after reactivation: %s", decision.Reason)
	}
}

func TestDeleteRoleAssignmentGuard(t *testing.T) {
	db := SetupTestDB(t)
	resolver, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	perm := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	role := CreateTestRole(t, store, "READER", perm)
	user := CreateTestUser(t, db, "tina", "")
	assign(t, manager, user, role.ID)

	decision, _ := resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if !decision.Allowed {
		t.Fatalf("Expected allow: %s", decision.Reason)
	}

	if err := manager.DeleteRole(ctx, role.ID); !IsConflict(err) {
		t.Fatalf("Expected conflict while the role is assigned, got %v", err)
	}

	if err := manager.RevokeRole(ctx, user, role.ID); err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	if err := manager.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("DeleteRole failed: %v", err)
	}

	if _, err := manager.GetRole(ctx, role.ID); !IsNotFound(err) {
		t.Errorf("Expected deleted role to be gone, got %v", err)
	}

	decision, _ = resolver.Authorize(ctx, user, AccessCheck{Module: "grades", Action: "read"})
	if decision.Allowed {
		t.Error("Expected deny after role deletion")
	}
}

func TestPermissionGuards(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	system, err := store.CreatePermission(ctx, &Permission{
		Module: "admin", Action: "manage", Scope: ScopeAll, IsSystem: true,
	})
	if err != nil {
		t.Fatalf("CreatePermission failed: %v", err)
	}

	if _, err := manager.UpdatePermission(ctx, system.ID, Permission{Module: "admin", Action: "manage", Scope: ScopeOwn}); !IsForbidden(err) {
		t.Errorf("Expected forbidden for system permission update, got %v", err)
	}
	if err := manager.DeletePermission(ctx, system.ID); !IsForbidden(err) {
		t.Errorf("Expected forbidden for system permission delete, got %v", err)
	}

	linked := CreateTestPermission(t, store, "grades", "read", ScopeAll)
	CreateTestRole(t, store, "READER", linked)

	if err := manager.DeletePermission(ctx, linked.ID); !IsConflict(err) {
		t.Errorf("Expected conflict for linked permission delete, got %v", err)
	}

	if _, err := manager.CreatePermission(ctx, Permission{Module: "grades", Action: "read", Scope: "GLOBAL"}); !IsInvalid(err) {
		t.Errorf("Expected invalid for unknown scope, got %v", err)
	}
}

func TestAssignRoleGuards(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	role := CreateTestRole(t, store, "TEACHER")
	user := CreateTestUser(t, db, "uma", "")

	past := time.Now().Add(-time.Minute)
	if _, err := manager.AssignRole(ctx, AssignRoleInput{PrincipalID: user, RoleID: role.ID, ExpiresAt: &past}); !IsInvalid(err) {
		t.Errorf("Expected invalid for past expiry, got %v", err)
	}

	if _, err := manager.AssignRole(ctx, AssignRoleInput{PrincipalID: user, RoleID: role.ID, Context: []byte("{bad")}); !IsInvalid(err) {
		t.Errorf("Expected invalid for malformed context, got %v", err)
	}

	if _, err := manager.AssignRole(ctx, AssignRoleInput{PrincipalID: user, RoleID: 9999}); !IsNotFound(err) {
		t.Errorf("Expected not found for unknown role, got %v", err)
	}

	if err := store.SetRoleActive(ctx, role.ID, false); err != nil {
		t.Fatalf("SetRoleActive failed: %v", err)
	}
	if _, err := manager.AssignRole(ctx, AssignRoleInput{PrincipalID: user, RoleID: role.ID}); !IsConflict(err) {
		t.Errorf("Expected conflict for inactive role, got %v", err)
	}
}

func TestRevokeRoleIdempotent(t *testing.T) {
	db := SetupTestDB(t)
	_, manager, store := NewTestResolver(t, db)
	ctx := context.Background()

	role := CreateTestRole(t, store, "TEACHER")
	user := CreateTestUser(t, db, "vic", "")

	if err := manager.RevokeRole(ctx, user, role.ID); err != nil {
		t.Errorf("Expected revoking an absent assignment to succeed, got %v", err)
	}

	assign(t, manager, user, role.ID)
	if err := manager.RevokeRole(ctx, user, role.ID); err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	if err := manager.RevokeRole(ctx, user, role.ID); err != nil {
		t.Errorf("Expected second revocation to succeed, got %v", err)
	}
}
