package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gradekeep/gradekeep/pkg/observability"
)

// Manager implements the administrative operations: role and permission
// lifecycle and role assignment. Every mutation that can change a
// principal's effective permissions invalidates the affected cache entries
// before returning, so a caller observing the mutation's completion never
// sees a stale decision.
type Manager struct {
	store   Store
	cache   DecisionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewManager creates a Manager
func NewManager(store Store, cache DecisionCache, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{store: store, cache: cache, logger: logger, metrics: metrics}
}

// CreateRoleInput describes a role to create. Permissions may reference
// existing permissions by ID or by (module, action, scope).
type CreateRoleInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Permissions []PermissionRef `json:"permissions,omitempty"`
}

// UpdateRoleInput describes a role update. Nil fields are left unchanged;
// a non-nil Permissions replaces the role's whole permission set.
type UpdateRoleInput struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Permissions *[]PermissionRef `json:"permissions,omitempty"`
}

// AssignRoleInput describes a role grant to a principal.
type AssignRoleInput struct {
	PrincipalID int64           `json:"principal_id"`
	RoleID      int64           `json:"role_id"`
	AssignedBy  *int64          `json:"assigned_by,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// CreateRole creates a role with the resolvable subset of the requested
// permissions. Refs that do not resolve are returned rather than failing
// the whole operation; the caller decides whether to retry them.
func (m *Manager) CreateRole(ctx context.Context, input CreateRoleInput) (*Role, []PermissionRef, error) {
	if input.Name == "" {
		return nil, nil, m.fail("create_role", Invalidf("role name is required"))
	}

	links, unresolved, err := m.resolveRefs(ctx, input.Permissions)
	if err != nil {
		return nil, nil, m.fail("create_role", err)
	}

	role, err := m.store.CreateRole(ctx, &Role{Name: input.Name, Description: input.Description})
	if err != nil {
		return nil, nil, m.fail("create_role", err)
	}

	if len(links) > 0 {
		if err := m.store.ReplaceRolePermissions(ctx, role.ID, links); err != nil {
			return nil, nil, m.fail("create_role", err)
		}
	}

	created, err := m.store.GetRole(ctx, role.ID)
	if err != nil {
		return nil, nil, m.fail("create_role", err)
	}

	m.ok("create_role")
	return created, unresolved, nil
}

// GetRole returns a role with its permission set expanded
func (m *Manager) GetRole(ctx context.Context, id int64) (*Role, error) {
	return m.store.GetRole(ctx, id)
}

// ListRoles returns all roles, optionally including inactive ones
func (m *Manager) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	return m.store.ListRoles(ctx, includeInactive)
}

// UpdateRole updates a role's metadata and, when Permissions is set,
// replaces its permission set. System roles cannot be renamed.
func (m *Manager) UpdateRole(ctx context.Context, id int64, input UpdateRoleInput) (*Role, []PermissionRef, error) {
	role, err := m.store.GetRole(ctx, id)
	if err != nil {
		return nil, nil, m.fail("update_role", err)
	}

	if input.Name != nil && *input.Name != role.Name {
		if role.IsSystem {
			return nil, nil, m.fail("update_role", Forbiddenf("system role %q cannot be renamed", role.Name))
		}
		if *input.Name == "" {
			return nil, nil, m.fail("update_role", Invalidf("role name is required"))
		}
		role.Name = *input.Name
	}
	if input.Description != nil {
		role.Description = *input.Description
	}

	if err := m.store.UpdateRole(ctx, role); err != nil {
		return nil, nil, m.fail("update_role", err)
	}

	var unresolved []PermissionRef
	if input.Permissions != nil {
		links, missing, err := m.resolveRefs(ctx, *input.Permissions)
		if err != nil {
			return nil, nil, m.fail("update_role", err)
		}
		unresolved = missing

		if err := m.store.ReplaceRolePermissions(ctx, role.ID, links); err != nil {
			return nil, nil, m.fail("update_role", err)
		}

		if err := m.invalidateRolePrincipals(ctx, role.ID); err != nil {
			return nil, nil, m.fail("update_role", err)
		}
	}

	updated, err := m.store.GetRole(ctx, role.ID)
	if err != nil {
		return nil, nil, m.fail("update_role", err)
	}

	m.ok("update_role")
	return updated, unresolved, nil
}

// DeleteRole soft-deletes a role. System roles cannot be deleted.
func (m *Manager) DeleteRole(ctx context.Context, id int64) error {
	role, err := m.store.GetRole(ctx, id)
	if err != nil {
		return m.fail("delete_role", err)
	}
	if role.IsSystem {
		return m.fail("delete_role", Forbiddenf("system role %q cannot be deleted", role.Name))
	}

	active, err := m.store.CountActiveRoleAssignments(ctx, id, time.Now())
	if err != nil {
		return m.fail("delete_role", err)
	}
	if active > 0 {
		return m.fail("delete_role", Conflictf("role %q still has %d active assignments", role.Name, active))
	}

	if err := m.store.SoftDeleteRole(ctx, id); err != nil {
		return m.fail("delete_role", err)
	}

	if err := m.invalidateRolePrincipals(ctx, id); err != nil {
		return m.fail("delete_role", err)
	}

	m.ok("delete_role")
	return nil
}

// ToggleRoleStatus flips a role's active flag and returns the updated role
func (m *Manager) ToggleRoleStatus(ctx context.Context, id int64) (*Role, error) {
	role, err := m.store.GetRole(ctx, id)
	if err != nil {
		return nil, m.fail("toggle_role", err)
	}

	if err := m.store.SetRoleActive(ctx, id, !role.IsActive); err != nil {
		return nil, m.fail("toggle_role", err)
	}

	if err := m.invalidateRolePrincipals(ctx, id); err != nil {
		return nil, m.fail("toggle_role", err)
	}

	updated, err := m.store.GetRole(ctx, id)
	if err != nil {
		return nil, m.fail("toggle_role", err)
	}

	m.ok("toggle_role")
	return updated, nil
}

// CreatePermission creates a permission definition
func (m *Manager) CreatePermission(ctx context.Context, p Permission) (*Permission, error) {
	if p.Module == "" || p.Action == "" {
		return nil, m.fail("create_permission", Invalidf("module and action are required"))
	}
	if !p.Scope.IsValid() {
		return nil, m.fail("create_permission", Invalidf("unknown scope %q", p.Scope))
	}

	created, err := m.store.CreatePermission(ctx, &p)
	if err != nil {
		return nil, m.fail("create_permission", err)
	}

	m.ok("create_permission")
	return created, nil
}

// ListPermissions returns permissions, optionally filtered to one module
func (m *Manager) ListPermissions(ctx context.Context, module string) ([]Permission, error) {
	return m.store.ListPermissions(ctx, module)
}

// UpdatePermission updates a permission's definition. System permissions
// cannot be modified. Cached sets of every principal reached through the
// permission are invalidated.
func (m *Manager) UpdatePermission(ctx context.Context, id int64, p Permission) (*Permission, error) {
	existing, err := m.store.GetPermission(ctx, id)
	if err != nil {
		return nil, m.fail("update_permission", err)
	}
	if existing.IsSystem {
		return nil, m.fail("update_permission", Forbiddenf("system permission cannot be modified"))
	}
	if p.Module == "" || p.Action == "" {
		return nil, m.fail("update_permission", Invalidf("module and action are required"))
	}
	if !p.Scope.IsValid() {
		return nil, m.fail("update_permission", Invalidf("unknown scope %q", p.Scope))
	}

	p.ID = id
	if err := m.store.UpdatePermission(ctx, &p); err != nil {
		return nil, m.fail("update_permission", err)
	}

	principals, err := m.store.ListPermissionPrincipals(ctx, id)
	if err != nil {
		return nil, m.fail("update_permission", err)
	}
	if err := m.invalidatePrincipals(ctx, principals); err != nil {
		return nil, m.fail("update_permission", err)
	}

	updated, err := m.store.GetPermission(ctx, id)
	if err != nil {
		return nil, m.fail("update_permission", err)
	}

	m.ok("update_permission")
	return updated, nil
}

// DeletePermission removes a permission. System permissions cannot be
// deleted, and neither can a permission still linked to any role.
func (m *Manager) DeletePermission(ctx context.Context, id int64) error {
	existing, err := m.store.GetPermission(ctx, id)
	if err != nil {
		return m.fail("delete_permission", err)
	}
	if existing.IsSystem {
		return m.fail("delete_permission", Forbiddenf("system permission cannot be deleted"))
	}

	links, err := m.store.CountPermissionLinks(ctx, id)
	if err != nil {
		return m.fail("delete_permission", err)
	}
	if links > 0 {
		return m.fail("delete_permission", Conflictf("permission is linked to %d role(s)", links))
	}

	if err := m.store.DeletePermission(ctx, id); err != nil {
		return m.fail("delete_permission", err)
	}

	m.ok("delete_permission")
	return nil
}

// AssignRole grants a role to a principal. Re-assigning a revoked or
// expired role reactivates the existing assignment with the new expiry and
// context. The principal's cache entry is invalidated before returning.
func (m *Manager) AssignRole(ctx context.Context, input AssignRoleInput) (*UserRoleAssignment, error) {
	role, err := m.store.GetRole(ctx, input.RoleID)
	if err != nil {
		return nil, m.fail("assign_role", err)
	}
	if !role.IsActive {
		return nil, m.fail("assign_role", Conflictf("role %q is inactive", role.Name))
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return nil, m.fail("assign_role", Invalidf("expiry must be in the future"))
	}
	if len(input.Context) > 0 && !json.Valid(input.Context) {
		return nil, m.fail("assign_role", Invalidf("context must be valid JSON"))
	}

	assignment, err := m.store.UpsertAssignment(ctx, &UserRoleAssignment{
		PrincipalID: input.PrincipalID,
		RoleID:      input.RoleID,
		AssignedBy:  input.AssignedBy,
		ExpiresAt:   input.ExpiresAt,
		Context:     input.Context,
	})
	if err != nil {
		return nil, m.fail("assign_role", err)
	}

	if err := m.invalidatePrincipals(ctx, []int64{input.PrincipalID}); err != nil {
		return nil, m.fail("assign_role", err)
	}

	m.ok("assign_role")
	return assignment, nil
}

// RevokeRole deactivates a principal's role assignment. Revoking an absent
// or already-revoked assignment succeeds without effect.
func (m *Manager) RevokeRole(ctx context.Context, principalID, roleID int64) error {
	if _, err := m.store.RevokeAssignment(ctx, principalID, roleID); err != nil {
		return m.fail("revoke_role", err)
	}

	if err := m.invalidatePrincipals(ctx, []int64{principalID}); err != nil {
		return m.fail("revoke_role", err)
	}

	m.ok("revoke_role")
	return nil
}

// ListAssignments returns a principal's role assignments
func (m *Manager) ListAssignments(ctx context.Context, principalID int64, activeOnly bool) ([]UserRoleAssignment, error) {
	return m.store.ListAssignments(ctx, principalID, activeOnly)
}

// resolveRefs maps permission refs to role links. Unresolvable refs are
// collected, not fatal; only storage failures abort.
func (m *Manager) resolveRefs(ctx context.Context, refs []PermissionRef) ([]RolePermission, []PermissionRef, error) {
	var links []RolePermission
	var unresolved []PermissionRef

	for _, ref := range refs {
		var perm *Permission
		var err error

		switch {
		case ref.ByID():
			perm, err = m.store.GetPermission(ctx, *ref.ID)
		case ref.Module != "" && ref.Action != "" && ref.Scope != "":
			perm, err = m.store.FindPermission(ctx, ref.Module, ref.Action, ref.Scope)
		default:
			unresolved = append(unresolved, ref)
			continue
		}

		if IsNotFound(err) {
			unresolved = append(unresolved, ref)
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		links = append(links, RolePermission{
			PermissionID: perm.ID,
			Conditions:   ref.Conditions,
		})
	}

	return links, unresolved, nil
}

// invalidateRolePrincipals drops the cached sets of every principal with an
// active assignment of the role.
func (m *Manager) invalidateRolePrincipals(ctx context.Context, roleID int64) error {
	principals, err := m.store.ListRolePrincipals(ctx, roleID)
	if err != nil {
		return err
	}
	return m.invalidatePrincipals(ctx, principals)
}

func (m *Manager) invalidatePrincipals(ctx context.Context, principals []int64) error {
	for _, id := range principals {
		if err := m.cache.Invalidate(ctx, id); err != nil {
			return Internalf(err, "failed to invalidate permission cache for principal %d", id)
		}
		if m.metrics != nil {
			m.metrics.CacheInvalidationsTotal.WithLabelValues("decision").Inc()
		}
	}
	return nil
}

func (m *Manager) ok(operation string) {
	if m.metrics != nil {
		m.metrics.AdminOperationsTotal.WithLabelValues(operation, "ok").Inc()
	}
}

func (m *Manager) fail(operation string, err error) error {
	if m.metrics != nil {
		m.metrics.AdminOperationsTotal.WithLabelValues(operation, "error").Inc()
	}
	return err
}
