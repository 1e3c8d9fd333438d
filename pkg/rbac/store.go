package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// Store persists roles, permissions, and role assignments
type Store interface {
	CreateRole(ctx context.Context, role *Role) (*Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context, includeInactive bool) ([]Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	SoftDeleteRole(ctx context.Context, id int64) error
	SetRoleActive(ctx context.Context, id int64, active bool) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, links []RolePermission) error

	CreatePermission(ctx context.Context, p *Permission) (*Permission, error)
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	FindPermission(ctx context.Context, module, action string, scope Scope) (*Permission, error)
	FindPermissionByIdentity(ctx context.Context, module, action, resource string) (*Permission, error)
	ListPermissions(ctx context.Context, module string) ([]Permission, error)
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id int64) error
	CountPermissionLinks(ctx context.Context, permissionID int64) (int64, error)

	UpsertAssignment(ctx context.Context, a *UserRoleAssignment) (*UserRoleAssignment, error)
	RevokeAssignment(ctx context.Context, principalID, roleID int64) (bool, error)
	ListAssignments(ctx context.Context, principalID int64, activeOnly bool) ([]UserRoleAssignment, error)
	DeactivateExpiredAssignments(ctx context.Context, now time.Time) ([]int64, error)
	CountActiveRoleAssignments(ctx context.Context, roleID int64, now time.Time) (int64, error)

	EffectivePermissions(ctx context.Context, principalID int64, now time.Time) ([]EffectivePermission, error)
	RolePermissionSet(ctx context.Context, roleID int64) ([]EffectivePermission, error)

	ListRolePrincipals(ctx context.Context, roleID int64) ([]int64, error)
	ListPermissionPrincipals(ctx context.Context, permissionID int64) ([]int64, error)
}

// SQLStore implements Store on database/sql. Queries use $N placeholders,
// which both lib/pq and go-sqlite3 accept.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB exposes the underlying handle for schema setup and health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// CreateRole inserts a role and returns it with its assigned ID
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (name, description, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`

	res, err := s.db.ExecContext(ctx, query,
		role.Name, nullString(role.Description), role.IsSystem, true, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, Conflictf("role %q already exists", role.Name)
		}
		return nil, Internalf(err, "failed to create role")
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// lib/pq does not support LastInsertId; fall back to a name lookup
		return s.GetRoleByName(ctx, role.Name)
	}

	created := *role
	created.ID = id
	created.IsActive = true
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

// GetRole returns the role with the given ID, permissions expanded.
// Soft-deleted roles are not returned.
func (s *SQLStore) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.getRole(ctx, "id = $1", id)
}

// GetRoleByName returns the role with the given name, permissions expanded
func (s *SQLStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.getRole(ctx, "name = $1", name)
}

func (s *SQLStore) getRole(ctx context.Context, where string, arg interface{}) (*Role, error) {
	query := `
		SELECT id, name, description, is_system, is_active, created_at, updated_at, deleted_at
		FROM roles
		WHERE ` + where + ` AND deleted_at IS NULL
	`

	var role Role
	var description sql.NullString
	var deletedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&role.ID, &role.Name, &description, &role.IsSystem,
		&role.IsActive, &role.CreatedAt, &role.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, NotFoundf("role not found")
	}
	if err != nil {
		return nil, Internalf(err, "failed to get role")
	}

	role.Description = description.String
	if deletedAt.Valid {
		role.DeletedAt = &deletedAt.Time
	}

	links, err := s.rolePermissionLinks(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = links

	return &role, nil
}

func (s *SQLStore) rolePermissionLinks(ctx context.Context, roleID int64) ([]RolePermission, error) {
	query := `
		SELECT rp.role_id, rp.permission_id, rp.conditions, rp.created_at,
		       p.id, p.module, p.action, p.resource, p.scope, p.description, p.is_system,
		       p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.module, p.action
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, Internalf(err, "failed to load role permissions")
	}
	defer rows.Close()

	var links []RolePermission
	for rows.Next() {
		var link RolePermission
		var perm Permission
		var conditions, resource, description sql.NullString

		if err := rows.Scan(&link.RoleID, &link.PermissionID, &conditions, &link.CreatedAt,
			&perm.ID, &perm.Module, &perm.Action, &resource, &perm.Scope, &description,
			&perm.IsSystem, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, Internalf(err, "failed to scan role permission")
		}

		perm.Resource = resource.String
		perm.Description = description.String
		if conditions.Valid {
			link.Conditions = json.RawMessage(conditions.String)
		}
		link.Permission = &perm
		links = append(links, link)
	}

	return links, rows.Err()
}

// ListRoles returns all non-deleted roles, optionally including inactive ones
func (s *SQLStore) ListRoles(ctx context.Context, includeInactive bool) ([]Role, error) {
	query := `
		SELECT id, name, description, is_system, is_active, created_at, updated_at
		FROM roles
		WHERE deleted_at IS NULL
	`
	if !includeInactive {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, Internalf(err, "failed to list roles")
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var description sql.NullString
		if err := rows.Scan(&role.ID, &role.Name, &description, &role.IsSystem,
			&role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, Internalf(err, "failed to scan role")
		}
		role.Description = description.String
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// UpdateRole updates a role's name and description
func (s *SQLStore) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query,
		role.Name, nullString(role.Description), time.Now().UTC(), role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Conflictf("role %q already exists", role.Name)
		}
		return Internalf(err, "failed to update role")
	}

	return requireRowAffected(res, "role")
}

// SoftDeleteRole marks a role deleted and deactivates it. The row survives
// so historical audit records keep resolving.
func (s *SQLStore) SoftDeleteRole(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE roles
		SET deleted_at = $1, is_active = FALSE, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return Internalf(err, "failed to delete role")
	}

	return requireRowAffected(res, "role")
}

// SetRoleActive toggles a role's active flag
func (s *SQLStore) SetRoleActive(ctx context.Context, id int64, active bool) error {
	query := `
		UPDATE roles
		SET is_active = $1, updated_at = $2
		WHERE id = $3 AND deleted_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return Internalf(err, "failed to toggle role")
	}

	return requireRowAffected(res, "role")
}

// ReplaceRolePermissions swaps a role's permission set atomically
func (s *SQLStore) ReplaceRolePermissions(ctx context.Context, roleID int64, links []RolePermission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Internalf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = $1", roleID); err != nil {
		return Internalf(err, "failed to clear role permissions")
	}

	now := time.Now().UTC()
	for _, link := range links {
		var conditions interface{}
		if len(link.Conditions) > 0 {
			conditions = string(link.Conditions)
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO role_permissions (role_id, permission_id, conditions, created_at) VALUES ($1, $2, $3, $4)",
			roleID, link.PermissionID, conditions, now)
		if err != nil {
			return Internalf(err, "failed to link permission %d", link.PermissionID)
		}
	}

	if err := tx.Commit(); err != nil {
		return Internalf(err, "failed to commit role permissions")
	}

	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func requireRowAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return Internalf(err, "failed to read affected rows")
	}
	if n == 0 {
		return NotFoundf("%s not found", entity)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite3
		strings.Contains(msg, "duplicate key value") // postgres
}
