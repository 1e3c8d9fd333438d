package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertAssignment grants a role to a principal. A previous assignment of
// the same role, revoked or expired, is reactivated in place with the new
// expiry and context rather than duplicated.
func (s *SQLStore) UpsertAssignment(ctx context.Context, a *UserRoleAssignment) (*UserRoleAssignment, error) {
	now := time.Now().UTC()

	var contextDoc interface{}
	if len(a.Context) > 0 {
		contextDoc = string(a.Context)
	}

	update := `
		UPDATE user_role_assignments
		SET is_active = TRUE, assigned_by = $1, assigned_at = $2, expires_at = $3, context = $4
		WHERE principal_id = $5 AND role_id = $6
	`
	res, err := s.db.ExecContext(ctx, update,
		nullInt(a.AssignedBy), now, nullTime(a.ExpiresAt), contextDoc, a.PrincipalID, a.RoleID)
	if err != nil {
		return nil, Internalf(err, "failed to update assignment")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		insert := `
			INSERT INTO user_role_assignments (principal_id, role_id, assigned_by, assigned_at, expires_at, is_active, context)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		`
		if _, err := s.db.ExecContext(ctx, insert,
			a.PrincipalID, a.RoleID, nullInt(a.AssignedBy), now, nullTime(a.ExpiresAt), contextDoc); err != nil {
			return nil, Internalf(err, "failed to insert assignment")
		}
	}

	return s.getAssignment(ctx, a.PrincipalID, a.RoleID)
}

func (s *SQLStore) getAssignment(ctx context.Context, principalID, roleID int64) (*UserRoleAssignment, error) {
	query := `
		SELECT id, principal_id, role_id, assigned_by, assigned_at, expires_at, is_active, context
		FROM user_role_assignments
		WHERE principal_id = $1 AND role_id = $2
	`

	var a UserRoleAssignment
	var assignedBy sql.NullInt64
	var expiresAt sql.NullTime
	var contextDoc sql.NullString

	err := s.db.QueryRowContext(ctx, query, principalID, roleID).Scan(
		&a.ID, &a.PrincipalID, &a.RoleID, &assignedBy, &a.AssignedAt,
		&expiresAt, &a.IsActive, &contextDoc)
	if err == sql.ErrNoRows {
		return nil, NotFoundf("assignment not found")
	}
	if err != nil {
		return nil, Internalf(err, "failed to get assignment")
	}

	if assignedBy.Valid {
		a.AssignedBy = &assignedBy.Int64
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	if contextDoc.Valid {
		a.Context = json.RawMessage(contextDoc.String)
	}

	return &a, nil
}

// RevokeAssignment deactivates a principal's role assignment. It reports
// whether an active assignment was actually revoked; revoking an absent or
// already-revoked assignment is not an error.
func (s *SQLStore) RevokeAssignment(ctx context.Context, principalID, roleID int64) (bool, error) {
	query := `
		UPDATE user_role_assignments
		SET is_active = FALSE
		WHERE principal_id = $1 AND role_id = $2 AND is_active = TRUE
	`

	res, err := s.db.ExecContext(ctx, query, principalID, roleID)
	if err != nil {
		return false, Internalf(err, "failed to revoke assignment")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, Internalf(err, "failed to read affected rows")
	}
	return n > 0, nil
}

// ListAssignments returns a principal's role assignments
func (s *SQLStore) ListAssignments(ctx context.Context, principalID int64, activeOnly bool) ([]UserRoleAssignment, error) {
	query := `
		SELECT id, principal_id, role_id, assigned_by, assigned_at, expires_at, is_active, context
		FROM user_role_assignments
		WHERE principal_id = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY assigned_at"

	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, Internalf(err, "failed to list assignments")
	}
	defer rows.Close()

	var assignments []UserRoleAssignment
	for rows.Next() {
		var a UserRoleAssignment
		var assignedBy sql.NullInt64
		var expiresAt sql.NullTime
		var contextDoc sql.NullString

		if err := rows.Scan(&a.ID, &a.PrincipalID, &a.RoleID, &assignedBy,
			&a.AssignedAt, &expiresAt, &a.IsActive, &contextDoc); err != nil {
			return nil, Internalf(err, "failed to scan assignment")
		}

		if assignedBy.Valid {
			a.AssignedBy = &assignedBy.Int64
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			a.ExpiresAt = &t
		}
		if contextDoc.Valid {
			a.Context = json.RawMessage(contextDoc.String)
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// DeactivateExpiredAssignments flips expired active assignments to inactive
// and returns the principal IDs that were affected, so their cached
// permission sets can be invalidated.
func (s *SQLStore) DeactivateExpiredAssignments(ctx context.Context, now time.Time) ([]int64, error) {
	selectQuery := `
		SELECT DISTINCT principal_id
		FROM user_role_assignments
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`

	rows, err := s.db.QueryContext(ctx, selectQuery, now)
	if err != nil {
		return nil, Internalf(err, "failed to find expired assignments")
	}
	defer rows.Close()

	var principals []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, Internalf(err, "failed to scan principal")
		}
		principals = append(principals, id)
	}
	if err := rows.Err(); err != nil {
		return nil, Internalf(err, "failed to iterate expired assignments")
	}
	if len(principals) == 0 {
		return nil, nil
	}

	update := `
		UPDATE user_role_assignments
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`
	if _, err := s.db.ExecContext(ctx, update, now); err != nil {
		return nil, Internalf(err, "failed to deactivate expired assignments")
	}

	return principals, nil
}

// CountActiveRoleAssignments counts the live, unexpired assignments of a
// role. DeleteRole refuses while this is non-zero.
func (s *SQLStore) CountActiveRoleAssignments(ctx context.Context, roleID int64, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM user_role_assignments
		WHERE role_id = $1
		  AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, roleID, now).Scan(&count); err != nil {
		return 0, Internalf(err, "failed to count active assignments for role %d", roleID)
	}
	return count, nil
}

// EffectivePermissions resolves a principal's permission set from its
// active, unexpired assignments through active roles. Each row carries the
// role link's conditions and the assignment's context.
func (s *SQLStore) EffectivePermissions(ctx context.Context, principalID int64, now time.Time) ([]EffectivePermission, error) {
	query := `
		SELECT p.module, p.action, p.resource, p.scope, rp.conditions, a.context, r.name
		FROM user_role_assignments a
		JOIN roles r ON r.id = a.role_id AND r.is_active = TRUE AND r.deleted_at IS NULL
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE a.principal_id = $1
		  AND a.is_active = TRUE
		  AND (a.expires_at IS NULL OR a.expires_at > $2)
		ORDER BY r.name, p.module, p.action
	`

	return s.queryEffective(ctx, query, principalID, now)
}

// RolePermissionSet returns the permission set a single role grants, with
// no assignment context attached. Used for the legacy label fallback.
func (s *SQLStore) RolePermissionSet(ctx context.Context, roleID int64) ([]EffectivePermission, error) {
	query := `
		SELECT p.module, p.action, p.resource, p.scope, rp.conditions, NULL, r.name
		FROM roles r
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE r.id = $1 AND r.is_active = TRUE AND r.deleted_at IS NULL
		ORDER BY p.module, p.action
	`

	return s.queryEffective(ctx, query, roleID)
}

func (s *SQLStore) queryEffective(ctx context.Context, query string, args ...interface{}) ([]EffectivePermission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Internalf(err, "failed to resolve permissions")
	}
	defer rows.Close()

	var perms []EffectivePermission
	for rows.Next() {
		var ep EffectivePermission
		var resource, conditions, contextDoc sql.NullString

		if err := rows.Scan(&ep.Module, &ep.Action, &resource, &ep.Scope,
			&conditions, &contextDoc, &ep.RoleName); err != nil {
			return nil, Internalf(err, "failed to scan permission")
		}

		ep.Resource = resource.String
		if conditions.Valid {
			ep.Conditions = json.RawMessage(conditions.String)
		}
		if contextDoc.Valid {
			ep.Context = json.RawMessage(contextDoc.String)
		}
		perms = append(perms, ep)
	}

	return perms, rows.Err()
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ListRolePrincipals returns the principals holding an active assignment of
// the role. Used to invalidate cached permission sets when the role changes.
func (s *SQLStore) ListRolePrincipals(ctx context.Context, roleID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT principal_id
		FROM user_role_assignments
		WHERE role_id = $1 AND is_active = TRUE
	`
	return s.queryPrincipals(ctx, query, roleID)
}

// ListPermissionPrincipals returns the principals whose active assignments
// reach the permission through any role.
func (s *SQLStore) ListPermissionPrincipals(ctx context.Context, permissionID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT a.principal_id
		FROM user_role_assignments a
		JOIN role_permissions rp ON rp.role_id = a.role_id
		WHERE rp.permission_id = $1 AND a.is_active = TRUE
	`
	return s.queryPrincipals(ctx, query, permissionID)
}

func (s *SQLStore) queryPrincipals(ctx context.Context, query string, arg interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, Internalf(err, "failed to list principals")
	}
	defer rows.Close()

	var principals []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, Internalf(err, "failed to scan principal")
		}
		principals = append(principals, id)
	}
	return principals, rows.Err()
}
