package rbac

import (
	"context"
	"database/sql"
	"time"
)

// CreatePermission inserts a permission and returns it with its assigned ID
func (s *SQLStore) CreatePermission(ctx context.Context, p *Permission) (*Permission, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO permissions (module, action, resource, scope, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	res, err := s.db.ExecContext(ctx, query,
		p.Module, p.Action, nullString(p.Resource), string(p.Scope),
		nullString(p.Description), p.IsSystem, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, Conflictf("permission %s:%s (%s) already exists", p.Module, p.Action, p.Scope)
		}
		return nil, Internalf(err, "failed to create permission")
	}

	created := *p
	created.CreatedAt = now
	created.UpdatedAt = now

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// lib/pq has no LastInsertId; re-read the row by its identity
		found, ferr := s.FindPermissionByIdentity(ctx, p.Module, p.Action, p.Resource)
		if ferr != nil {
			return nil, ferr
		}
		return found, nil
	}
	created.ID = id

	return &created, nil
}

// GetPermission returns the permission with the given ID
func (s *SQLStore) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	return s.getPermission(ctx, "id = $1", id)
}

// FindPermission looks a permission up by its module, action, scope triple
func (s *SQLStore) FindPermission(ctx context.Context, module, action string, scope Scope) (*Permission, error) {
	return s.getPermission(ctx, "module = $1 AND action = $2 AND scope = $3", module, action, string(scope))
}

// FindPermissionByIdentity looks a permission up by the unique
// (module, action, resource) triple.
func (s *SQLStore) FindPermissionByIdentity(ctx context.Context, module, action, resource string) (*Permission, error) {
	return s.getPermission(ctx, "module = $1 AND action = $2 AND COALESCE(resource, '') = $3", module, action, resource)
}

func (s *SQLStore) getPermission(ctx context.Context, where string, args ...interface{}) (*Permission, error) {
	query := `
		SELECT id, module, action, resource, scope, description, is_system, created_at, updated_at
		FROM permissions
		WHERE ` + where

	var p Permission
	var resource, description sql.NullString

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.Module, &p.Action, &resource, &p.Scope,
		&description, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, NotFoundf("permission not found")
	}
	if err != nil {
		return nil, Internalf(err, "failed to get permission")
	}

	p.Resource = resource.String
	p.Description = description.String
	return &p, nil
}

// ListPermissions returns permissions, optionally filtered to one module
func (s *SQLStore) ListPermissions(ctx context.Context, module string) ([]Permission, error) {
	query := `
		SELECT id, module, action, resource, scope, description, is_system, created_at, updated_at
		FROM permissions
	`
	var args []interface{}
	if module != "" {
		query += " WHERE module = $1"
		args = append(args, module)
	}
	query += " ORDER BY module, action, scope"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Internalf(err, "failed to list permissions")
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var resource, description sql.NullString
		if err := rows.Scan(&p.ID, &p.Module, &p.Action, &resource, &p.Scope,
			&description, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, Internalf(err, "failed to scan permission")
		}
		p.Resource = resource.String
		p.Description = description.String
		perms = append(perms, p)
	}

	return perms, rows.Err()
}

// UpdatePermission updates a permission's definition
func (s *SQLStore) UpdatePermission(ctx context.Context, p *Permission) error {
	query := `
		UPDATE permissions
		SET module = $1, action = $2, resource = $3, scope = $4, description = $5, updated_at = $6
		WHERE id = $7
	`

	res, err := s.db.ExecContext(ctx, query,
		p.Module, p.Action, nullString(p.Resource), string(p.Scope),
		nullString(p.Description), time.Now().UTC(), p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Conflictf("permission %s:%s (%s) already exists", p.Module, p.Action, p.Scope)
		}
		return Internalf(err, "failed to update permission")
	}

	return requireRowAffected(res, "permission")
}

// DeletePermission removes a permission row
func (s *SQLStore) DeletePermission(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM permissions WHERE id = $1", id)
	if err != nil {
		return Internalf(err, "failed to delete permission")
	}
	return requireRowAffected(res, "permission")
}

// CountPermissionLinks returns how many roles reference the permission
func (s *SQLStore) CountPermissionLinks(ctx context.Context, permissionID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1", permissionID).Scan(&count)
	if err != nil {
		return 0, Internalf(err, "failed to count permission links")
	}
	return count, nil
}
