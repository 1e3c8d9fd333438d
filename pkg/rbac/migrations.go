package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RunMigrations creates the authorization schema if it does not exist.
// Statements are written to run on both postgres and sqlite3; the only
// divergence is the auto-increment primary key type, substituted per driver.
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	pk := "BIGSERIAL PRIMARY KEY"
	if driver == "sqlite3" {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id {{PK}},
			username TEXT NOT NULL UNIQUE,
			full_name TEXT,
			role_label TEXT NOT NULL DEFAULT 'STUDENT',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id {{PK}},
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id {{PK}},
			module TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT,
			scope TEXT NOT NULL,
			description TEXT,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_identity
			ON permissions (module, action, COALESCE(resource, ''))`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id BIGINT NOT NULL REFERENCES roles(id),
			permission_id BIGINT NOT NULL REFERENCES permissions(id),
			conditions TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (role_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_role_assignments (
			id {{PK}},
			principal_id BIGINT NOT NULL,
			role_id BIGINT NOT NULL REFERENCES roles(id),
			assigned_by BIGINT,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			context TEXT,
			UNIQUE (principal_id, role_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_principal
			ON user_role_assignments (principal_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS permission_cache (
			principal_id BIGINT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_records (
			id {{PK}},
			principal_id BIGINT NOT NULL,
			module TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT,
			allowed BOOLEAN NOT NULL,
			reason TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created
			ON audit_records (created_at)`,
	}

	for _, stmt := range statements {
		stmt = strings.ReplaceAll(stmt, "{{PK}}", pk)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}
