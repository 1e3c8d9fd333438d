package rbac

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gradekeep/gradekeep/pkg/auth"
	"github.com/gradekeep/gradekeep/pkg/observability"
)

// SetupTestDB opens an in-memory sqlite database with the full schema.
// The handle is closed automatically when the test finishes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// in-memory sqlite drops its schema when the pool opens a second
	// connection
	db.SetMaxOpenConns(1)

	if err := RunMigrations(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// TestLogger returns a logger that discards output
func TestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// CreateTestUser inserts a user row and returns its ID
func CreateTestUser(t *testing.T, db *sql.DB, username, roleLabel string) int64 {
	t.Helper()

	res, err := db.Exec(
		"INSERT INTO users (username, role_label, is_active) VALUES ($1, $2, TRUE)",
		username, roleLabel)
	if err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read test user ID: %v", err)
	}
	return id
}

// CreateTestPermission inserts a permission and returns it
func CreateTestPermission(t *testing.T, store Store, module, action string, scope Scope) *Permission {
	t.Helper()

	perm, err := store.CreatePermission(context.Background(), &Permission{
		Module: module,
		Action: action,
		Scope:  scope,
	})
	if err != nil {
		t.Fatalf("Failed to create test permission: %v", err)
	}
	return perm
}

// CreateTestRole inserts a role linked to the given permissions
func CreateTestRole(t *testing.T, store Store, name string, perms ...*Permission) *Role {
	t.Helper()

	ctx := context.Background()
	role, err := store.CreateRole(ctx, &Role{Name: name})
	if err != nil {
		t.Fatalf("Failed to create test role: %v", err)
	}

	links := make([]RolePermission, 0, len(perms))
	for _, p := range perms {
		links = append(links, RolePermission{PermissionID: p.ID})
	}
	if len(links) > 0 {
		if err := store.ReplaceRolePermissions(ctx, role.ID, links); err != nil {
			t.Fatalf("Failed to link test permissions: %v", err)
		}
	}

	return role
}

// NewTestResolver builds a resolver over the store with a database cache
// and no audit recorder.
func NewTestResolver(t *testing.T, db *sql.DB) (*Resolver, *Manager, *SQLStore) {
	t.Helper()

	store := NewSQLStore(db)
	cache := NewStoreDecisionCache(db, time.Hour)
	logger := TestLogger()

	resolver := NewResolver(ResolverConfig{
		Store:      store,
		Cache:      cache,
		Principals: auth.NewSQLPrincipalStore(db),
		Logger:     logger,
	})
	manager := NewManager(store, cache, logger, nil)

	return resolver, manager, store
}
