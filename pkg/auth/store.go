package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrPrincipalNotFound indicates the requested principal does not exist.
var ErrPrincipalNotFound = errors.New("principal not found")

// PrincipalStore resolves principals by ID
type PrincipalStore interface {
	// GetPrincipal returns the principal with the given ID
	GetPrincipal(ctx context.Context, id int64) (*Principal, error)
}

// SQLPrincipalStore is a PrincipalStore backed by the users table
type SQLPrincipalStore struct {
	db *sql.DB
}

// NewSQLPrincipalStore creates a new SQL-backed principal store
func NewSQLPrincipalStore(db *sql.DB) *SQLPrincipalStore {
	return &SQLPrincipalStore{db: db}
}

// GetPrincipal returns the principal with the given ID
func (s *SQLPrincipalStore) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	query := `
		SELECT id, username, full_name, role_label, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var p Principal
	var fullName sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Username,
		&fullName,
		&p.RoleLabel,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	if fullName.Valid {
		p.FullName = fullName.String
	}

	return &p, nil
}
