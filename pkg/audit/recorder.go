package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Recorder persists audit records
type Recorder interface {
	// Record writes a single audit entry
	Record(ctx context.Context, rec Record) error
}

// DBRecorder writes audit records to the audit_records table
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed audit recorder
func NewDBRecorder(db *sql.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

// Record writes a single audit entry
func (r *DBRecorder) Record(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_records (principal_id, module, action, resource, allowed, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var metadata interface{}
	if len(rec.Metadata) > 0 {
		metadata = string(rec.Metadata)
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.PrincipalID, rec.Module, rec.Action, nullable(rec.Resource),
		rec.Allowed, nullable(rec.Reason), metadata, rec.At)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}

	return nil
}

// ListRecords returns audit entries matching the filter, newest first
func (r *DBRecorder) ListRecords(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT id, principal_id, module, action, resource, allowed, reason, metadata, created_at
		FROM audit_records
		WHERE 1=1
	`
	args := []interface{}{}
	n := 0

	arg := func(v interface{}) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if f.PrincipalID != 0 {
		query += " AND principal_id = " + arg(f.PrincipalID)
	}
	if f.Module != "" {
		query += " AND module = " + arg(f.Module)
	}
	if f.Allowed != nil {
		query += " AND allowed = " + arg(*f.Allowed)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= " + arg(f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND created_at < " + arg(f.Until)
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var resource, reason, metadata sql.NullString
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.Module, &rec.Action,
			&resource, &rec.Allowed, &reason, &metadata, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Resource = resource.String
		rec.Reason = reason.String
		if metadata.Valid {
			rec.Metadata = []byte(metadata.String)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// PruneBefore deletes audit records older than the cutoff and returns the
// number of rows removed.
func (r *DBRecorder) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM audit_records WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// NoopRecorder discards all records. Useful in tests and when auditing is
// disabled by configuration.
type NoopRecorder struct{}

// Record discards the entry
func (NoopRecorder) Record(ctx context.Context, rec Record) error { return nil }
