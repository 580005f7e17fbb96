// Package sqlite implements the audit sink on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"cellvault/internal/audit/core"
)

const schema = `CREATE TABLE IF NOT EXISTS excel_audit (
	id TEXT PRIMARY KEY,
	document_key TEXT NOT NULL,
	sheet TEXT NOT NULL,
	cell TEXT NOT NULL,
	old_value TEXT NOT NULL,
	new_value TEXT NOT NULL,
	user_id TEXT NOT NULL,
	email TEXT NOT NULL,
	changed_at INTEGER NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS excel_audit_changed_at ON excel_audit(changed_at DESC)`

// Sink stores audit records in a single SQLite table. changed_at is kept as
// unix nanoseconds so ordering is a plain integer comparison.
type Sink struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database at path and ensures the schema.
func New(ctx context.Context, path string) (*Sink, error) {
	if path == "" {
		path = "cellvault-audit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer connection keeps batches serialized
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{schema, index} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return &Sink{db: db, path: path}, nil
}

func (s *Sink) Driver() core.Driver { return core.DriverSQLite }

// Append inserts the batch in one transaction.
func (s *Sink) Append(ctx context.Context, records []core.Record) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO excel_audit (id, document_key, sheet, cell, old_value, new_value, user_id, email, changed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), r.DocumentKey, r.Sheet, r.Cell, r.OldValue, r.NewValue, r.UserID, r.Email, r.ChangedAt.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert audit %s!%s: %w", r.Sheet, r.Cell, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Query returns matching records newest first.
func (s *Sink) Query(ctx context.Context, f core.Filter) ([]core.Record, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.DocumentKey != "" {
		where = append(where, "document_key = ?")
		args = append(args, f.DocumentKey)
	}
	q := `SELECT id, document_key, sheet, cell, old_value, new_value, user_id, email, changed_at FROM excel_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY changed_at DESC, rowid DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Record
	for rows.Next() {
		var (
			r     core.Record
			id    string
			nanos int64
		)
		if err := rows.Scan(&id, &r.DocumentKey, &r.Sheet, &r.Cell, &r.OldValue, &r.NewValue, &r.UserID, &r.Email, &nanos); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("decode audit id: %w", err)
		}
		r.ChangedAt = time.Unix(0, nanos).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Sink) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Sink) Path() string { return s.path }

func (s *Sink) Close() error { return s.db.Close() }
