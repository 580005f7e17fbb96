// Package postgres implements the audit sink on Postgres via the pgx
// database/sql driver. Records land in the excel_audit table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"cellvault/internal/audit/core"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/cellvault?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS excel_audit (
		id UUID PRIMARY KEY,
		document_key TEXT NOT NULL,
		sheet TEXT NOT NULL,
		cell TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		user_id TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL NOT NULL
	)`,
	`ALTER TABLE excel_audit ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`,
	`CREATE INDEX IF NOT EXISTS excel_audit_user_changed_idx ON excel_audit (user_id, changed_at DESC)`,
}

// Sink appends audit records to Postgres.
type Sink struct {
	db *sql.DB
}

// New opens a Postgres-backed sink using dsn (falls back to defaultDSN) and ensures the schema.
func New(ctx context.Context, dsn string) (*Sink, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Driver() core.Driver { return core.DriverPostgres }

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
			`INSERT INTO excel_audit (id, document_key, sheet, cell, old_value, new_value, user_id, email, changed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID.String(), r.DocumentKey, r.Sheet, r.Cell, r.OldValue, r.NewValue, r.UserID, r.Email, r.ChangedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert audit %s!%s: %w", r.Sheet, r.Cell, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Query returns matching records newest first. seq orders records that share
// a timestamp by insertion.
func (s *Sink) Query(ctx context.Context, f core.Filter) ([]core.Record, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.DocumentKey != "" {
		args = append(args, f.DocumentKey)
		where = append(where, fmt.Sprintf("document_key = $%d", len(args)))
	}
	q := `SELECT id, document_key, sheet, cell, old_value, new_value, user_id, email, changed_at FROM excel_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	q += fmt.Sprintf(" ORDER BY changed_at DESC, seq DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select audit: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Record
	for rows.Next() {
		var (
			r  core.Record
			id string
			at time.Time
		)
		if err := rows.Scan(&id, &r.DocumentKey, &r.Sheet, &r.Cell, &r.OldValue, &r.NewValue, &r.UserID, &r.Email, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("decode audit id: %w", err)
		}
		r.ChangedAt = at.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Sink) DB() *sql.DB { return s.db }

func (s *Sink) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
