// Package core defines the audit record shape and the sink contract
// implemented by the infra audit drivers.
package core

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Driver identifies a concrete audit sink implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverBadger   Driver = "badger"
)

const (
	// DefaultLimit applies when a Filter carries no limit.
	DefaultLimit = 100
	// MaxLimit caps any requested limit.
	MaxLimit = 500
)

// Record is one committed cell change. Records are append-only.
type Record struct {
	ID          uuid.UUID `json:"id"`
	DocumentKey string    `json:"document_key"`
	Sheet       string    `json:"sheet"`
	Cell        string    `json:"cell"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	ChangedAt   time.Time `json:"changed_at"`
}

// Filter narrows a Query. Empty fields match everything.
type Filter struct {
	UserID      string
	DocumentKey string
	Limit       int
}

// EffectiveLimit clamps Limit into [1, MaxLimit] defaulting to DefaultLimit.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r passes the filter predicates.
func (f Filter) Matches(r Record) bool {
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.DocumentKey != "" && r.DocumentKey != f.DocumentKey {
		return false
	}
	return true
}

// Sink persists audit records.
//
// Append is all-or-nothing: either every record in the batch is stored or
// none is. Query returns records ordered by ChangedAt descending.
type Sink interface {
	Append(ctx context.Context, records []Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Driver() Driver
	Close() error
}

// Select applies f to records in memory, newest first. Ties on ChangedAt
// keep insertion order reversed so later appends sort first.
func Select(records []Record, f Filter) []Record {
	out := make([]Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		if f.Matches(records[i]) {
			out = append(out, records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.After(out[j].ChangedAt) })
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}
