// Package activity writes a best-effort JSON entry to the blob store for each
// committed change batch.
package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cellvault/internal/blob"
	"cellvault/internal/mutation"
)

// DefaultPrefix names the daily activity folders.
const DefaultPrefix = "logs/excel_access"

// Entry is the stored JSON shape.
type Entry struct {
	TS       time.Time `json:"ts"`
	Actor    string    `json:"actor"`
	Email    string    `json:"email,omitempty"`
	Document string    `json:"document"`
	Changes  []Change  `json:"changes"`
}

// Change is one cell write inside an Entry.
type Change struct {
	Sheet    string `json:"sheet"`
	Cell     string `json:"cell"`
	NewValue any    `json:"new_value"`
}

// Log writes one object per Record call; it never overwrites earlier entries.
type Log struct {
	store  blob.Store
	prefix string
	newID  func() uuid.UUID
}

var _ mutation.ActivityLog = (*Log)(nil)

// New returns a Log writing under prefix (DefaultPrefix when empty).
func New(store blob.Store, prefix string) *Log {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Log{store: store, prefix: prefix, newID: uuid.New}
}

// KeyFor returns the object key for an entry recorded at ts.
func (l *Log) KeyFor(ts time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s/%s.json", l.prefix, ts.UTC().Format(time.DateOnly), id)
}

// Record stores the batch summary.
func (l *Log) Record(ctx context.Context, a mutation.Activity) error {
	e := Entry{TS: a.At.UTC(), Actor: a.Actor.UserID, Email: a.Actor.Email, Document: a.Document.String()}
	for _, ch := range a.Changes {
		e.Changes = append(e.Changes, Change{Sheet: ch.Sheet, Cell: ch.Cell, NewValue: ch.New})
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	key := l.KeyFor(a.At, l.newID())
	if _, err := l.store.Put(ctx, key, bytes.NewReader(b), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write activity %s: %w", key, err)
	}
	return nil
}
