// Package memory implements an in-process audit sink for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"

	"cellvault/internal/audit/core"
)

// Sink captures audit records in memory.
type Sink struct {
	mu      sync.Mutex
	records []core.Record
}

// New returns an empty in-memory sink.
func New() *Sink { return &Sink{} }

func (s *Sink) Driver() core.Driver { return core.DriverMemory }

// Append stores the batch under a single lock acquisition.
func (s *Sink) Append(ctx context.Context, records []core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()
	return nil
}

// Query returns matching records newest first.
func (s *Sink) Query(_ context.Context, f core.Filter) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Select(s.records, f), nil
}

// Records returns a copy of every stored record in append order.
func (s *Sink) Records() []core.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Sink) Close() error { return nil }
