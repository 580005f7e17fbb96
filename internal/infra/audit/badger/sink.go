// Package badger implements the audit sink on an embedded BadgerDB.
//
// Keys are "audit/<changed_at unix nanos>/<seq>/<id>", both numbers zero
// padded, so a reverse prefix scan yields records newest first. seq comes
// from a database-wide badger.Sequence and orders records that share a
// timestamp, such as every record of one batch, by write order.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"cellvault/internal/audit/core"
)

const (
	keyPrefix = "audit/"
	seqKey    = "meta/audit-seq"
	// seqLease is how many sequence numbers are leased per disk write.
	seqLease = 256
)

// Config configures the embedded database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string
	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives BadgerDB's internal logs. If nil, they are discarded.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Sink stores audit records as JSON values keyed by time and sequence.
type Sink struct {
	db  *badger.DB
	seq *badger.Sequence
}

// New opens the database described by cfg.
func New(cfg Config) (*Sink, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), seqLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit sequence: %w", err)
	}
	return &Sink{db: db, seq: seq}, nil
}

func (s *Sink) Driver() core.Driver { return core.DriverBadger }

func recordKey(r core.Record, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%s", keyPrefix, r.ChangedAt.UnixNano(), seq, r.ID))
}

// Append writes the batch in one badger transaction.
func (s *Sink) Append(ctx context.Context, records []core.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seqs := make([]uint64, len(records))
	for i := range records {
		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("next audit sequence: %w", err)
		}
		seqs[i] = n
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for i, r := range records {
			val, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode audit %s!%s: %w", r.Sheet, r.Cell, err)
			}
			if err := txn.Set(recordKey(r, seqs[i]), val); err != nil {
				return fmt.Errorf("put audit %s!%s: %w", r.Sheet, r.Cell, err)
			}
		}
		return nil
	})
}

// Query scans newest first, stopping once the limit is reached.
func (s *Sink) Query(ctx context.Context, f core.Filter) ([]core.Record, error) {
	limit := f.EffectiveLimit()
	var out []core.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(keyPrefix + "\xff")); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r core.Record
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
				return fmt.Errorf("decode audit: %w", err)
			}
			if !f.Matches(r) {
				continue
			}
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close returns unused leased sequence numbers and closes the database.
func (s *Sink) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}
