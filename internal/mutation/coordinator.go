// Package mutation serializes, applies and persists cell change batches
// against a stored workbook while keeping the audit trail consistent with it.
package mutation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/failure"
	"cellvault/internal/observability"
	"cellvault/internal/workbook"
)

// ContentTypeXLSX is stored alongside every uploaded document.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DocumentKey names a stored document.
type DocumentKey struct {
	Bucket string
	Name   string
}

// ObjectKey is the blob store key for the document.
func (k DocumentKey) ObjectKey() string { return path.Join(k.Bucket, k.Name) }

func (k DocumentKey) String() string { return k.ObjectKey() }

// DocumentHandle pins the version a mutation read.
type DocumentHandle struct {
	Key     DocumentKey
	Version string
}

// Outcome summarizes a committed batch. Warning carries a non-fatal
// verification failure.
type Outcome struct {
	Applied int
	Changes []ChangeResult
	Handle  DocumentHandle
	Warning *failure.Error
}

// Activity describes a committed batch for the best-effort activity log.
type Activity struct {
	At       time.Time
	Actor    Actor
	Document DocumentKey
	Changes  []ChangeResult
}

// ActivityLog receives committed batches. Its failures never affect the commit.
type ActivityLog interface {
	Record(ctx context.Context, a Activity) error
}

// Coordinator runs the fetch, parse, apply, audit, upload and verify sequence
// for one document key at a time.
type Coordinator struct {
	blobs       blob.Store
	sink        audit.Sink
	serializer  *Serializer
	activity    ActivityLog
	logger      *slog.Logger
	recorder    observability.Recorder
	tracer      observability.Tracer
	clock       func() time.Time
	newID       func() uuid.UUID
	conditional bool
	verify      bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.clock = fn
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t observability.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithActivityLog attaches the best-effort activity sink.
func WithActivityLog(a ActivityLog) Option {
	return func(c *Coordinator) { c.activity = a }
}

// WithConditionalWrites enables version drift checks and IfMatch uploads.
func WithConditionalWrites(on bool) Option {
	return func(c *Coordinator) { c.conditional = on }
}

// WithVerification toggles the post-upload read-back.
func WithVerification(on bool) Option {
	return func(c *Coordinator) { c.verify = on }
}

// NewCoordinator wires a coordinator. A nil serializer gets the default queue policy.
func NewCoordinator(blobs blob.Store, sink audit.Sink, serializer *Serializer, opts ...Option) *Coordinator {
	if serializer == nil {
		serializer = NewSerializer(PolicyQueue, DefaultWaitTimeout)
	}
	c := &Coordinator{
		blobs:      blobs,
		sink:       sink,
		serializer: serializer,
		logger:     slog.Default(),
		recorder:   observability.Nop{},
		tracer:     observability.Nop{},
		clock:      func() time.Time { return time.Now().UTC() },
		newID:      uuid.New,
		verify:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	serializer.OnContended(func(string) {
		c.recorder.Add(context.Background(), observability.EventLockContention, 1)
	})
	return c
}

// Apply commits changes to the document at key on behalf of actor.
func (c *Coordinator) Apply(ctx context.Context, key DocumentKey, actor Actor, changes []ChangeRequest) (Outcome, error) {
	started := time.Now()
	var out Outcome
	err := c.serializer.Do(ctx, key.ObjectKey(), func(ctx context.Context) error {
		var err error
		out, err = c.commit(ctx, key, actor, changes)
		return err
	})
	c.recorder.Observe(ctx, "apply", err == nil, time.Since(started))
	return out, err
}

func (c *Coordinator) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "mutation."+name)
	err := fn(ctx)
	span.End(err)
	return err
}

func (c *Coordinator) commit(ctx context.Context, key DocumentKey, actor Actor, changes []ChangeRequest) (Outcome, error) {
	var (
		raw     []byte
		handle  = DocumentHandle{Key: key}
		doc     *workbook.Document
		results []ChangeResult
		updated []byte
	)
	if err := c.step(ctx, "fetch", func(ctx context.Context) error {
		var err error
		raw, handle.Version, err = c.fetch(ctx, key)
		return err
	}); err != nil {
		return Outcome{}, err
	}
	if err := c.step(ctx, "parse", func(context.Context) error {
		var err error
		doc, err = workbook.Parse(raw)
		return err
	}); err != nil {
		return Outcome{}, err
	}
	defer func() { _ = doc.Close() }()

	now := c.clock()
	if err := c.step(ctx, "apply", func(context.Context) error {
		var err error
		if results, err = Apply(doc, changes, actor, now); err != nil {
			return err
		}
		if updated, err = doc.Bytes(); err != nil {
			return failure.Wrap(failure.KindInternal, err, "serialize document")
		}
		return nil
	}); err != nil {
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, contextFailure(err)
	}

	// Side effects begin here; caller cancellation no longer aborts.
	pctx := context.WithoutCancel(ctx)
	if c.conditional {
		if err := c.step(pctx, "precondition", func(ctx context.Context) error {
			return c.checkVersion(ctx, handle)
		}); err != nil {
			return Outcome{}, err
		}
	}

	records := c.auditRecords(key, results)
	if err := c.step(pctx, "audit", func(ctx context.Context) error {
		return c.sink.Append(ctx, records)
	}); err != nil {
		c.recorder.Add(pctx, observability.EventAuditWriteFailed, 1)
		c.logger.Error("audit write failed; document left unchanged",
			slog.String("document", key.String()), slog.String("actor", actor.UserID), slog.Any("error", err))
		return Outcome{}, failure.Wrap(failure.KindAuditWriteFailed, err, "persist audit records")
	}

	out := Outcome{Applied: len(results), Changes: results, Handle: handle}
	if err := c.step(pctx, "upload", func(ctx context.Context) error {
		opts := blob.PutOptions{ContentType: ContentTypeXLSX}
		if c.conditional {
			opts.IfMatch = handle.Version
		}
		info, err := c.blobs.Put(ctx, key.ObjectKey(), bytes.NewReader(updated), opts)
		if err != nil {
			return err
		}
		out.Handle.Version = info.ETag
		return nil
	}); err != nil {
		c.recorder.Add(pctx, observability.EventPartialCommit, 1)
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.ID.String()
		}
		c.logger.Error("partial commit: audit recorded but document upload failed",
			slog.String("document", key.String()), slog.String("actor", actor.UserID),
			slog.Any("audit_ids", ids), slog.Any("error", err))
		return out, failure.Wrap(failure.KindPartialCommit, err, "audit recorded for %d change(s) but document upload failed; operator reconciliation required", len(results))
	}
	c.recorder.Add(pctx, observability.EventChangesApplied, len(results))
	c.logger.Info("changes committed",
		slog.String("document", key.String()), slog.String("actor", actor.UserID),
		slog.Int("applied", len(results)), slog.String("version", out.Handle.Version))

	if c.activity != nil {
		if err := c.activity.Record(pctx, Activity{At: now, Actor: actor, Document: key, Changes: results}); err != nil {
			c.recorder.Add(pctx, observability.EventActivityWriteFailed, 1)
			c.logger.Warn("activity log write failed", slog.String("document", key.String()), slog.Any("error", err))
		}
	}

	if c.verify {
		if err := c.step(pctx, "verify", func(ctx context.Context) error {
			return c.verifyCommitted(ctx, key, results)
		}); err != nil {
			var fe *failure.Error
			if !errors.As(err, &fe) || fe.Kind != failure.KindVerificationFailed {
				fe = &failure.Error{Kind: failure.KindVerificationFailed, Message: "could not confirm committed values", Err: err}
			}
			out.Warning = fe
			c.recorder.Add(pctx, observability.EventVerificationFailed, 1)
			c.logger.Warn("post-commit verification failed",
				slog.String("document", key.String()), slog.Any("error", err))
		}
	}
	return out, nil
}

func (c *Coordinator) fetch(ctx context.Context, key DocumentKey) ([]byte, string, error) {
	info, rc, err := c.blobs.Get(ctx, key.ObjectKey())
	if err != nil {
		return nil, "", classifyStorage(ctx, err, key)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", classifyStorage(ctx, err, key)
	}
	return b, info.ETag, nil
}

func (c *Coordinator) checkVersion(ctx context.Context, handle DocumentHandle) error {
	info, err := c.blobs.Head(ctx, handle.Key.ObjectKey())
	if err != nil {
		return classifyStorage(ctx, err, handle.Key)
	}
	if info.ETag != handle.Version {
		c.recorder.Add(ctx, observability.EventConflict, 1)
		return failure.New(failure.KindConflict, "document %s changed since it was read (version %s, now %s)", handle.Key, handle.Version, info.ETag)
	}
	return nil
}

func (c *Coordinator) auditRecords(key DocumentKey, results []ChangeResult) []audit.Record {
	records := make([]audit.Record, len(results))
	for i, r := range results {
		records[i] = audit.Record{
			ID:          c.newID(),
			DocumentKey: key.String(),
			Sheet:       r.Sheet,
			Cell:        r.Cell,
			OldValue:    r.Old.String(),
			NewValue:    r.New.String(),
			UserID:      r.UserID,
			Email:       r.Email,
			ChangedAt:   r.At,
		}
	}
	return records
}

func (c *Coordinator) verifyCommitted(ctx context.Context, key DocumentKey, results []ChangeResult) error {
	raw, _, err := c.fetch(ctx, key)
	if err != nil {
		return err
	}
	doc, err := workbook.Parse(raw)
	if err != nil {
		return err
	}
	defer func() { _ = doc.Close() }()
	want, order := finalValues(results)
	for _, r := range order {
		addr, err := workbook.Resolve(doc, r.Sheet, r.Cell)
		if err != nil {
			return err
		}
		got, err := doc.Get(addr)
		if err != nil {
			return err
		}
		if exp := want[r.Sheet+"!"+r.Cell]; !got.Equal(exp) {
			return failure.New(failure.KindVerificationFailed, "%s!%s holds %q, expected %q", r.Sheet, r.Cell, clip(got.String()), clip(exp.String()))
		}
	}
	return nil
}

// clipRunes bounds cell values quoted in verification messages.
const clipRunes = 64

func clip(s string) string {
	if utf8.RuneCountInString(s) <= clipRunes {
		return s
	}
	return string([]rune(s)[:clipRunes]) + "..."
}

func classifyStorage(ctx context.Context, err error, key DocumentKey) error {
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return failure.Wrap(failure.KindNotFound, err, "document %s not found", key)
	case ctx.Err() != nil:
		return contextFailure(ctx.Err())
	default:
		return failure.Wrap(failure.KindStorageUnavailable, err, "storage unavailable for %s", key)
	}
}
