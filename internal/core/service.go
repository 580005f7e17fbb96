// Package core exposes the document operations as plain functions over a
// resolved identity and a request.
package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/failure"
	"cellvault/internal/mutation"
	"cellvault/internal/observability"
	"cellvault/internal/workbook"
)

// Preview bounds used when none are configured.
const (
	DefaultPreviewRows    = 20
	DefaultPreviewCols    = 10
	DefaultMaxPreviewRows = 1000
	DefaultMaxPreviewCols = 100
	DefaultMaxChanges     = 500
	DefaultPresignExpiry  = 15 * time.Minute
)

// Limits caps request sizes.
type Limits struct {
	MaxChanges     int
	MaxPreviewRows int
	MaxPreviewCols int
	PresignExpiry  time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MaxChanges <= 0 {
		l.MaxChanges = DefaultMaxChanges
	}
	if l.MaxPreviewRows <= 0 {
		l.MaxPreviewRows = DefaultMaxPreviewRows
	}
	if l.MaxPreviewCols <= 0 {
		l.MaxPreviewCols = DefaultMaxPreviewCols
	}
	if l.PresignExpiry <= 0 {
		l.PresignExpiry = DefaultPresignExpiry
	}
	return l
}

// Service serves one configured document.
type Service struct {
	blobs    blob.Store
	sink     audit.Sink
	coord    *mutation.Coordinator
	doc      mutation.DocumentKey
	limits   Limits
	logger   *slog.Logger
	recorder observability.Recorder
	tracer   observability.Tracer
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithLimits overrides request limits. Zero fields keep their defaults.
func WithLimits(l Limits) Option { return func(s *Service) { s.limits = l.withDefaults() } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObservability sets the recorder and tracer used by read operations.
func WithObservability(r observability.Recorder, t observability.Tracer) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
		if t != nil {
			s.tracer = t
		}
	}
}

// NewService wires the read path and the mutation coordinator for doc.
func NewService(blobs blob.Store, sink audit.Sink, coord *mutation.Coordinator, doc mutation.DocumentKey, opts ...Option) *Service {
	s := &Service{
		blobs:    blobs,
		sink:     sink,
		coord:    coord,
		doc:      doc,
		limits:   Limits{}.withDefaults(),
		logger:   slog.Default(),
		recorder: observability.Nop{},
		tracer:   observability.Nop{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document returns the key this service manages.
func (s *Service) Document() mutation.DocumentKey { return s.doc }

// Limits returns the limits in force.
func (s *Service) Limits() Limits { return s.limits }

func (s *Service) observe(ctx context.Context, op string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	return ctx, func(err error) {
		span.End(err)
		s.recorder.Observe(ctx, op, err == nil, time.Since(started))
	}
}

func (s *Service) storageError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return failure.Wrap(failure.KindNotFound, err, "document %s not found", s.doc)
	case ctx.Err() != nil:
		return failure.Wrap(failure.KindOf(ctx.Err()), err, "read %s", s.doc)
	default:
		return failure.Wrap(failure.KindStorageUnavailable, err, "read %s", s.doc)
	}
}

func (s *Service) fetch(ctx context.Context) (blob.Info, []byte, error) {
	info, rc, err := s.blobs.Get(ctx, s.doc.ObjectKey())
	if err != nil {
		return blob.Info{}, nil, s.storageError(ctx, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return blob.Info{}, nil, s.storageError(ctx, err)
	}
	return info, b, nil
}

// withDocument parses the latest bytes and hands the document to fn. The
// document never outlives the call.
func (s *Service) withDocument(ctx context.Context, fn func(*workbook.Document) error) error {
	_, b, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	d, err := workbook.Parse(b)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return fn(d)
}
