package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"cellvault/internal/activity"
	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/config"
	"cellvault/internal/core"
	"cellvault/internal/identity"
	"cellvault/internal/mutation"
	"cellvault/internal/observability"
)

// app holds the wired components for one process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	blobs    blob.Store
	sink     audit.Sink
	svc      *core.Service
	resolver identity.Resolver
	metrics  http.Handler
	closers  []func(context.Context) error
}

func newLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func newRecorder(kind string) (observability.Recorder, http.Handler) {
	switch kind {
	case "prometheus":
		r := observability.NewPrometheusRecorder()
		return r, r.Handler()
	case "expvar":
		r := observability.NewExpvarRecorder("")
		return r, r.Handler()
	default:
		return observability.Nop{}, nil
	}
}

func newTracer(kind string, w io.Writer) (observability.Tracer, func(context.Context) error, error) {
	switch kind {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return observability.NewOTelTracer(tp, "cellvault"), tp.Shutdown, nil
	case "json":
		return observability.NewJSONTracer(w), nil, nil
	default:
		return observability.Nop{}, nil, nil
	}
}

func newResolver(cfg config.Identity) identity.Resolver {
	if cfg.Mode == "remote" {
		return identity.NewRemote(cfg.RemoteURL, cfg.APIKey, nil)
	}
	return identity.NewStatic(cfg.Tokens...)
}

// buildApp opens storage and wires the service from cfg. Logs and spans go to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	logger := newLogger(cfg.Log, w)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, resolver: newResolver(cfg.Identity)}
	blobs, err := blob.Open(ctx, cfg.BlobConfig())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.blobs = blobs
	if c, ok := blobs.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	auditCfg := cfg.AuditConfig()
	auditCfg.Logger = logger
	sink, err := audit.Open(ctx, auditCfg)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	a.sink = sink
	a.closers = append(a.closers, func(context.Context) error { return sink.Close() })

	recorder, metrics := newRecorder(cfg.Metrics.Recorder)
	a.metrics = metrics
	tracer, shutdown, err := newTracer(cfg.Metrics.Tracing, w)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	if shutdown != nil {
		a.closers = append(a.closers, shutdown)
	}

	opts := []mutation.Option{
		mutation.WithLogger(logger),
		mutation.WithRecorder(recorder),
		mutation.WithTracer(tracer),
		mutation.WithConditionalWrites(cfg.Mutation.ConditionalWrites),
		mutation.WithVerification(cfg.Mutation.Verify),
	}
	if cfg.Activity.Enabled {
		opts = append(opts, mutation.WithActivityLog(activity.New(blobs, cfg.Activity.Prefix)))
	}
	serializer := mutation.NewSerializer(mutation.Policy(cfg.Lock.Policy), cfg.Lock.WaitTimeout)
	coord := mutation.NewCoordinator(blobs, sink, serializer, opts...)

	doc := mutation.DocumentKey{Bucket: cfg.Document.Bucket, Name: cfg.Document.Name}
	a.svc = core.NewService(blobs, sink, coord, doc,
		core.WithLogger(logger),
		core.WithObservability(recorder, tracer),
		core.WithLimits(core.Limits{
			MaxChanges:     cfg.Limits.MaxChanges,
			MaxPreviewRows: cfg.Limits.MaxPreviewRows,
			MaxPreviewCols: cfg.Limits.MaxPreviewCols,
		}),
	)
	logger.Debug("cellvault wired",
		slog.String("blob_driver", string(blobs.Driver())),
		slog.String("audit_driver", string(sink.Driver())),
		slog.String("document", doc.String()),
		slog.String("lock_policy", string(serializer.Policy())),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
