package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPrometheusRecorder(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx := context.Background()
	r.Observe(ctx, "apply", true, 10*time.Millisecond)
	r.Observe(ctx, "apply", false, time.Millisecond)
	r.Observe(ctx, "", true, time.Millisecond)
	r.Add(ctx, EventChangesApplied, 3)
	r.Add(ctx, EventPartialCommit, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("apply", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("apply", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.events.WithLabelValues(EventChangesApplied)))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "cellvault_pipeline_events_total")
	assert.NotNil(t, r.Registry())
}

func TestExpvarRecorder(t *testing.T) {
	r := NewExpvarRecorder("")
	ctx := context.Background()
	r.Observe(ctx, "apply", true, 2*time.Millisecond)
	r.Observe(ctx, "apply", false, 0)
	r.Observe(ctx, "", true, 0)
	r.Add(ctx, EventConflict, 2)
	r.Add(ctx, "", 1)
	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Results["apply"]["success"])
	assert.Equal(t, int64(1), snap.Results["apply"]["error"])
	assert.Equal(t, int64(2), snap.Events[EventConflict])
	assert.InDelta(t, 2.0, snap.DurationsMS["apply"], 0.001)
	assert.True(t, strings.HasPrefix(r.Name(), "cellvault_metrics_"))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/vars", nil))
	assert.Contains(t, rec.Body.String(), r.Name())
}

func TestOTelTracerRecordsStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tr := NewOTelTracer(tp, "cellvault.test")

	_, span := tr.Start(context.Background(), "fetch")
	span.End(nil)
	_, span = tr.Start(context.Background(), "upload")
	span.End(errors.New("boom"))

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "fetch", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)

	assert.NotNil(t, NewOTelTracer(nil, "global"))
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tr := NewJSONTracer(&buf)
	_, span := tr.Start(context.Background(), "apply")
	span.End(errors.New("bad"))
	_, span = tr.Start(context.Background(), "verify")
	span.End(nil)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "error", entries[0].Status)
	assert.Equal(t, "bad", entries[0].Error)
	assert.Equal(t, "success", entries[1].Status)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "x")
	span.End(nil)
	assert.Len(t, silent.Entries(), 1)
}

func TestNop(t *testing.T) {
	var n Nop
	n.Observe(context.Background(), "x", true, 0)
	n.Add(context.Background(), "x", 1)
	ctx, span := n.Start(context.Background(), "x")
	span.End(nil)
	assert.NotNil(t, ctx)
}
