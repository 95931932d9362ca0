package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSlogLoggerFormatsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewSlogLogger(LogConfig{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("object construction failed", "type", "Unit")
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "object construction failed" || line["type"] != "Unit" {
		t.Fatalf("unexpected record %v", line)
	}

	buf.Reset()
	text, err := NewSlogLogger(LogConfig{Level: "debug", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("new text logger: %v", err)
	}
	text.Debug("object removed", "id", 3)
	if !strings.Contains(buf.String(), "msg=\"object removed\"") || !strings.Contains(buf.String(), "id=3") {
		t.Fatalf("unexpected text output %q", buf.String())
	}

	if _, err := NewSlogLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected unknown level error")
	}
	if _, err := NewSlogLogger(LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestNopImplementations(t *testing.T) {
	var logger NopLogger
	logger.Debug("noop")
	logger.Info("noop")
	logger.Warn("noop")
	logger.Error("noop")

	NopMetrics{}.Observe(context.Background(), "noop", true, 0)

	ctx, span := NopTracer{}.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context from tracer")
	}
	span.End(nil)
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "checkpoint", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "checkpoint", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	if snap.DurationsMS["checkpoint"] != 3 {
		t.Fatalf("expected 3ms total, got %v", snap.DurationsMS["checkpoint"])
	}
	if snap.Results["checkpoint"]["success"] != 1 || snap.Results["checkpoint"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation must be ignored, got %v", snap.Results)
	}
	published := expvar.Get(rec.Name())
	if published == nil || !strings.Contains(published.String(), "checkpoint") {
		t.Fatalf("expected expvar export under %s", rec.Name())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg, "")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "objects.create", true, time.Millisecond)
	rec.Observe(context.Background(), "objects.create", true, time.Millisecond)
	rec.Observe(context.Background(), "objects.create", false, time.Millisecond)

	if got := testutil.ToFloat64(rec.total.WithLabelValues("objects.create", "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues("objects.create", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 2 {
		t.Fatalf("expected 2 histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg, ""); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestMultiMetricsFansOut(t *testing.T) {
	a := NewExpvarMetricsRecorder("")
	b := NewExpvarMetricsRecorder("")
	MultiMetrics{a, nil, b}.Observe(context.Background(), "restore", true, 0)
	if a.Snapshot().Results["restore"]["success"] != 1 || b.Snapshot().Results["restore"]["success"] != 1 {
		t.Fatalf("expected both recorders to observe")
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "checkpoint")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "restore")
	span.End(errors.New("missing"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "missing" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", lines)
	}
}

func TestOTelTracerRecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewOTelTracer(tp)

	ctx, span := tracer.Start(context.Background(), "checkpoint")
	if ctx == context.Background() {
		t.Fatalf("expected span context to be attached")
	}
	span.End(nil)
	_, span = tracer.Start(context.Background(), "restore")
	span.End(errors.New("boom"))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(ended))
	}
	if ended[0].Name() != "checkpoint" || ended[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %v", ended[0].Name(), ended[0].Status())
	}
	if ended[1].Status().Code != codes.Error || ended[1].Status().Description != "boom" {
		t.Fatalf("unexpected second span status %v", ended[1].Status())
	}
	if len(ended[1].Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}
