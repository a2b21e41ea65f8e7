package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := ReplaceLogger(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestLogFlagToggled(t *testing.T) {
	logs := observe(t)

	LogFlagToggled(context.Background(), "sleep", "activate", true, true)

	entries := logs.FilterMessage("flag_toggled").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 flag_toggled entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["flag"] != "sleep" || fields["action"] != "activate" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["value"] != true || fields["changed"] != true {
		t.Errorf("unexpected value/changed: %v", fields)
	}
	if _, ok := fields["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
}

func TestTraceIDAttached(t *testing.T) {
	logs := observe(t)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "req")
	defer span.End()

	LogRateLimited(ctx, "/developer/sleep")

	entries := logs.FilterMessage("rate_limited").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0].ContextMap()["trace_id"]
	if got != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want %s", got, span.SpanContext().TraceID())
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", entries[0].Level)
	}
}

func TestLogFaultInjectedExtraFields(t *testing.T) {
	logs := observe(t)

	LogFaultInjected(context.Background(), "sleep", "/api/x", zap.Duration("delay", 2*time.Second))

	entries := logs.FilterMessage("fault_injected").FilterField(zap.String("kind", "sleep")).All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["delay"] != 2*time.Second {
		t.Errorf("delay field missing: %v", entries[0].ContextMap())
	}
}

func TestToFields(t *testing.T) {
	fields := toFields(map[string]interface{}{
		"s":   "x",
		"i":   3,
		"b":   true,
		"f":   1.5,
		"d":   time.Second,
		"err": errors.New("boom"),
		"any": []string{"a"},
	})
	if len(fields) != 7 {
		t.Fatalf("expected 7 fields, got %d", len(fields))
	}
	types := map[string]zapcore.FieldType{}
	for _, f := range fields {
		types[f.Key] = f.Type
	}
	if types["s"] != zapcore.StringType || types["i"] != zapcore.Int64Type || types["d"] != zapcore.DurationType {
		t.Errorf("unexpected field types: %v", types)
	}
	if types["err"] != zapcore.ErrorType {
		t.Errorf("err field type = %v", types["err"])
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"bogus": zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
	}
	for in, want := range cases {
		SetLevel(in)
		if got := Level(); got != want {
			t.Errorf("SetLevel(%q): level = %v, want %v", in, got, want)
		}
	}
}
