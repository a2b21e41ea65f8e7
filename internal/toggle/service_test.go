package toggle

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInitialState(t *testing.T) {
	svc := NewService(nil)
	if svc.IsMisbehaving() {
		t.Error("misbehaving should start false")
	}
	if svc.IsSleeping() {
		t.Error("sleeping should start false")
	}
	if got := svc.Snapshot(); got != (Flags{}) {
		t.Errorf("Snapshot() = %+v, want zero flags", got)
	}
}

func TestMisbehaveRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewState())

	if got := svc.ActivateMisbehave(ctx); got != "I am misbehaving" {
		t.Errorf("ActivateMisbehave() = %q", got)
	}
	if !svc.IsMisbehaving() {
		t.Fatal("expected misbehaving after activate")
	}
	if got := svc.ActivateMisbehave(ctx); got != MisbehavingText || !svc.IsMisbehaving() {
		t.Error("second activate should keep misbehaving on")
	}

	if got := svc.DeactivateMisbehave(ctx); got != "I am back" {
		t.Errorf("DeactivateMisbehave() = %q", got)
	}
	if svc.IsMisbehaving() {
		t.Fatal("expected behaving after deactivate")
	}
	svc.DeactivateMisbehave(ctx)
	if svc.IsMisbehaving() {
		t.Error("second deactivate should keep misbehaving off")
	}
}

func TestSleepRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewState())

	var seen []bool
	seen = append(seen, svc.IsSleeping())
	if got := svc.ActivateSleep(ctx); got != "I am sleeping" {
		t.Errorf("ActivateSleep() = %q", got)
	}
	seen = append(seen, svc.IsSleeping())
	if got := svc.DeactivateSleep(ctx); got != "Neo, awake" {
		t.Errorf("DeactivateSleep() = %q", got)
	}
	seen = append(seen, svc.IsSleeping())

	want := []bool{false, true, false}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("sleep transitions = %v, want %v", seen, want)
		}
	}
}

func TestFlagsAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewState())

	svc.ActivateSleep(ctx)
	if svc.IsMisbehaving() {
		t.Error("sleep must not touch misbehave")
	}
	svc.ActivateMisbehave(ctx)
	svc.DeactivateSleep(ctx)
	if !svc.IsMisbehaving() {
		t.Error("awake must not touch misbehave")
	}
	svc.DeactivateMisbehave(ctx)
	svc.ActivateSleep(ctx)
	svc.ActivateMisbehave(ctx)
	svc.DeactivateMisbehave(ctx)
	if !svc.IsSleeping() {
		t.Error("behave must not touch sleep")
	}
	if got := svc.Snapshot(); got != (Flags{Sleeping: true}) {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestSharedState(t *testing.T) {
	state := NewState()
	svc := NewService(state)
	svc.ActivateMisbehave(context.Background())

	if !state.IsMisbehaving() {
		t.Error("service should mutate the state it was given")
	}
	if svc.State() != state {
		t.Error("State() should return the wrapped state")
	}
}

func TestChangedReporting(t *testing.T) {
	var s State
	if !s.setSleeping(true) {
		t.Error("false -> true should report a change")
	}
	if s.setSleeping(true) {
		t.Error("true -> true should not report a change")
	}
	if !s.setSleeping(false) {
		t.Error("true -> false should report a change")
	}
}

func TestConcurrentToggles(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewState())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.ActivateMisbehave(ctx)
			_ = svc.IsSleeping()
		}()
		go func() {
			defer wg.Done()
			svc.ActivateSleep(ctx)
			_ = svc.Snapshot()
		}()
	}
	wg.Wait()

	if got := svc.Snapshot(); got != (Flags{Misbehaving: true, Sleeping: true}) {
		t.Errorf("Snapshot() = %+v, want both on", got)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewState())

	before := testutil.ToFloat64(flagToggles.WithLabelValues(FlagSleep, "activate"))
	svc.ActivateSleep(ctx)
	svc.ActivateSleep(ctx)

	if got := testutil.ToFloat64(flagToggles.WithLabelValues(FlagSleep, "activate")) - before; got != 2 {
		t.Errorf("activate counter delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(flagState.WithLabelValues(FlagSleep)); got != 1 {
		t.Errorf("sleep gauge = %v, want 1", got)
	}
	svc.DeactivateSleep(ctx)
	if got := testutil.ToFloat64(flagState.WithLabelValues(FlagSleep)); got != 0 {
		t.Errorf("sleep gauge = %v, want 0", got)
	}
}

func TestSpanEvent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "toggle")
	NewService(NewState()).ActivateMisbehave(ctx)
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	events := ended[0].Events()
	if len(events) != 1 || events[0].Name != "flag_toggled" {
		t.Fatalf("unexpected events: %+v", events)
	}
	attrs := map[string]string{}
	for _, kv := range events[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["flag"] != FlagMisbehave || attrs["value"] != "true" || attrs["changed"] != "true" {
		t.Errorf("unexpected event attributes: %v", attrs)
	}
}
