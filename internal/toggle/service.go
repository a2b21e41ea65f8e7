// Package toggle owns the developer fault toggles and the operations that
// flip them.
package toggle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/0xReLogic/Hypnos/internal/logging"
)

// Confirmation texts returned by the toggle operations.
const (
	MisbehavingText = "I am misbehaving"
	BehavingText    = "I am back"
	SleepingText    = "I am sleeping"
	AwakeText       = "Neo, awake"
)

// Service exposes the four toggle operations over a State. Every operation
// is total and idempotent.
type Service struct {
	state *State
}

// NewService wraps state. A nil state gets a fresh one.
func NewService(state *State) *Service {
	if state == nil {
		state = NewState()
	}
	recordState(state)
	return &Service{state: state}
}

// State returns the flags the service mutates, for read-only consumers.
func (s *Service) State() *State { return s.state }

func (s *Service) IsMisbehaving() bool { return s.state.IsMisbehaving() }

func (s *Service) IsSleeping() bool { return s.state.IsSleeping() }

func (s *Service) Snapshot() Flags { return s.state.Snapshot() }

// ActivateMisbehave turns the misbehave flag on.
func (s *Service) ActivateMisbehave(ctx context.Context) string {
	changed := s.state.setMisbehaving(true)
	observe(ctx, FlagMisbehave, "activate", true, changed)
	return MisbehavingText
}

// DeactivateMisbehave turns the misbehave flag off.
func (s *Service) DeactivateMisbehave(ctx context.Context) string {
	changed := s.state.setMisbehaving(false)
	observe(ctx, FlagMisbehave, "deactivate", false, changed)
	return BehavingText
}

// ActivateSleep turns the sleep flag on.
func (s *Service) ActivateSleep(ctx context.Context) string {
	changed := s.state.setSleeping(true)
	observe(ctx, FlagSleep, "activate", true, changed)
	return SleepingText
}

// DeactivateSleep turns the sleep flag off.
func (s *Service) DeactivateSleep(ctx context.Context) string {
	changed := s.state.setSleeping(false)
	observe(ctx, FlagSleep, "deactivate", false, changed)
	return AwakeText
}

func observe(ctx context.Context, flag, action string, value, changed bool) {
	recordFlag(flag, action, value)
	trace.SpanFromContext(ctx).AddEvent("flag_toggled", trace.WithAttributes(
		attribute.String("flag", flag),
		attribute.String("action", action),
		attribute.Bool("value", value),
		attribute.Bool("changed", changed),
	))
	logging.LogFlagToggled(ctx, flag, action, value, changed)
}

func recordState(state *State) {
	f := state.Snapshot()
	setFlagGauge(FlagMisbehave, f.Misbehaving)
	setFlagGauge(FlagSleep, f.Sleeping)
}
