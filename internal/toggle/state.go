package toggle

import (
	"sync/atomic"

	"github.com/0xReLogic/Hypnos/internal/api"
)

// Flag names used in logs, metrics and span events.
const (
	FlagMisbehave = "misbehave"
	FlagSleep     = "sleep"
)

// Flags is a point-in-time copy of both toggles.
type Flags = api.Flags

// State holds the two developer toggles. The zero value has both flags off
// and is ready to use. A State must not be copied after first use.
type State struct {
	misbehaving atomic.Bool
	sleeping    atomic.Bool
}

// NewState returns a State with both flags off.
func NewState() *State {
	return &State{}
}

func (s *State) IsMisbehaving() bool { return s.misbehaving.Load() }

func (s *State) IsSleeping() bool { return s.sleeping.Load() }

// Snapshot reads both flags. Each read is atomic; the pair is not.
func (s *State) Snapshot() Flags {
	return Flags{
		Misbehaving: s.misbehaving.Load(),
		Sleeping:    s.sleeping.Load(),
	}
}

// setMisbehaving stores v and reports whether the value changed.
func (s *State) setMisbehaving(v bool) bool {
	return s.misbehaving.Swap(v) != v
}

func (s *State) setSleeping(v bool) bool {
	return s.sleeping.Swap(v) != v
}
