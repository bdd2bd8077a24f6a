// Package clock defines the authority time source injected into every
// component that makes time-dependent decisions. Deadman intervals,
// execution windows, and sunset cooldowns must never read wall-clock
// time directly: the engine derives all elapsed-time checks from an
// injected Clock so tests can drive deadlines deterministically and so
// no caller-supplied timestamp is ever trusted.
package clock

import "time"

// Clock provides authority time.
type Clock interface {
	Now() time.Time
}

type wall struct{}

func (wall) Now() time.Time { return time.Now().UTC() }

// System returns the wall-clock backed Clock used in production.
func System() Clock { return wall{} }

// Fixed is a controllable clock for tests.
type Fixed struct {
	t time.Time
}

// NewFixed returns a Fixed clock starting at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t.UTC()} }

func (f *Fixed) Now() time.Time { return f.t }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Set jumps the clock to t.
func (f *Fixed) Set(t time.Time) { f.t = t.UTC() }
