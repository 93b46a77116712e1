// Package vclock implements the virtual clock that owns the single
// authoritative "now" for one simulated environment.
//
// The clock is purely virtual: it never reads the wall clock. Time moves
// only through Advance (manual, always allowed) or Tick (driven by an
// external scheduler, honoring the pause flag and time scale). Every
// state mutation in the environment is stamped from this clock, so the
// monotonic guarantee here is what makes recorded traces replayable.
//
// Thread-safety: all methods are safe for concurrent use via an internal
// mutex. In practice the environment serializes mutations under its own
// lock and the scheduler calls Tick under the same lock.
package vclock

import (
	"sync"
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
)

// DefaultScale is the time scale a new clock starts with.
const DefaultScale = 1.0

// Clock is a pausable, scalable virtual clock.
//
// INVARIANTS:
//   - current never decreases for the lifetime of the clock
//   - scale is strictly positive
//   - pausing gates Tick only; Advance works regardless of pause state
type Clock struct {
	mu          sync.Mutex
	current     time.Time
	scale       float64
	paused      bool
	autoAdvance bool
}

// New creates a clock anchored at start. The instant is normalized to
// UTC so every stamp the environment hands out is timezone-unambiguous.
func New(start time.Time) *Clock {
	return &Clock{
		current: start.UTC(),
		scale:   DefaultScale,
	}
}

// Now returns the current virtual instant. No side effect.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by delta.
//
// Manual advance is independent of the pause state: a paused clock still
// advances. A negative delta fails with InvalidArgument - the clock never
// silently clamps, and time never moves backwards.
func (c *Clock) Advance(delta time.Duration) error {
	if delta < 0 {
		return fault.InvalidArgumentf("advance delta must be non-negative, got %s", delta)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(delta)
	return nil
}

// Tick applies elapsed real time from the external auto-advance
// scheduler. The clock moves by elapsed scaled by the current time
// scale, but only while auto-advance is enabled and the clock is not
// paused. Elapsed time accrued while paused is discarded, never applied
// retroactively on resume.
func (c *Clock) Tick(elapsed time.Duration) error {
	if elapsed < 0 {
		return fault.InvalidArgumentf("tick elapsed must be non-negative, got %s", elapsed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || !c.autoAdvance {
		return nil
	}
	scaled := time.Duration(float64(elapsed) * c.scale)
	c.current = c.current.Add(scaled)
	return nil
}

// Pause freezes auto-advance. Idempotent.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume re-enables auto-advance. Idempotent. The scale set before the
// pause persists unchanged.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

// Paused reports whether the clock is paused.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetScale sets the rate future Tick calls apply. It does not itself
// move time. Non-positive scales fail with InvalidArgument.
func (c *Clock) SetScale(scale float64) error {
	if scale <= 0 {
		return fault.InvalidArgumentf("time scale must be positive, got %v", scale)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale = scale
	return nil
}

// Scale returns the current time scale.
func (c *Clock) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// SetAutoAdvance toggles whether Tick applies elapsed time at all.
func (c *Clock) SetAutoAdvance(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoAdvance = enabled
}

// AutoAdvance reports whether auto-advance is enabled.
func (c *Clock) AutoAdvance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoAdvance
}
