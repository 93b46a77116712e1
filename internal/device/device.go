// Package device implements the simulated multi-modality device: six
// facet stores (calendar, chat, email, sms, location, weather)
// aggregated with one virtual clock into an Environment.
//
// Concurrency model: one Environment is designed for single-writer
// access. All mutating operations - facet mutations and clock
// operations - serialize under the environment's exclusive lock;
// read-only queries share a read lock, so a query observes either the
// pre- or post-state of a mutation, never a partial state. Nothing in
// this package blocks or suspends; every operation runs to completion.
package device

import (
	"sync"
	"time"

	"github.com/mirrorlab/devicesim/internal/vclock"
)

// Environment aggregates the virtual clock and the six facet stores as
// one addressable object. Constructed once per test or session, torn
// down by dropping the reference; there is no ambient singleton.
type Environment struct {
	rt *runtime

	calendar *CalendarStore
	chat     *ChatStore
	email    *EmailStore
	sms      *SMSStore
	location *LocationStore
	weather  *WeatherStore
}

// runtime is the shared substrate every facet store operates on: the
// lock, the clock, id generation, and the optional mutation recorder.
type runtime struct {
	mu    sync.RWMutex
	clock *vclock.Clock
	ids   IDGenerator
	rec   Recorder
}

// Option configures an Environment at construction.
type Option func(*Environment)

// WithIDGenerator replaces the default UUIDv7 generator. Tests use a
// fixed generator for reproducible ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Environment) { e.rt.ids = gen }
}

// WithRecorder attaches a mutation recorder. Every mutating call emits
// exactly one event to the recorder while still holding the exclusive
// lock, so the recorded sequence matches the applied sequence.
func WithRecorder(rec Recorder) Option {
	return func(e *Environment) { e.rt.rec = rec }
}

// New creates an Environment with its clock anchored at start.
func New(start time.Time, opts ...Option) *Environment {
	rt := &runtime{
		clock: vclock.New(start),
		ids:   UUIDv7Generator{},
	}
	e := &Environment{rt: rt}
	for _, opt := range opts {
		opt(e)
	}
	e.calendar = newCalendarStore(rt)
	e.chat = newChatStore(rt)
	e.email = newEmailStore(rt)
	e.sms = newSMSStore(rt)
	e.location = newLocationStore(rt)
	e.weather = newWeatherStore(rt)
	return e
}

// Facet accessors.

func (e *Environment) Calendar() *CalendarStore { return e.calendar }
func (e *Environment) Chat() *ChatStore         { return e.chat }
func (e *Environment) Email() *EmailStore       { return e.email }
func (e *Environment) SMS() *SMSStore           { return e.sms }
func (e *Environment) Location() *LocationStore { return e.location }
func (e *Environment) Weather() *WeatherStore   { return e.weather }

// Now returns the environment's current virtual instant.
func (e *Environment) Now() time.Time {
	e.rt.mu.RLock()
	defer e.rt.mu.RUnlock()
	return e.rt.clock.Now()
}

// AdvanceClock moves virtual time forward. Negative deltas fail with
// InvalidArgument and leave time unchanged.
func (e *Environment) AdvanceClock(delta time.Duration) error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	if err := e.rt.clock.Advance(delta); err != nil {
		return err
	}
	return e.rt.record(FacetClock, OpClockAdvance, "", map[string]any{
		"delta_ns": int64(delta),
	})
}

// PauseClock freezes auto-advance. Manual advance still works.
func (e *Environment) PauseClock() error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	e.rt.clock.Pause()
	return e.rt.record(FacetClock, OpClockPause, "", nil)
}

// ResumeClock re-enables auto-advance accrual.
func (e *Environment) ResumeClock() error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	e.rt.clock.Resume()
	return e.rt.record(FacetClock, OpClockResume, "", nil)
}

// SetClockScale changes the rate future auto-advance ticks apply.
// Non-positive scales fail with InvalidArgument.
func (e *Environment) SetClockScale(scale float64) error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	if err := e.rt.clock.SetScale(scale); err != nil {
		return err
	}
	return e.rt.record(FacetClock, OpClockSetScale, "", map[string]any{
		"scale": scale,
	})
}

// SetAutoAdvance toggles auto-advance.
func (e *Environment) SetAutoAdvance(enabled bool) error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	e.rt.clock.SetAutoAdvance(enabled)
	return e.rt.record(FacetClock, OpClockSetAutoAdvance, "", map[string]any{
		"enabled": enabled,
	})
}

// TickClock applies elapsed real time from the external auto-advance
// scheduler, under the same exclusive lock as every other mutation.
// Ticks are recorded like every other clock operation so a trace
// replays to the same timeline even when auto-advance drove it.
func (e *Environment) TickClock(elapsed time.Duration) error {
	e.rt.mu.Lock()
	defer e.rt.mu.Unlock()
	if err := e.rt.clock.Tick(elapsed); err != nil {
		return err
	}
	return e.rt.record(FacetClock, OpClockTick, "", map[string]any{
		"elapsed_ns": int64(elapsed),
	})
}

// ClockState reports the clock's control state.
func (e *Environment) ClockState() ClockState {
	e.rt.mu.RLock()
	defer e.rt.mu.RUnlock()
	return ClockState{
		CurrentTime: e.rt.clock.Now(),
		TimeScale:   e.rt.clock.Scale(),
		IsPaused:    e.rt.clock.Paused(),
		AutoAdvance: e.rt.clock.AutoAdvance(),
	}
}

// ClockState is a point-in-time read of the virtual clock.
type ClockState struct {
	CurrentTime time.Time `json:"current_time"`
	TimeScale   float64   `json:"time_scale"`
	IsPaused    bool      `json:"is_paused"`
	AutoAdvance bool      `json:"auto_advance"`
}

// stamp returns the clock's now for a mutation already holding the
// write lock.
func (rt *runtime) stamp() time.Time {
	return rt.clock.Now()
}

// newID assigns identity: an explicit id (replay path) wins, otherwise
// the generator supplies one.
func (rt *runtime) newID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return rt.ids.NewID()
}

// record emits one mutation event to the attached recorder, if any.
// Called with the write lock held.
func (rt *runtime) record(facet Facet, op Op, entityID string, args map[string]any) error {
	if rt.rec == nil {
		return nil
	}
	return rt.rec.Record(MutationEvent{
		Facet:    facet,
		Op:       op,
		EntityID: entityID,
		At:       rt.clock.Now(),
		Args:     args,
	})
}

// meta carries the aggregate counters every facet snapshot exposes.
type meta struct {
	updateCount int
	lastUpdated time.Time
}

// touch bumps the counters for one mutating call.
func (m *meta) touch(at time.Time) {
	m.updateCount++
	m.lastUpdated = at
}

// FacetMeta is the exported snapshot of a facet's counters.
type FacetMeta struct {
	UpdateCount int       `json:"update_count"`
	LastUpdated time.Time `json:"last_updated"`
}

func (m meta) export() FacetMeta {
	return FacetMeta{UpdateCount: m.updateCount, LastUpdated: m.lastUpdated}
}
