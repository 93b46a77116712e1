package device

import (
	"encoding/json"
	"fmt"

	"github.com/mirrorlab/devicesim/internal/canon"
)

// Snapshot is a point-in-time read of the whole environment: the clock
// state plus every facet's records and counters. Field order and every
// contained slice order are deterministic, so two snapshots of
// equivalent environments serialize identically.
type Snapshot struct {
	Clock    ClockState    `json:"clock"`
	Calendar CalendarState `json:"calendar"`
	Chat     ChatState     `json:"chat"`
	Email    EmailState    `json:"email"`
	SMS      SMSState      `json:"sms"`
	Location LocationState `json:"location"`
	Weather  WeatherState  `json:"weather"`
}

// State captures a snapshot of the environment under the read lock, so
// it observes either the pre- or post-state of any concurrent
// mutation, never a partial state.
func (e *Environment) State() Snapshot {
	e.rt.mu.RLock()
	defer e.rt.mu.RUnlock()

	return Snapshot{
		Clock: ClockState{
			CurrentTime: e.rt.clock.Now(),
			TimeScale:   e.rt.clock.Scale(),
			IsPaused:    e.rt.clock.Paused(),
			AutoAdvance: e.rt.clock.AutoAdvance(),
		},
		Calendar: e.calendar.stateLocked(),
		Chat:     e.chat.stateLocked(),
		Email:    e.email.stateLocked(),
		SMS:      e.sms.stateLocked(),
		Location: e.location.stateLocked(),
		Weather:  e.weather.stateLocked(),
	}
}

// CanonicalHash digests a snapshot for replay verification: two
// environments with identical state produce identical hashes.
func (s Snapshot) CanonicalHash() (string, error) {
	// Round-trip through JSON to reach the canonical value domain
	// (maps, slices, strings, float64, bool, null).
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("snapshot marshal: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("snapshot unmarshal: %w", err)
	}
	return canon.Hash(canon.DomainState, v)
}
