package device

import "time"

// Facet names one modality's store in trace events.
type Facet string

const (
	FacetClock    Facet = "clock"
	FacetCalendar Facet = "calendar"
	FacetChat     Facet = "chat"
	FacetEmail    Facet = "email"
	FacetSMS      Facet = "sms"
	FacetLocation Facet = "location"
	FacetWeather  Facet = "weather"
)

// Op names one mutating operation in trace events. The (Facet, Op)
// pair is the dispatch key the trace replayer switches on.
type Op string

const (
	OpClockAdvance        Op = "advance"
	OpClockPause          Op = "pause"
	OpClockResume         Op = "resume"
	OpClockSetScale       Op = "set_scale"
	OpClockSetAutoAdvance Op = "set_auto_advance"
	OpClockTick           Op = "tick"

	OpCalendarCreate Op = "create_event"
	OpCalendarUpdate Op = "update_event"
	OpCalendarDelete Op = "delete_event"

	OpChatSend Op = "send_message"

	OpSMSSend     Op = "send"
	OpSMSReceive  Op = "receive"
	OpSMSMarkRead Op = "mark_read"

	OpEmailSend     Op = "send"
	OpEmailReceive  Op = "receive"
	OpEmailMarkRead Op = "mark_read"

	OpLocationSet Op = "set"

	OpWeatherSetCurrent  Op = "set_current"
	OpWeatherAddForecast Op = "add_forecast"
)

// MutationEvent describes one applied mutation. Args hold everything a
// replayer needs to re-apply the mutation byte-for-byte, including the
// assigned record id, and must stay within the canonical JSON value
// domain (strings, ints, floats, bools, timestamps, nested maps and
// slices).
type MutationEvent struct {
	Facet    Facet
	Op       Op
	EntityID string
	At       time.Time
	Args     map[string]any
}

// Recorder observes every environment mutation in applied order.
// Implemented by the SQLite trace log; nil disables recording.
//
// Record is called while the environment's exclusive lock is held, so
// implementations must not call back into the environment.
type Recorder interface {
	Record(ev MutationEvent) error
}
