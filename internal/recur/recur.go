// Package recur expands compact recurrence rules into concrete
// occurrences within a bounded time window.
//
// The expander is a bounded generator: callers supply a half-open
// window [From, To) and receive exactly the occurrences whose start
// falls inside it. An end_type of "never" is therefore safe - the
// window bound terminates generation, and no unbounded sequence is
// ever materialized.
//
// Calendar arithmetic policy: month and year offsets are computed from
// the base start as k x interval units with the day-of-month clamped to
// the last valid day of the target month (Jan 31 + 1 month = Feb 28/29).
// Computing from the base rather than the previous occurrence keeps a
// short month from permanently shifting later occurrences.
package recur

import (
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
)

// Frequency is the recurrence unit.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// EndType selects how a rule terminates.
type EndType string

const (
	// Never generates until the query window ends.
	Never EndType = "never"
	// AfterCount stops after a fixed number of occurrences, counted
	// from the base occurrence regardless of the query window.
	AfterCount EndType = "after_count"
	// OnDate stops before the first occurrence at or past the bound.
	OnDate EndType = "on_date"
)

// End is the termination clause of a rule.
type End struct {
	Type  EndType   `json:"type"`
	Count int       `json:"count,omitempty"` // required iff Type == AfterCount
	Date  time.Time `json:"date,omitempty"`  // required iff Type == OnDate
}

// Rule is a compact recurrence rule. Immutable once attached to an
// event: recurrence edits replace the rule.
type Rule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"` // required iff Frequency == Weekly
	End        End            `json:"end"`
}

// Validate checks rule well-formedness. Malformed rules fail with
// InvalidArgument; the expander never silently repairs them.
func (r Rule) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fault.InvalidArgumentf("unknown recurrence frequency %q", r.Frequency)
	}
	if r.Interval <= 0 {
		return fault.InvalidArgumentf("recurrence interval must be positive, got %d", r.Interval)
	}
	if r.Frequency == Weekly && len(r.DaysOfWeek) == 0 {
		return fault.InvalidArgumentf("weekly recurrence requires days_of_week")
	}
	switch r.End.Type {
	case Never:
	case AfterCount:
		if r.End.Count < 1 {
			return fault.InvalidArgumentf("after_count recurrence requires a count >= 1, got %d", r.End.Count)
		}
	case OnDate:
		if r.End.Date.IsZero() {
			return fault.InvalidArgumentf("on_date recurrence requires an end date")
		}
	default:
		return fault.InvalidArgumentf("unknown recurrence end type %q", r.End.Type)
	}
	return nil
}

// Window is the half-open query range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Occurrence is one concrete instance of a recurring event. The
// duration (End - Start) equals the base event's duration.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expand materializes the occurrences of rule whose start falls in
// window, ascending. The base occurrence is the event's original
// start/end; it is included when it falls in the window and, for weekly
// rules, when its weekday is selected.
//
// Does not mutate anything; fails with InvalidArgument on a malformed
// rule or an empty/inverted window.
func Expand(rule Rule, baseStart, baseEnd time.Time, window Window) ([]Occurrence, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if !window.To.After(window.From) {
		return nil, fault.InvalidArgumentf("recurrence window must satisfy from < to")
	}

	baseStart = baseStart.UTC()
	baseEnd = baseEnd.UTC()
	duration := baseEnd.Sub(baseStart)

	var out []Occurrence
	emitted := 0

	emit := func(start time.Time) (done bool) {
		if rule.End.Type == AfterCount && emitted >= rule.End.Count {
			return true
		}
		if rule.End.Type == OnDate && !start.Before(rule.End.Date) {
			return true
		}
		if !start.Before(window.To) {
			// Past the window: every later candidate is too, except for
			// after_count accounting, which has no effect on output.
			return true
		}
		emitted++
		if !start.Before(window.From) {
			out = append(out, Occurrence{Start: start, End: start.Add(duration)})
		}
		return false
	}

	switch rule.Frequency {
	case Daily:
		for k := 0; ; k++ {
			if emit(baseStart.AddDate(0, 0, k*rule.Interval)) {
				break
			}
		}
	case Weekly:
		expandWeekly(rule, baseStart, emit)
	case Monthly:
		for k := 0; ; k++ {
			if emit(addMonthsClamped(baseStart, k*rule.Interval)) {
				break
			}
		}
	case Yearly:
		for k := 0; ; k++ {
			if emit(addMonthsClamped(baseStart, 12*k*rule.Interval)) {
				break
			}
		}
	}

	return out, nil
}

// expandWeekly walks forward day by day from the base start, emitting
// instants whose weekday is selected and whose ISO week offset from the
// base week is a multiple of the interval. Occurrences keep the base
// start's time of day.
func expandWeekly(rule Rule, baseStart time.Time, emit func(time.Time) bool) {
	selected := make(map[time.Weekday]bool, len(rule.DaysOfWeek))
	for _, d := range rule.DaysOfWeek {
		selected[d] = true
	}

	anchor := startOfWeek(baseStart)
	for day := 0; ; day++ {
		candidate := baseStart.AddDate(0, 0, day)
		if !selected[candidate.Weekday()] {
			continue
		}
		weeks := int(startOfWeek(candidate).Sub(anchor).Hours() / (24 * 7))
		if weeks%rule.Interval != 0 {
			continue
		}
		if emit(candidate) {
			return
		}
	}
}

// startOfWeek truncates to midnight of the ISO week start (Monday).
func startOfWeek(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return midnight.AddDate(0, 0, -offset)
}

// addMonthsClamped adds months to t, clamping the day-of-month to the
// last valid day of the target month. time.AddDate alone normalizes
// Jan 31 + 1 month to Mar 2/3, which is the divergence this policy
// exists to avoid.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	target := time.Date(year, month+time.Month(months), 1, hour, min, sec, t.Nanosecond(), time.UTC)
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), time.UTC)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
