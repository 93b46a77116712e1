package device

import (
	"sort"
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
	"github.com/mirrorlab/devicesim/internal/recur"
)

// defaultOccurrenceHorizon bounds occurrence queries that omit a window
// end: [now, now+horizon).
const defaultOccurrenceHorizon = 30 * 24 * time.Hour

// Event is one calendar entry. A non-nil Recurrence makes it the base
// occurrence of a recurring series; the rule is immutable - updates
// replace it wholesale.
type Event struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	StartsAt    time.Time   `json:"starts_at"`
	EndsAt      time.Time   `json:"ends_at"`
	CreatedAt   time.Time   `json:"created_at"`
	Recurrence  *recur.Rule `json:"recurrence,omitempty"`
}

// EventInput is the payload for CreateEvent. ID is assigned when empty;
// the replay path supplies it explicitly.
type EventInput struct {
	ID          string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Recurrence  *recur.Rule
}

// EventUpdate carries partial updates; nil fields are left unchanged.
// A non-nil Recurrence replaces the existing rule.
type EventUpdate struct {
	Title       *string
	Description *string
	Location    *string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Recurrence  *recur.Rule
}

// EventOccurrence pairs one concrete occurrence instant with its
// event's static fields.
type EventOccurrence struct {
	Event Event     `json:"event"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CalendarStore holds calendar events and expands recurrences for
// range queries.
type CalendarStore struct {
	rt     *runtime
	events []Event
	byID   map[string]int // id -> index in events
	meta   meta
}

func newCalendarStore(rt *runtime) *CalendarStore {
	return &CalendarStore{rt: rt, byID: make(map[string]int)}
}

var calendarTable = query.Table[Event]{
	Timestamp: func(ev Event) time.Time { return ev.StartsAt },
	Fields: map[string]func(Event) string{
		"location": func(ev Event) string { return ev.Location },
		"title":    func(ev Event) string { return ev.Title },
	},
	Text: func(ev Event) string { return ev.Title + " " + ev.Description },
	SortKeys: map[string]func(a, b Event) int{
		"title": func(a, b Event) int {
			switch {
			case a.Title < b.Title:
				return -1
			case a.Title > b.Title:
				return 1
			}
			return 0
		},
		"created_at": func(a, b Event) int { return a.CreatedAt.Compare(b.CreatedAt) },
	},
}

// CreateEvent validates and stores a new event, stamping CreatedAt from
// the clock. A malformed recurrence rule or an end before the start
// fails with InvalidArgument.
func (s *CalendarStore) CreateEvent(in EventInput) (Event, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.Title == "" {
		return Event{}, fault.InvalidArgumentf("event title is required")
	}
	if in.EndsAt.Before(in.StartsAt) {
		return Event{}, fault.InvalidArgumentf("event end %s is before start %s", in.EndsAt, in.StartsAt)
	}
	if in.Recurrence != nil {
		if err := in.Recurrence.Validate(); err != nil {
			return Event{}, err
		}
	}

	now := s.rt.stamp()
	ev := Event{
		ID:          s.rt.newID(in.ID),
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		StartsAt:    in.StartsAt.UTC(),
		EndsAt:      in.EndsAt.UTC(),
		CreatedAt:   now,
		Recurrence:  cloneRule(in.Recurrence),
	}
	s.byID[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	s.meta.touch(now)

	if err := s.rt.record(FacetCalendar, OpCalendarCreate, ev.ID, calendarCreateArgs(ev)); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// UpdateEvent applies a partial update to an existing event.
// Unknown ids fail with NotFound; a malformed replacement rule or an
// inverted time range fails with InvalidArgument and leaves the event
// untouched.
func (s *CalendarStore) UpdateEvent(id string, upd EventUpdate) (Event, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return Event{}, fault.NotFoundf("calendar event %q not found", id)
	}
	if upd.Recurrence != nil {
		if err := upd.Recurrence.Validate(); err != nil {
			return Event{}, err
		}
	}

	ev := s.events[idx]
	if upd.Title != nil {
		if *upd.Title == "" {
			return Event{}, fault.InvalidArgumentf("event title is required")
		}
		ev.Title = *upd.Title
	}
	if upd.Description != nil {
		ev.Description = *upd.Description
	}
	if upd.Location != nil {
		ev.Location = *upd.Location
	}
	if upd.StartsAt != nil {
		ev.StartsAt = upd.StartsAt.UTC()
	}
	if upd.EndsAt != nil {
		ev.EndsAt = upd.EndsAt.UTC()
	}
	if ev.EndsAt.Before(ev.StartsAt) {
		return Event{}, fault.InvalidArgumentf("event end %s is before start %s", ev.EndsAt, ev.StartsAt)
	}
	if upd.Recurrence != nil {
		ev.Recurrence = cloneRule(upd.Recurrence)
	}

	now := s.rt.stamp()
	s.events[idx] = ev
	s.meta.touch(now)

	if err := s.rt.record(FacetCalendar, OpCalendarUpdate, id, calendarUpdateArgs(id, upd)); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// DeleteEvent removes an event. Unknown ids fail with NotFound.
func (s *CalendarStore) DeleteEvent(id string) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return fault.NotFoundf("calendar event %q not found", id)
	}
	s.events = append(s.events[:idx], s.events[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.events); i++ {
		s.byID[s.events[i].ID] = i
	}
	s.meta.touch(s.rt.stamp())

	return s.rt.record(FacetCalendar, OpCalendarDelete, id, nil)
}

// Event returns one event by id.
func (s *CalendarStore) Event(id string) (Event, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return Event{}, fault.NotFoundf("calendar event %q not found", id)
	}
	return s.events[idx], nil
}

// Events queries stored events. The timestamp key is the event start.
func (s *CalendarStore) Events(spec query.Spec) (query.Result[Event], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return query.Run(s.events, calendarTable, spec)
}

// Occurrences expands every event - concrete and recurring - into the
// occurrences whose start falls in the window, ascending by start with
// event id as tiebreak.
//
// A zero window From defaults to the clock's now; a zero To defaults to
// From plus a 30-day horizon.
func (s *CalendarStore) Occurrences(window recur.Window) ([]EventOccurrence, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	if window.From.IsZero() {
		window.From = s.rt.clock.Now()
	}
	if window.To.IsZero() {
		window.To = window.From.Add(defaultOccurrenceHorizon)
	}
	if !window.To.After(window.From) {
		return nil, fault.InvalidArgumentf("occurrence window must satisfy from < to")
	}

	var out []EventOccurrence
	for _, ev := range s.events {
		if ev.Recurrence == nil {
			if !ev.StartsAt.Before(window.From) && ev.StartsAt.Before(window.To) {
				out = append(out, EventOccurrence{Event: ev, Start: ev.StartsAt, End: ev.EndsAt})
			}
			continue
		}
		occs, err := recur.Expand(*ev.Recurrence, ev.StartsAt, ev.EndsAt, window)
		if err != nil {
			return nil, err
		}
		for _, occ := range occs {
			out = append(out, EventOccurrence{Event: ev, Start: occ.Start, End: occ.End})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Event.ID < out[j].Event.ID
	})
	return out, nil
}

// State returns a point-in-time snapshot of the facet.
func (s *CalendarStore) State() CalendarState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

// stateLocked builds the snapshot with the lock already held; shared
// with Environment.State to avoid recursive read-locking.
func (s *CalendarStore) stateLocked() CalendarState {
	return CalendarState{
		Events: append([]Event{}, s.events...),
		Meta:   s.meta.export(),
	}
}

// CalendarState is the calendar facet snapshot.
type CalendarState struct {
	Events []Event   `json:"events"`
	Meta   FacetMeta `json:"meta"`
}

func cloneRule(r *recur.Rule) *recur.Rule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.DaysOfWeek = append([]time.Weekday(nil), r.DaysOfWeek...)
	return &cp
}

// calendarCreateArgs encodes a created event for the trace log.
func calendarCreateArgs(ev Event) map[string]any {
	args := map[string]any{
		"id":          ev.ID,
		"title":       ev.Title,
		"description": ev.Description,
		"location":    ev.Location,
		"starts_at":   ev.StartsAt,
		"ends_at":     ev.EndsAt,
	}
	if ev.Recurrence != nil {
		args["recurrence"] = ruleArgs(*ev.Recurrence)
	}
	return args
}

func calendarUpdateArgs(id string, upd EventUpdate) map[string]any {
	args := map[string]any{"id": id}
	if upd.Title != nil {
		args["title"] = *upd.Title
	}
	if upd.Description != nil {
		args["description"] = *upd.Description
	}
	if upd.Location != nil {
		args["location"] = *upd.Location
	}
	if upd.StartsAt != nil {
		args["starts_at"] = upd.StartsAt.UTC()
	}
	if upd.EndsAt != nil {
		args["ends_at"] = upd.EndsAt.UTC()
	}
	if upd.Recurrence != nil {
		args["recurrence"] = ruleArgs(*upd.Recurrence)
	}
	return args
}

// ruleArgs encodes a recurrence rule within the canonical value domain.
func ruleArgs(r recur.Rule) map[string]any {
	days := make([]any, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		days = append(days, int64(d))
	}
	args := map[string]any{
		"frequency": string(r.Frequency),
		"interval":  int64(r.Interval),
		"end_type":  string(r.End.Type),
	}
	if len(days) > 0 {
		args["days_of_week"] = days
	}
	if r.End.Type == recur.AfterCount {
		args["end_count"] = int64(r.End.Count)
	}
	if r.End.Type == recur.OnDate {
		args["end_date"] = r.End.Date
	}
	return args
}
