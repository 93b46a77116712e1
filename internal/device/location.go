package device

import (
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
)

// LocationSample is one position fix. The numeric extras are optional;
// nil means the field was not reported.
type LocationSample struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
	NamedLocation string    `json:"named_location,omitempty"`
	Address       string    `json:"address,omitempty"`
	Altitude      *float64  `json:"altitude,omitempty"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Bearing       *float64  `json:"bearing,omitempty"`
}

// LocationInput is the payload for Set.
type LocationInput struct {
	Latitude      float64
	Longitude     float64
	NamedLocation string
	Address       string
	Altitude      *float64
	Accuracy      *float64
	Speed         *float64
	Bearing       *float64
}

// LocationStore holds the device's current position and its append-only
// history. Every Set pushes the previous current onto the end of
// history (oldest -> newest) and replaces current.
type LocationStore struct {
	rt      *runtime
	current *LocationSample
	history []LocationSample
	meta    meta
}

func newLocationStore(rt *runtime) *LocationStore {
	return &LocationStore{rt: rt}
}

var locationTable = query.Table[LocationSample]{
	Timestamp: func(s LocationSample) time.Time { return s.Timestamp },
	Fields: map[string]func(LocationSample) string{
		"named_location": func(s LocationSample) string { return s.NamedLocation },
	},
	Text: func(s LocationSample) string { return s.NamedLocation + " " + s.Address },
}

// Set records a new position fix, stamped from the clock. The previous
// current sample, if any, rotates into history. Coordinate range
// validation belongs to the request layer upstream; this store accepts
// what it is given.
func (s *LocationStore) Set(in LocationInput) (LocationSample, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	now := s.rt.stamp()
	sample := LocationSample{
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Timestamp:     now,
		NamedLocation: in.NamedLocation,
		Address:       in.Address,
		Altitude:      in.Altitude,
		Accuracy:      in.Accuracy,
		Speed:         in.Speed,
		Bearing:       in.Bearing,
	}
	if s.current != nil {
		s.history = append(s.history, *s.current)
	}
	s.current = &sample
	s.meta.touch(now)

	if err := s.rt.record(FacetLocation, OpLocationSet, "", locationArgs(in)); err != nil {
		return LocationSample{}, err
	}
	return sample, nil
}

// Current returns the current sample. Fails with NotFound before the
// first Set.
func (s *LocationStore) Current() (LocationSample, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	if s.current == nil {
		return LocationSample{}, fault.NotFoundf("no location has been set")
	}
	return *s.current, nil
}

// History queries past samples. includeCurrent additionally folds the
// current sample into the queried set, useful for "everywhere the
// device has been" reads.
func (s *LocationStore) History(spec query.Spec, includeCurrent bool) (query.Result[LocationSample], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	records := s.history
	if includeCurrent && s.current != nil {
		records = make([]LocationSample, 0, len(s.history)+1)
		records = append(records, s.history...)
		records = append(records, *s.current)
	}
	return query.Run(records, locationTable, spec)
}

// State returns a point-in-time snapshot of the facet.
func (s *LocationStore) State() LocationState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

func (s *LocationStore) stateLocked() LocationState {
	st := LocationState{
		History: append([]LocationSample{}, s.history...),
		Meta:    s.meta.export(),
	}
	if s.current != nil {
		cp := *s.current
		st.Current = &cp
	}
	return st
}

// LocationState is the location facet snapshot.
type LocationState struct {
	Current *LocationSample  `json:"current,omitempty"`
	History []LocationSample `json:"history"`
	Meta    FacetMeta        `json:"meta"`
}

func locationArgs(in LocationInput) map[string]any {
	args := map[string]any{
		"latitude":  in.Latitude,
		"longitude": in.Longitude,
	}
	if in.NamedLocation != "" {
		args["named_location"] = in.NamedLocation
	}
	if in.Address != "" {
		args["address"] = in.Address
	}
	if in.Altitude != nil {
		args["altitude"] = *in.Altitude
	}
	if in.Accuracy != nil {
		args["accuracy"] = *in.Accuracy
	}
	if in.Speed != nil {
		args["speed"] = *in.Speed
	}
	if in.Bearing != nil {
		args["bearing"] = *in.Bearing
	}
	return args
}
