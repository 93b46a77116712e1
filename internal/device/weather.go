package device

import (
	"sort"
	"strings"
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
)

// WeatherReport is the current conditions for one city.
type WeatherReport struct {
	City         string    `json:"city"`
	Condition    string    `json:"condition"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  *float64  `json:"humidity_pct,omitempty"`
	WindKph      *float64  `json:"wind_kph,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ForecastEntry is one forecast data point for a city at a future
// instant.
type ForecastEntry struct {
	ID        string    `json:"id"`
	City      string    `json:"city"`
	At        time.Time `json:"at"`
	Condition string    `json:"condition"`
	HighC     float64   `json:"high_c"`
	LowC      float64   `json:"low_c"`
	CreatedAt time.Time `json:"created_at"`
}

// WeatherInput is the payload for SetCurrent.
type WeatherInput struct {
	City         string
	Condition    string
	TemperatureC float64
	HumidityPct  *float64
	WindKph      *float64
}

// ForecastInput is the payload for AddForecast.
type ForecastInput struct {
	ID        string
	City      string
	At        time.Time
	Condition string
	HighC     float64
	LowC      float64
}

// WeatherStore holds per-city current conditions plus forecast entries.
type WeatherStore struct {
	rt        *runtime
	current   map[string]WeatherReport // keyed by lowercased city
	forecasts []ForecastEntry
	meta      meta
}

func newWeatherStore(rt *runtime) *WeatherStore {
	return &WeatherStore{rt: rt, current: make(map[string]WeatherReport)}
}

var forecastTable = query.Table[ForecastEntry]{
	Timestamp: func(f ForecastEntry) time.Time { return f.At },
	Fields: map[string]func(ForecastEntry) string{
		"city":      func(f ForecastEntry) string { return strings.ToLower(f.City) },
		"condition": func(f ForecastEntry) string { return f.Condition },
	},
	Text: func(f ForecastEntry) string { return f.Condition },
}

// SetCurrent replaces the current conditions for a city, stamped from
// the clock.
func (s *WeatherStore) SetCurrent(in WeatherInput) (WeatherReport, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.City == "" {
		return WeatherReport{}, fault.InvalidArgumentf("weather city is required")
	}

	now := s.rt.stamp()
	report := WeatherReport{
		City:         in.City,
		Condition:    in.Condition,
		TemperatureC: in.TemperatureC,
		HumidityPct:  in.HumidityPct,
		WindKph:      in.WindKph,
		UpdatedAt:    now,
	}
	s.current[strings.ToLower(in.City)] = report
	s.meta.touch(now)

	args := map[string]any{
		"city":          in.City,
		"condition":     in.Condition,
		"temperature_c": in.TemperatureC,
	}
	if in.HumidityPct != nil {
		args["humidity_pct"] = *in.HumidityPct
	}
	if in.WindKph != nil {
		args["wind_kph"] = *in.WindKph
	}
	if err := s.rt.record(FacetWeather, OpWeatherSetCurrent, "", args); err != nil {
		return WeatherReport{}, err
	}
	return report, nil
}

// AddForecast appends one forecast entry for a city.
func (s *WeatherStore) AddForecast(in ForecastInput) (ForecastEntry, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.City == "" {
		return ForecastEntry{}, fault.InvalidArgumentf("forecast city is required")
	}
	if in.At.IsZero() {
		return ForecastEntry{}, fault.InvalidArgumentf("forecast instant is required")
	}

	now := s.rt.stamp()
	entry := ForecastEntry{
		ID:        s.rt.newID(in.ID),
		City:      in.City,
		At:        in.At.UTC(),
		Condition: in.Condition,
		HighC:     in.HighC,
		LowC:      in.LowC,
		CreatedAt: now,
	}
	s.forecasts = append(s.forecasts, entry)
	s.meta.touch(now)

	err := s.rt.record(FacetWeather, OpWeatherAddForecast, entry.ID, map[string]any{
		"id":        entry.ID,
		"city":      entry.City,
		"at":        entry.At,
		"condition": entry.Condition,
		"high_c":    entry.HighC,
		"low_c":     entry.LowC,
	})
	if err != nil {
		return ForecastEntry{}, err
	}
	return entry, nil
}

// Current returns the current conditions for a city (case-insensitive).
// Fails with NotFound for a city never set.
func (s *WeatherStore) Current(city string) (WeatherReport, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	report, ok := s.current[strings.ToLower(city)]
	if !ok {
		return WeatherReport{}, fault.NotFoundf("no weather report for city %q", city)
	}
	return report, nil
}

// Forecasts queries forecast entries. The timestamp key is the
// forecast instant, not the creation time.
func (s *WeatherStore) Forecasts(spec query.Spec) (query.Result[ForecastEntry], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return query.Run(s.forecasts, forecastTable, spec)
}

// State returns a point-in-time snapshot of the facet. Current reports
// are listed by city for determinism.
func (s *WeatherStore) State() WeatherState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

func (s *WeatherStore) stateLocked() WeatherState {
	cities := make([]string, 0, len(s.current))
	for city := range s.current {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	reports := make([]WeatherReport, 0, len(cities))
	for _, city := range cities {
		reports = append(reports, s.current[city])
	}

	return WeatherState{
		Current:   reports,
		Forecasts: append([]ForecastEntry{}, s.forecasts...),
		Meta:      s.meta.export(),
	}
}

// WeatherState is the weather facet snapshot.
type WeatherState struct {
	Current   []WeatherReport `json:"current"`
	Forecasts []ForecastEntry `json:"forecasts"`
	Meta      FacetMeta       `json:"meta"`
}
