package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirrorlab/devicesim/internal/device"
)

// Scenario is one authored simulation run: optional seed profile, a
// sequence of steps, and assertions over the final state.
type Scenario struct {
	// Name uniquely identifies the scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Start anchors the clock. Zero defaults to the fixture epoch.
	Start time.Time `yaml:"start,omitempty"`

	// Profile is an optional CUE seed profile path, relative to the
	// scenario file.
	Profile string `yaml:"profile,omitempty"`

	// Steps are applied in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after all steps applied.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one mutation, named facet.op ("sms.receive",
// "clock.advance"). Clock steps take a duration; everything else takes
// the operation's args.
type Step struct {
	Op       string         `yaml:"op"`
	Args     map[string]any `yaml:"args,omitempty"`
	Duration string         `yaml:"duration,omitempty"`

	// Error, when set, inverts the step: it must fail with this fault
	// kind ("invalid_argument" or "not_found").
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the environment after the steps ran.
type Assertion struct {
	// Type selects the assertion:
	//   - "count": facet record count equals Count
	//   - "query": facet query total equals Total
	//   - "clock": clock time equals Time
	//   - "occurrences": calendar expansion in [From, To) yields Count
	Type string `yaml:"type"`

	Facet string `yaml:"facet,omitempty"`
	Count int    `yaml:"count,omitempty"`
	Total int    `yaml:"total,omitempty"`

	// Query clauses (type "query").
	Equals   map[string]string `yaml:"equals,omitempty"`
	Contains string            `yaml:"contains,omitempty"`
	Since    time.Time         `yaml:"since,omitempty"`
	Before   time.Time         `yaml:"before,omitempty"`

	// Clock clause (type "clock").
	Time time.Time `yaml:"time,omitempty"`

	// Occurrence window (type "occurrences").
	From time.Time `yaml:"from,omitempty"`
	To   time.Time `yaml:"to,omitempty"`
}

// Assertion type constants.
const (
	AssertCount       = "count"
	AssertQuery       = "query"
	AssertClock       = "clock"
	AssertOccurrences = "occurrences"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so a typoed key fails loudly instead of silently
// skipping a step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, step := range sc.Steps {
		facet, _, ok := strings.Cut(step.Op, ".")
		if !ok {
			return fmt.Errorf("step %d: op %q must be facet.operation", i, step.Op)
		}
		switch device.Facet(facet) {
		case device.FacetClock, device.FacetCalendar, device.FacetChat,
			device.FacetEmail, device.FacetSMS, device.FacetLocation, device.FacetWeather:
		default:
			return fmt.Errorf("step %d: unknown facet %q", i, facet)
		}
		switch step.Error {
		case "", "invalid_argument", "not_found":
		default:
			return fmt.Errorf("step %d: unknown error kind %q", i, step.Error)
		}
	}
	for i, a := range sc.Assertions {
		switch a.Type {
		case AssertCount, AssertQuery, AssertClock, AssertOccurrences:
		default:
			return fmt.Errorf("assertion %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}
