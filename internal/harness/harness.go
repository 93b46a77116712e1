// Package harness runs authored YAML scenarios against a fresh
// simulated environment and verifies the resulting state, either with
// inline assertions or against golden snapshots.
//
// Every run is deterministic: sequential ids, a fixed start instant,
// and a virtual clock that moves only when a step moves it. Two runs of
// the same scenario produce byte-identical canonical snapshots, which
// is what the golden comparison relies on.
package harness

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
	"github.com/mirrorlab/devicesim/internal/recur"
	"github.com/mirrorlab/devicesim/internal/seed"
	"github.com/mirrorlab/devicesim/internal/testutil"
	"github.com/mirrorlab/devicesim/internal/trace"
)

// Result is the outcome of one scenario run.
type Result struct {
	Scenario string
	Passed   bool
	Failures []string

	// Snapshot is the final environment state.
	Snapshot device.Snapshot
	// StateHash is the snapshot's canonical digest.
	StateHash string
}

// Option configures a runner.
type Option func(*runner)

// WithBaseDir sets the directory seed profile paths resolve against.
// Defaults to the current directory.
func WithBaseDir(dir string) Option {
	return func(r *runner) { r.baseDir = dir }
}

// WithLogger replaces the runner's logger. The default discards
// everything, which is what tests want.
func WithLogger(logger *slog.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

type runner struct {
	baseDir string
	logger  *slog.Logger
}

// Run executes a scenario in a fresh environment.
//
// A returned error means the scenario could not run (unparseable step,
// missing profile); assertion and expectation mismatches are reported
// in Result.Failures with Passed false.
func Run(sc *Scenario, opts ...Option) (*Result, error) {
	r := &runner{
		baseDir: ".",
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	var prof *seed.Profile
	if sc.Profile != "" {
		var err error
		prof, err = seed.Load(filepath.Join(r.baseDir, sc.Profile))
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	// Start precedence: scenario, then profile, then the fixture epoch.
	start := sc.Start
	if start.IsZero() && prof != nil {
		start = prof.Start
	}
	if start.IsZero() {
		start = testutil.Epoch
	}

	env := device.New(start, device.WithIDGenerator(testutil.NewSeqIDGenerator("id")))
	if prof != nil {
		if err := seed.Apply(env, prof); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	result := &Result{Scenario: sc.Name, Passed: true}

	for i, step := range sc.Steps {
		err := r.applyStep(env, step)
		if mismatch := checkStepError(step, err); mismatch != "" {
			result.fail(fmt.Sprintf("step %d (%s): %s", i, step.Op, mismatch))
		}
		r.logger.Debug("step applied", "scenario", sc.Name, "step", i, "op", step.Op, "err", err)
	}

	for i, a := range sc.Assertions {
		if err := r.assert(env, a); err != nil {
			result.fail(fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}

	result.Snapshot = env.State()
	hash, err := result.Snapshot.CanonicalHash()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	result.StateHash = hash

	return result, nil
}

func (r *Result) fail(msg string) {
	r.Passed = false
	r.Failures = append(r.Failures, msg)
}

// applyStep translates one step into a mutation event and dispatches
// it through the same path recorded traces replay through.
func (r *runner) applyStep(env *device.Environment, step Step) error {
	facet, op, _ := strings.Cut(step.Op, ".")

	args := step.Args
	if step.Duration != "" {
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fault.InvalidArgumentf("step %s: bad duration %q", step.Op, step.Duration)
		}
		key := "delta_ns"
		if device.Op(op) == device.OpClockTick {
			key = "elapsed_ns"
		}
		args = cloneArgs(args)
		args[key] = int64(d)
	}

	return trace.Apply(env, device.MutationEvent{
		Facet: device.Facet(facet),
		Op:    device.Op(op),
		Args:  args,
	})
}

// checkStepError reconciles a step's outcome with its expectation.
// Returns a non-empty description on mismatch.
func checkStepError(step Step, err error) string {
	switch step.Error {
	case "":
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
	case "invalid_argument":
		if !fault.IsInvalidArgument(err) {
			return fmt.Sprintf("expected invalid_argument, got %v", err)
		}
	case "not_found":
		if !fault.IsNotFound(err) {
			return fmt.Sprintf("expected not_found, got %v", err)
		}
	}
	return ""
}

func (r *runner) assert(env *device.Environment, a Assertion) error {
	switch a.Type {
	case AssertClock:
		if now := env.Now(); !now.Equal(a.Time) {
			return fmt.Errorf("clock is %s, expected %s", now.Format(time.RFC3339Nano), a.Time.Format(time.RFC3339Nano))
		}
		return nil

	case AssertCount:
		n, err := facetCount(env, device.Facet(a.Facet))
		if err != nil {
			return err
		}
		if n != a.Count {
			return fmt.Errorf("facet %s has %d records, expected %d", a.Facet, n, a.Count)
		}
		return nil

	case AssertQuery:
		total, err := facetQueryTotal(env, device.Facet(a.Facet), a.spec())
		if err != nil {
			return err
		}
		if total != a.Total {
			return fmt.Errorf("facet %s query matched %d records, expected %d", a.Facet, total, a.Total)
		}
		return nil

	case AssertOccurrences:
		occs, err := env.Calendar().Occurrences(recur.Window{From: a.From, To: a.To})
		if err != nil {
			return err
		}
		if len(occs) != a.Count {
			return fmt.Errorf("window yields %d occurrences, expected %d", len(occs), a.Count)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// spec builds the query from the assertion's clauses. Equals keys are
// sorted so the predicate order is deterministic.
func (a Assertion) spec() query.Spec {
	var spec query.Spec
	for _, field := range sortedKeys(a.Equals) {
		spec.Filter = append(spec.Filter, query.Equals{Field: field, Value: a.Equals[field]})
	}
	if a.Contains != "" {
		spec.Filter = append(spec.Filter, query.Contains{Value: a.Contains})
	}
	if !a.Since.IsZero() {
		spec.Filter = append(spec.Filter, query.Since{T: a.Since})
	}
	if !a.Before.IsZero() {
		spec.Filter = append(spec.Filter, query.Before{T: a.Before})
	}
	return spec
}

func facetCount(env *device.Environment, facet device.Facet) (int, error) {
	switch facet {
	case device.FacetCalendar:
		return len(env.Calendar().State().Events), nil
	case device.FacetChat:
		return len(env.Chat().State().Messages), nil
	case device.FacetEmail:
		return len(env.Email().State().Messages), nil
	case device.FacetSMS:
		return len(env.SMS().State().Messages), nil
	case device.FacetLocation:
		st := env.Location().State()
		n := len(st.History)
		if st.Current != nil {
			n++
		}
		return n, nil
	case device.FacetWeather:
		st := env.Weather().State()
		return len(st.Current) + len(st.Forecasts), nil
	}
	return 0, fmt.Errorf("facet %q does not support count assertions", facet)
}

func facetQueryTotal(env *device.Environment, facet device.Facet, spec query.Spec) (int, error) {
	switch facet {
	case device.FacetCalendar:
		res, err := env.Calendar().Events(spec)
		return res.TotalCount, err
	case device.FacetChat:
		res, err := env.Chat().Messages(spec)
		return res.TotalCount, err
	case device.FacetEmail:
		res, err := env.Email().Messages(spec)
		return res.TotalCount, err
	case device.FacetSMS:
		res, err := env.SMS().Messages(spec)
		return res.TotalCount, err
	case device.FacetLocation:
		res, err := env.Location().History(spec, true)
		return res.TotalCount, err
	case device.FacetWeather:
		res, err := env.Weather().Forecasts(spec)
		return res.TotalCount, err
	}
	return 0, fmt.Errorf("facet %q does not support query assertions", facet)
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
