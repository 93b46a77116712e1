package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/mirrorlab/devicesim/internal/canon"
)

// RunWithGolden executes a scenario and compares its final snapshot
// against testdata/golden/{scenario.Name}.golden in canonical JSON.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not run or failed its inline
// assertions; a snapshot mismatch fails the test through goldie.
func RunWithGolden(t *testing.T, sc *Scenario, opts ...Option) error {
	t.Helper()

	result, err := Run(sc, opts...)
	if err != nil {
		return err
	}
	if !result.Passed {
		return fmt.Errorf("scenario %s failed: %v", sc.Name, result.Failures)
	}

	return AssertGolden(t, result)
}

// AssertGolden compares an already-computed result against its golden
// snapshot.
func AssertGolden(t *testing.T, result *Result) error {
	t.Helper()

	body, err := canonicalSnapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Scenario, body)
	return nil
}

// canonicalSnapshot renders the result as canonical JSON: scenario
// name, state hash, and the full snapshot, with every key sorted.
func canonicalSnapshot(result *Result) ([]byte, error) {
	// Round-trip the snapshot through JSON to reach the canonical
	// value domain.
	raw, err := json.Marshal(result.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("golden snapshot: %w", err)
	}
	var state any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("golden snapshot: %w", err)
	}

	return canon.Marshal(map[string]any{
		"scenario":   result.Scenario,
		"state_hash": result.StateHash,
		"state":      state,
	})
}
