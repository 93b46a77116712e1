package harness_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/devicesim/internal/harness"
	"github.com/mirrorlab/devicesim/internal/testutil"
)

func TestLoadScenario(t *testing.T) {
	sc, err := harness.LoadScenario("testdata/scenarios/morning-triage.yaml")
	require.NoError(t, err)

	assert.Equal(t, "morning-triage", sc.Name)
	assert.Equal(t, "../profiles/morning.cue", sc.Profile)
	require.Len(t, sc.Steps, 4)
	assert.Equal(t, "clock.advance", sc.Steps[0].Op)
	assert.Equal(t, "invalid_argument", sc.Steps[3].Error)
	assert.Len(t, sc.Assertions, 5)
}

func TestLoadScenario_RejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", `
name: bad
stepps:
  - op: clock.advance
`)
	_, err := harness.LoadScenario(dir + "/bad.yaml")
	require.Error(t, err)
}

func TestLoadScenario_RejectsBadOp(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", `
name: bad
steps:
  - op: advance
`)
	_, err := harness.LoadScenario(dir + "/bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "facet.operation")
}

func TestRun_SeededScenario(t *testing.T) {
	sc, err := harness.LoadScenario("testdata/scenarios/morning-triage.yaml")
	require.NoError(t, err)

	result, err := harness.Run(sc, harness.WithBaseDir("testdata/scenarios"))
	require.NoError(t, err)

	assert.True(t, result.Passed, "failures: %v", result.Failures)
	assert.Equal(t, testutil.Epoch.Add(15*time.Minute), result.Snapshot.Clock.CurrentTime)
	assert.NotEmpty(t, result.StateHash)
}

func TestRun_Deterministic(t *testing.T) {
	sc, err := harness.LoadScenario("testdata/scenarios/morning-triage.yaml")
	require.NoError(t, err)

	first, err := harness.Run(sc, harness.WithBaseDir("testdata/scenarios"))
	require.NoError(t, err)
	second, err := harness.Run(sc, harness.WithBaseDir("testdata/scenarios"))
	require.NoError(t, err)

	assert.Equal(t, first.StateHash, second.StateHash,
		"the same scenario always produces the same canonical state")
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	sc := &harness.Scenario{
		Name: "mismatch",
		Steps: []harness.Step{
			{Op: "clock.advance", Duration: "1h", Error: "invalid_argument"},
		},
	}
	result, err := harness.Run(sc)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "expected invalid_argument")
}

func TestRun_FailedAssertionReported(t *testing.T) {
	sc := &harness.Scenario{
		Name: "wrong-count",
		Steps: []harness.Step{
			{Op: "sms.receive", Args: map[string]any{"from": "a", "to": []any{"b"}, "body": "x"}},
		},
		Assertions: []harness.Assertion{
			{Type: harness.AssertCount, Facet: "sms", Count: 5},
		},
	}
	result, err := harness.Run(sc)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "expected 5")
}

func TestRunWithGolden_ClockDiscipline(t *testing.T) {
	sc := &harness.Scenario{
		Name: "clock-discipline",
		Steps: []harness.Step{
			{Op: "clock.advance", Duration: "45m"},
			{Op: "clock.set_scale", Args: map[string]any{"scale": 2.5}},
			{Op: "clock.pause"},
		},
	}
	require.NoError(t, harness.RunWithGolden(t, sc))
}

func writeScenario(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}
