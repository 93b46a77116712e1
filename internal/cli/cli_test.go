package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/testutil"
	"github.com/mirrorlab/devicesim/internal/trace"
)

const fixtureProfile = `profile: {
	name:  "cli-fixture"
	start: "2024-05-06T09:00:00Z"

	sms: [{
		from: "+15550100"
		to: ["me"]
		body: "hello"
	}]

	email: [{
		from:    "boss@example.com"
		to: ["me@example.com"]
		subject: "status"
		body:    "ping"
		read:    true
	}]
}
`

const fixtureScenario = `name: cli-fixture
profile: fixture.cue
steps:
  - op: clock.advance
    duration: 5m
  - op: sms.send
    args:
      from: me
      to: ["+15550100"]
      body: "hi"
assertions:
  - type: clock
    time: 2024-05-06T09:05:00Z
  - type: count
    facet: sms
    count: 2
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.cue"), []byte(fixtureProfile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.yaml"), []byte(fixtureScenario), 0o644))
	return dir
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := runCLI(t, "--format", "xml", "validate", "whatever.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidate_AcceptsFixtures(t *testing.T) {
	dir := writeFixtures(t)

	out, err := runCLI(t, "validate",
		filepath.Join(dir, "fixture.cue"),
		filepath.Join(dir, "fixture.yaml"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "fixture.cue")
	assert.Contains(t, out, "fixture.yaml")
}

func TestValidate_ReportsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte(`profile: {naem: "typo"}`), 0o644))

	out, err := runCLI(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "invalid")
}

func TestValidate_RejectsUnsupportedExtension(t *testing.T) {
	out, err := runCLI(t, "validate", "notes.txt")
	require.Error(t, err)
	assert.Contains(t, out, "unsupported file type")
}

func TestSeed_ReportsStableHash(t *testing.T) {
	dir := writeFixtures(t)
	path := filepath.Join(dir, "fixture.cue")

	var first, second SeedSummary
	out, err := runCLI(t, "--format", "json", "seed", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &first))

	out, err = runCLI(t, "--format", "json", "seed", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &second))

	assert.NotEmpty(t, first.StateHash)
	assert.Equal(t, first.StateHash, second.StateHash)
	assert.Equal(t, 1, first.Counts["sms"])
	assert.Equal(t, 1, first.Counts["email"])
	assert.Nil(t, first.Snapshot)
}

func TestSeed_SnapshotFlagIncludesState(t *testing.T) {
	dir := writeFixtures(t)

	out, err := runCLI(t, "--format", "json", "seed", "--snapshot", filepath.Join(dir, "fixture.cue"))
	require.NoError(t, err)

	var summary SeedSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.NotNil(t, summary.Snapshot)
	assert.Len(t, summary.Snapshot.SMS.Messages, 1)
}

func TestSeed_MissingProfileFails(t *testing.T) {
	_, err := runCLI(t, "seed", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRun_PassingScenario(t *testing.T) {
	dir := writeFixtures(t)

	out, err := runCLI(t, "run", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "cli-fixture")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestRun_FailingScenarioExitsNonzero(t *testing.T) {
	dir := writeFixtures(t)
	failing := `name: cli-failing
profile: fixture.cue
steps:
  - op: clock.advance
    duration: 5m
assertions:
  - type: clock
    time: 2024-05-06T09:10:00Z
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failing), 0o644))

	out, err := runCLI(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "cli-failing")
}

func TestRun_FilterSelectsByName(t *testing.T) {
	dir := writeFixtures(t)

	var report RunReport
	out, err := runCLI(t, "--format", "json", "run", dir, "--filter", "cli-*")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Total)

	out, err = runCLI(t, "--format", "json", "run", dir, "--filter", "other-*")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Total)
}

func TestRun_MissingDirIsCommandError(t *testing.T) {
	_, err := runCLI(t, "run", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplay_ReproducesRecordedState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	log, err := trace.Open(dbPath)
	require.NoError(t, err)

	env := device.New(testutil.Epoch,
		device.WithIDGenerator(testutil.NewSeqIDGenerator("id")),
		device.WithRecorder(log),
	)
	require.NoError(t, env.AdvanceClock(10*time.Minute))
	_, err = env.SMS().Send(device.SMSInput{
		From: "me", To: []string{"+15550100"}, Body: "recorded",
	})
	require.NoError(t, err)

	want, err := env.State().CanonicalHash()
	require.NoError(t, err)
	require.NoError(t, log.Close())

	out, err := runCLI(t, "--format", "json", "replay", dbPath,
		"--start", testutil.Epoch.Format(time.RFC3339))
	require.NoError(t, err)

	var summary ReplaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, want, summary.StateHash)
	assert.Equal(t, 2, summary.Events)
	assert.Equal(t, "2024-05-06T09:10:00Z", summary.ClockTime)
}

func TestReplay_RequiresStart(t *testing.T) {
	_, err := runCLI(t, "replay", filepath.Join(t.TempDir(), "trace.db"))
	require.Error(t, err)
}

func TestReplay_RejectsBadStart(t *testing.T) {
	_, err := runCLI(t, "replay", "trace.db", "--start", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
