package trace_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/recur"
	"github.com/mirrorlab/devicesim/internal/testutil"
	"github.com/mirrorlab/devicesim/internal/trace"
)

func openLog(t *testing.T) *trace.Log {
	t.Helper()
	log, err := trace.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, log.Close()) })
	return log
}

// recordedEnv is a recording environment with reproducible ids.
func recordedEnv(t *testing.T, log *trace.Log) *device.Environment {
	t.Helper()
	return device.New(testutil.Epoch,
		device.WithIDGenerator(testutil.NewSeqIDGenerator("id")),
		device.WithRecorder(log),
	)
}

func TestLog_RecordsAppliedOrder(t *testing.T) {
	log := openLog(t)
	env := recordedEnv(t, log)

	require.NoError(t, env.AdvanceClock(time.Hour))
	_, err := env.SMS().Send(device.SMSInput{From: "me", To: []string{"a"}, Body: "one"})
	require.NoError(t, err)
	_, err = env.Weather().SetCurrent(device.WeatherInput{City: "Paris", Condition: "sunny", TemperatureC: 20})
	require.NoError(t, err)

	events, err := log.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, device.FacetClock, events[0].Facet)
	assert.Equal(t, device.OpClockAdvance, events[0].Op)
	assert.Equal(t, device.FacetSMS, events[1].Facet)
	assert.Equal(t, device.FacetWeather, events[2].Facet)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), events[1].At)
}

func TestLog_OpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")

	log1, err := trace.Open(path)
	require.NoError(t, err)
	require.NoError(t, log1.Record(device.MutationEvent{
		Facet: device.FacetClock, Op: device.OpClockPause, At: testutil.Epoch,
	}))
	require.NoError(t, log1.Close())

	log2, err := trace.Open(path)
	require.NoError(t, err)
	defer log2.Close()

	n, err := log2.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reopening does not disturb existing events")
}

func TestReplay_RebuildsIdenticalState(t *testing.T) {
	log := openLog(t)
	env := recordedEnv(t, log)

	// Drive a session across every facet and the clock.
	require.NoError(t, env.SetClockScale(2))
	require.NoError(t, env.SetAutoAdvance(true))
	require.NoError(t, env.TickClock(30*time.Minute))
	require.NoError(t, env.PauseClock())

	_, err := env.Calendar().CreateEvent(device.EventInput{
		Title:    "standup",
		StartsAt: testutil.Epoch.Add(24 * time.Hour),
		EndsAt:   testutil.Epoch.Add(24*time.Hour + 15*time.Minute),
		Recurrence: &recur.Rule{
			Frequency:  recur.Weekly,
			Interval:   1,
			DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
			End:        recur.End{Type: recur.AfterCount, Count: 10},
		},
	})
	require.NoError(t, err)

	_, err = env.Chat().SendMessage(device.ChatInput{Sender: "me", Recipients: []string{"ana"}, Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, env.AdvanceClock(5*time.Minute))

	sms, err := env.SMS().Receive(device.SMSInput{From: "+1555", To: []string{"me"}, Body: "ping"})
	require.NoError(t, err)
	require.NoError(t, env.SMS().MarkRead(sms.ID))

	_, err = env.Email().Send(device.EmailInput{From: "me@x.io", To: []string{"ana@x.io"}, Subject: "s", Body: "b"})
	require.NoError(t, err)

	alt := 120.5
	_, err = env.Location().Set(device.LocationInput{Latitude: 48.85, Longitude: 2.35, Altitude: &alt})
	require.NoError(t, err)

	_, err = env.Weather().AddForecast(device.ForecastInput{
		City: "Paris", At: testutil.Epoch.AddDate(0, 0, 2), Condition: "rain", HighC: 15, LowC: 8,
	})
	require.NoError(t, err)

	want, err := env.State().CanonicalHash()
	require.NoError(t, err)

	// Replay into a fresh environment with the same generator. Recorded
	// events carry explicit ids, so the generator is never consulted,
	// but the option keeps the environments symmetric.
	replayed, err := trace.Replay(context.Background(), log, testutil.Epoch,
		device.WithIDGenerator(testutil.NewSeqIDGenerator("id")))
	require.NoError(t, err)

	got, err := replayed.State().CanonicalHash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplay_DerivedThreadKeysRecompute(t *testing.T) {
	log := openLog(t)
	env := recordedEnv(t, log)

	m1, err := env.Chat().SendMessage(device.ChatInput{Sender: "me", Recipients: []string{"ana", "ben"}, Body: "x"})
	require.NoError(t, err)

	replayed, err := trace.Replay(context.Background(), log, testutil.Epoch)
	require.NoError(t, err)

	st := replayed.Chat().State()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, m1.ConversationID, st.Messages[0].ConversationID,
		"the derived conversation key recomputes to the same value on replay")
}

func TestReplay_TickReproducesScaledTime(t *testing.T) {
	log := openLog(t)
	env := recordedEnv(t, log)

	require.NoError(t, env.SetAutoAdvance(true))
	require.NoError(t, env.SetClockScale(10))
	require.NoError(t, env.TickClock(time.Minute))

	replayed, err := trace.Replay(context.Background(), log, testutil.Epoch)
	require.NoError(t, err)

	assert.Equal(t, env.Now(), replayed.Now())
	assert.Equal(t, testutil.Epoch.Add(10*time.Minute), replayed.Now())
}

func TestReplay_UnknownOpFails(t *testing.T) {
	log := openLog(t)
	require.NoError(t, log.Record(device.MutationEvent{
		Facet: device.FacetClock, Op: "warp", At: testutil.Epoch,
	}))

	_, err := trace.Replay(context.Background(), log, testutil.Epoch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown clock op")
}
