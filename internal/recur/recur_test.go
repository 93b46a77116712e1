package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/devicesim/internal/fault"
)

// Monday 2024-05-06, 09:00 UTC.
var monday = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

func weeklyRule(interval int, days ...time.Weekday) Rule {
	return Rule{
		Frequency:  Weekly,
		Interval:   interval,
		DaysOfWeek: days,
		End:        End{Type: Never},
	}
}

func starts(occ []Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Start)
	}
	return out
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
	}{
		{"unknown frequency", Rule{Frequency: "hourly", Interval: 1, End: End{Type: Never}}},
		{"zero interval", Rule{Frequency: Daily, Interval: 0, End: End{Type: Never}}},
		{"negative interval", Rule{Frequency: Daily, Interval: -2, End: End{Type: Never}}},
		{"weekly without days", Rule{Frequency: Weekly, Interval: 1, End: End{Type: Never}}},
		{"after_count without count", Rule{Frequency: Daily, Interval: 1, End: End{Type: AfterCount}}},
		{"on_date without date", Rule{Frequency: Daily, Interval: 1, End: End{Type: OnDate}}},
		{"unknown end type", Rule{Frequency: Daily, Interval: 1, End: End{Type: "until"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, fault.IsInvalidArgument(tc.rule.Validate()))
		})
	}

	assert.NoError(t, weeklyRule(1, time.Monday).Validate())
}

func TestExpand_WeeklyMondayThreeWeekWindow(t *testing.T) {
	win := Window{From: monday, To: monday.AddDate(0, 0, 21)}
	occ, err := Expand(weeklyRule(1, time.Monday), monday, monday.Add(30*time.Minute), win)
	require.NoError(t, err)

	require.Len(t, occ, 3)
	for i, o := range occ {
		assert.Equal(t, monday.AddDate(0, 0, 7*i), o.Start)
		assert.Equal(t, time.Monday, o.Start.Weekday())
		assert.Equal(t, 30*time.Minute, o.End.Sub(o.Start), "duration carried forward")
	}
}

func TestExpand_WeeklyFourWeekWindow(t *testing.T) {
	// Standup scenario: weekly Monday, window [T, T+28d) anchored on a
	// Monday start yields exactly 4 occurrences 7 days apart.
	start := monday.Add(time.Hour)
	win := Window{From: monday, To: monday.AddDate(0, 0, 28)}

	occ, err := Expand(weeklyRule(1, time.Monday), start, start.Add(30*time.Minute), win)
	require.NoError(t, err)

	require.Len(t, occ, 4)
	for i := 1; i < len(occ); i++ {
		assert.Equal(t, 7*24*time.Hour, occ[i].Start.Sub(occ[i-1].Start))
	}
}

func TestExpand_WeeklyEveryOtherWeek(t *testing.T) {
	win := Window{From: monday, To: monday.AddDate(0, 0, 49)}
	occ, err := Expand(weeklyRule(2, time.Monday), monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		monday,
		monday.AddDate(0, 0, 14),
		monday.AddDate(0, 0, 28),
		monday.AddDate(0, 0, 42),
	}, starts(occ))
}

func TestExpand_WeeklyMultipleDays(t *testing.T) {
	win := Window{From: monday, To: monday.AddDate(0, 0, 14)}
	occ, err := Expand(weeklyRule(1, time.Monday, time.Wednesday), monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		monday,
		monday.AddDate(0, 0, 2), // Wednesday
		monday.AddDate(0, 0, 7),
		monday.AddDate(0, 0, 9),
	}, starts(occ))
}

func TestExpand_WeeklyBaseWeekdayNotSelected(t *testing.T) {
	// Base starts Monday but only Friday is selected: first occurrence
	// is the Friday of the base week.
	win := Window{From: monday, To: monday.AddDate(0, 0, 14)}
	occ, err := Expand(weeklyRule(1, time.Friday), monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	require.Len(t, occ, 2)
	assert.Equal(t, monday.AddDate(0, 0, 4), occ[0].Start)
	assert.Equal(t, time.Friday, occ[0].Start.Weekday())
}

func TestExpand_Daily(t *testing.T) {
	win := Window{From: monday, To: monday.AddDate(0, 0, 7)}
	occ, err := Expand(Rule{Frequency: Daily, Interval: 2, End: End{Type: Never}}, monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		monday,
		monday.AddDate(0, 0, 2),
		monday.AddDate(0, 0, 4),
		monday.AddDate(0, 0, 6),
	}, starts(occ))
}

func TestExpand_MonthlyClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	win := Window{From: jan31, To: jan31.AddDate(1, 0, 0)}

	occ, err := Expand(Rule{Frequency: Monthly, Interval: 1, End: End{Type: Never}}, jan31, jan31.Add(time.Hour), win)
	require.NoError(t, err)

	require.True(t, len(occ) >= 4)
	assert.Equal(t, jan31, occ[0].Start)
	// 2024 is a leap year: Jan 31 + 1 month clamps to Feb 29.
	assert.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), occ[1].Start)
	// Clamping is computed from the base, so March recovers the 31st.
	assert.Equal(t, time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC), occ[2].Start)
	assert.Equal(t, time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC), occ[3].Start)
}

func TestExpand_YearlyLeapDay(t *testing.T) {
	feb29 := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC)
	win := Window{From: feb29, To: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)}

	occ, err := Expand(Rule{Frequency: Yearly, Interval: 1, End: End{Type: Never}}, feb29, feb29.Add(time.Hour), win)
	require.NoError(t, err)

	require.Len(t, occ, 3)
	assert.Equal(t, feb29, occ[0].Start)
	assert.Equal(t, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC), occ[1].Start)
	assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), occ[2].Start)
}

func TestExpand_AfterCount(t *testing.T) {
	rule := Rule{Frequency: Daily, Interval: 1, End: End{Type: AfterCount, Count: 3}}
	win := Window{From: monday, To: monday.AddDate(0, 0, 30)}

	occ, err := Expand(rule, monday, monday.Add(time.Hour), win)
	require.NoError(t, err)
	assert.Len(t, occ, 3)
}

func TestExpand_AfterCountCountsOccurrencesBeforeWindow(t *testing.T) {
	rule := Rule{Frequency: Daily, Interval: 1, End: End{Type: AfterCount, Count: 3}}
	// Window starts after the second occurrence: only the third remains.
	win := Window{From: monday.AddDate(0, 0, 2), To: monday.AddDate(0, 0, 30)}

	occ, err := Expand(rule, monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	require.Len(t, occ, 1)
	assert.Equal(t, monday.AddDate(0, 0, 2), occ[0].Start)
}

func TestExpand_OnDateIsExclusive(t *testing.T) {
	rule := Rule{
		Frequency: Daily,
		Interval:  1,
		End:       End{Type: OnDate, Date: monday.AddDate(0, 0, 3)},
	}
	win := Window{From: monday, To: monday.AddDate(0, 0, 30)}

	occ, err := Expand(rule, monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	// Occurrence at the bound itself is excluded.
	assert.Equal(t, []time.Time{
		monday,
		monday.AddDate(0, 0, 1),
		monday.AddDate(0, 0, 2),
	}, starts(occ))
}

func TestExpand_WindowBeforeBase(t *testing.T) {
	win := Window{From: monday.AddDate(0, 0, -14), To: monday}
	occ, err := Expand(weeklyRule(1, time.Monday), monday, monday.Add(time.Hour), win)
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestExpand_InvalidWindow(t *testing.T) {
	_, err := Expand(weeklyRule(1, time.Monday), monday, monday.Add(time.Hour), Window{From: monday, To: monday})
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestExpand_MalformedRule(t *testing.T) {
	win := Window{From: monday, To: monday.AddDate(0, 0, 7)}
	_, err := Expand(Rule{Frequency: Weekly, Interval: 1, End: End{Type: Never}}, monday, monday.Add(time.Hour), win)
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestExpand_Ascending(t *testing.T) {
	win := Window{From: monday.AddDate(0, 0, -7), To: monday.AddDate(0, 0, 60)}
	occ, err := Expand(weeklyRule(1, time.Tuesday, time.Thursday, time.Saturday), monday, monday.Add(time.Hour), win)
	require.NoError(t, err)

	for i := 1; i < len(occ); i++ {
		assert.True(t, occ[i].Start.After(occ[i-1].Start), "occurrences must ascend")
	}
}
