package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/processor"
)

func testTracker() *Tracker {
	return NewTracker(processor.New(processor.Config{
		RatePerMinute:        map[string]float64{"running": 2.0},
		DefaultRate:          1.0,
		DifficultyMin:        0.7,
		DifficultyMax:        1.6,
		TrustDefault:         0.8,
		TrustFloor:           0.5,
		TrustStep:            0.02,
		RepetitionPenaltyPct: 0.15,
		BucketMinutes:        15,
		DailyHighValueCap:    3,
		HighValueMin:         20,
		EnergyPerMinuteCeil:  25,
	}))
}

func eventAt(typ string, minutes int, end time.Time) domain.RawEvent {
	return domain.RawEvent{
		ID:        "act",
		Type:      typ,
		StartedAt: end.Add(-time.Duration(minutes) * time.Minute),
		EndedAt:   end,
		Duration:  time.Duration(minutes) * time.Minute,
	}
}

func TestRepeatsCountSameTypeAndBucket(t *testing.T) {
	tr := testTracker()
	end := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	ev := eventAt("running", 30, end)
	require.Zero(t, tr.StatsFor(ev).SameDayRepeats)
	tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	require.Equal(t, 1, tr.StatsFor(ev).SameDayRepeats)

	// A different duration bucket is not a repeat.
	longer := eventAt("running", 60, end.Add(2*time.Hour))
	require.Zero(t, tr.StatsFor(longer).SameDayRepeats)
}

func TestTypeChangeBreaksRepetitionChain(t *testing.T) {
	tr := testTracker()
	end := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	run := eventAt("running", 30, end)
	tr.Record(run, domain.RewardTransaction{FinalValue: 48})
	tr.Record(run, domain.RewardTransaction{FinalValue: 40})
	require.Equal(t, 2, tr.StatsFor(run).SameDayRepeats)

	tr.Record(eventAt("cycling", 30, end.Add(time.Hour)), domain.RewardTransaction{FinalValue: 30})
	require.Zero(t, tr.StatsFor(run).SameDayRepeats)
}

func TestDayRolloverResetsDailyCounters(t *testing.T) {
	tr := testTracker()
	day1 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	ev := eventAt("running", 30, day1)
	tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	require.Equal(t, 2, tr.StatsFor(ev).HighValueToday)

	next := eventAt("running", 30, day2)
	stats := tr.StatsFor(next)
	require.Zero(t, stats.HighValueToday)
	require.Zero(t, stats.SameDayRepeats)
	require.Equal(t, 1, stats.DaysSinceRest)
}

func TestRestGapClearsRestDebt(t *testing.T) {
	tr := testTracker()
	end := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		ev := eventAt("running", 30, end.Add(time.Duration(i)*24*time.Hour))
		tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	}
	last := eventAt("running", 30, end.Add(7*24*time.Hour))
	require.Equal(t, 7, tr.StatsFor(last).DaysSinceRest)

	// Five idle days contain rest days; the debt does not keep growing.
	afterGap := eventAt("running", 30, end.Add(12*24*time.Hour))
	require.Zero(t, tr.StatsFor(afterGap).DaysSinceRest)
}

func TestLowValueActivityDoesNotCountTowardCap(t *testing.T) {
	tr := testTracker()
	ev := eventAt("running", 5, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	tr.Record(ev, domain.RewardTransaction{FinalValue: 8}) // below high_value_min
	require.Zero(t, tr.StatsFor(ev).HighValueToday)
}

func TestTrustDriftsUpOnRecordDownOnPenalize(t *testing.T) {
	tr := testTracker()
	ev := eventAt("running", 30, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	require.Zero(t, tr.StatsFor(ev).TrustScore) // unset until first record

	tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	afterRecord := tr.StatsFor(ev).TrustScore
	require.InDelta(t, 0.82, afterRecord, 1e-9)

	tr.Penalize(ev)
	tr.Penalize(ev)
	require.InDelta(t, afterRecord-0.04, tr.StatsFor(ev).TrustScore, 1e-9)
}

func TestRecentTypesDeduplicatedAndBounded(t *testing.T) {
	tr := testTracker()
	end := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for _, typ := range []string{"a", "b", "a", "c", "d", "e", "f"} {
		tr.Record(eventAt(typ, 30, end), domain.RewardTransaction{FinalValue: 30})
		end = end.Add(time.Minute)
	}

	recent := tr.StatsFor(eventAt("a", 30, end)).RecentTypes
	require.Len(t, recent, 5)
	require.NotContains(t, recent, "a") // oldest distinct type evicted
	require.Contains(t, recent, "f")
}

func TestWeeklyActiveDaysAccumulates(t *testing.T) {
	tr := testTracker()
	end := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := eventAt("running", 30, end.Add(time.Duration(i)*24*time.Hour))
		tr.Record(ev, domain.RewardTransaction{FinalValue: 48})
	}

	ev := eventAt("running", 30, end.Add(3*24*time.Hour))
	require.Equal(t, 3, tr.StatsFor(ev).WeeklyActiveDays)
}
