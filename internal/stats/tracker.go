// Package stats maintains the per-user inputs the reward processor consumes:
// same-day repetition counts, the daily high-value tally, recent type
// variety, consistency, and the drifting trust score.
package stats

import (
	"fmt"
	"sync"
	"time"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/processor"
)

const recentTypeWindow = 5

// Tracker derives UserStats from the events it has been shown. Day
// boundaries follow event end timestamps, not the wall clock, so replaying
// the same events yields the same stats.
type Tracker struct {
	proc *processor.Processor

	mu          sync.Mutex
	day         time.Time
	lastType    string
	repeats     map[string]int
	highValue   int
	recentTypes []string
	activeDays  map[string]struct{}
	daysNoRest  int
	trust       float64
}

// NewTracker constructs a Tracker sharing the processor's bucket and
// high-value rules.
func NewTracker(proc *processor.Processor) *Tracker {
	return &Tracker{
		proc:       proc,
		repeats:    make(map[string]int),
		activeDays: make(map[string]struct{}),
	}
}

// StatsFor snapshots the current stats as seen by ev.
func (t *Tracker) StatsFor(ev domain.RawEvent) domain.UserStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay(ev)

	recent := make([]string, len(t.recentTypes))
	copy(recent, t.recentTypes)

	return domain.UserStats{
		WeeklyActiveDays: len(t.activeDays),
		RecentTypes:      recent,
		DaysSinceRest:    t.daysNoRest,
		TrustScore:       t.trust,
		SameDayRepeats:   t.repeats[t.repeatKey(ev)],
		HighValueToday:   t.highValue,
	}
}

// Record folds a processed event into the tracker. Valid recorded activity
// drifts trust upward.
func (t *Tracker) Record(ev domain.RawEvent, tx domain.RewardTransaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay(ev)

	t.noteType(ev.Type)
	t.repeats[t.repeatKey(ev)]++
	if t.proc.HighValue(tx.FinalValue) {
		t.highValue++
	}
	key := t.day.Format("2006-01-02")
	t.activeDays[key] = struct{}{}
	if len(t.activeDays) > 7 {
		// Keep the trailing window bounded; exact pruning by date is not
		// needed for a 0..7 consistency input.
		t.activeDays = map[string]struct{}{key: {}}
	}
	t.trust = t.proc.NextTrust(t.trust, true)
}

// Penalize drifts trust toward the floor after an implausible event.
func (t *Tracker) Penalize(ev domain.RawEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trust = t.proc.NextTrust(t.trust, false)
}

// rollDay resets the same-day counters when ev lands on a new day. The
// repetition counter resets on a type change via noteType as well.
func (t *Tracker) rollDay(ev domain.RawEvent) {
	day := dayOf(ev.EndedAt)
	if day.Equal(t.day) {
		return
	}
	if !t.day.IsZero() && day.After(t.day) {
		if gap := int(day.Sub(t.day).Hours() / 24); gap == 1 {
			t.daysNoRest++
		} else {
			// Skipping a full day means a rest day happened; rest debt clears.
			t.daysNoRest = 0
		}
	}
	t.day = day
	t.repeats = make(map[string]int)
	t.highValue = 0
}

func dayOf(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

// noteType tracks distinct recent types and resets the repetition chain when
// the type changes.
func (t *Tracker) noteType(typ string) {
	if t.lastType != "" && t.lastType != typ {
		// A different type breaks the running repetition chain.
		t.repeats = make(map[string]int)
	}
	t.lastType = typ
	for _, existing := range t.recentTypes {
		if existing == typ {
			return
		}
	}
	t.recentTypes = append(t.recentTypes, typ)
	if len(t.recentTypes) > recentTypeWindow {
		t.recentTypes = t.recentTypes[1:]
	}
}

func (t *Tracker) repeatKey(ev domain.RawEvent) string {
	return fmt.Sprintf("%s|%d", ev.Type, t.proc.Bucket(ev.Duration.Minutes()))
}
