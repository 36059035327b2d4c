// Package processor computes the reward value for an activity. Process is a
// pure function of its inputs so a ledger breakdown can be replayed
// bit-for-bit.
package processor

import (
	"math"

	"example.com/fitsync/internal/domain"
)

// Config holds the reward-formula constants. All values are injected from
// configuration; nothing here is hard-coded policy.
type Config struct {
	RatePerMinute        map[string]float64
	DefaultRate          float64
	DifficultyMin        float64
	DifficultyMax        float64
	TrustDefault         float64
	TrustFloor           float64
	TrustStep            float64
	RepetitionPenaltyPct float64
	BucketMinutes        int
	DailyHighValueCap    int
	HighValueMin         float64
	EnergyPerMinuteCeil  float64
}

// Sub-factor bounds for the personal difficulty multiplier. Each sub-factor
// stays inside its documented range; the combined product is additionally
// clamped to the configured band.
const (
	consistencyPerDay = 0.03 // up to +21% for 7/7 active days
	improvementMin    = -0.15
	improvementMax    = 0.25
	improvementWeight = 0.5
	varietyPerType    = 0.05 // up to +20% for 4+ distinct types
	varietyMaxTypes   = 4
	restDebtThreshold = 7
	restDebtFactor    = 0.9
)

// Processor applies the reward formula.
type Processor struct {
	cfg Config
}

// New constructs a Processor with the given constants.
func New(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// Process validates the event and computes its reward transaction. Factors
// are recorded in a fixed order: base_rate, difficulty, trust,
// repetition_penalty, daily_cap. Validation failures produce no transaction.
func (p *Processor) Process(ev domain.RawEvent, stats domain.UserStats) (domain.RewardTransaction, error) {
	if err := p.validate(ev); err != nil {
		return domain.RewardTransaction{}, err
	}

	minutes := ev.Duration.Minutes()
	rate := p.cfg.DefaultRate
	if r, ok := p.cfg.RatePerMinute[ev.Type]; ok {
		rate = r
	}
	base := minutes * rate

	difficulty := p.difficulty(minutes, stats)
	trust := p.trust(stats.TrustScore)

	repetition := math.Pow(1-p.cfg.RepetitionPenaltyPct, float64(stats.SameDayRepeats))

	// Past the daily cap the activity is still recorded, it just earns
	// nothing further.
	capFactor := 1.0
	if p.cfg.DailyHighValueCap > 0 && stats.HighValueToday >= p.cfg.DailyHighValueCap {
		capFactor = 0
	}

	final := base * difficulty * trust * repetition * capFactor

	return domain.RewardTransaction{
		ActivityID: ev.ID,
		BaseValue:  base,
		FinalValue: final,
		Factors: []domain.AdjustmentFactor{
			{Name: domain.FactorBaseRate, Magnitude: rate},
			{Name: domain.FactorDifficulty, Magnitude: difficulty},
			{Name: domain.FactorTrust, Magnitude: trust},
			{Name: domain.FactorRepetitionPenalty, Magnitude: repetition},
			{Name: domain.FactorDailyCap, Magnitude: capFactor},
		},
	}, nil
}

// HighValue reports whether a final value counts toward the daily cap.
func (p *Processor) HighValue(finalValue float64) bool {
	return finalValue >= p.cfg.HighValueMin
}

// Bucket maps a duration to its repetition bucket index.
func (p *Processor) Bucket(minutes float64) int {
	if p.cfg.BucketMinutes <= 0 {
		return 0
	}
	return int(minutes) / p.cfg.BucketMinutes
}

// NextTrust drifts the trust score one step toward 1.0 when the event looked
// plausible, or toward the floor when it did not. The floor guarantees a
// non-punitive minimum; trust never reaches zero.
func (p *Processor) NextTrust(current float64, plausible bool) float64 {
	if current == 0 {
		current = p.cfg.TrustDefault
	}
	if plausible {
		current += p.cfg.TrustStep
	} else {
		current -= p.cfg.TrustStep
	}
	return clamp(current, p.cfg.TrustFloor, 1.0)
}

func (p *Processor) validate(ev domain.RawEvent) error {
	if ev.EndedAt.Before(ev.StartedAt) {
		return &domain.ValidationError{ActivityID: ev.ID, Reason: "end timestamp before start"}
	}
	if ev.Duration < 0 {
		return &domain.ValidationError{ActivityID: ev.ID, Reason: "negative duration"}
	}
	if ev.EnergyKcal < 0 || ev.DistanceM < 0 {
		return &domain.ValidationError{ActivityID: ev.ID, Reason: "negative energy or distance"}
	}
	if minutes := ev.Duration.Minutes(); minutes > 0 && p.cfg.EnergyPerMinuteCeil > 0 {
		if ev.EnergyKcal/minutes > p.cfg.EnergyPerMinuteCeil {
			return &domain.ValidationError{ActivityID: ev.ID, Reason: "implausible energy for duration"}
		}
	}
	return nil
}

func (p *Processor) difficulty(minutes float64, stats domain.UserStats) float64 {
	days := stats.WeeklyActiveDays
	if days > 7 {
		days = 7
	}
	if days < 0 {
		days = 0
	}
	consistency := 1 + consistencyPerDay*float64(days)

	improvement := 1.0
	if stats.BaselineMinutes > 0 {
		delta := improvementWeight * (minutes - stats.BaselineMinutes) / stats.BaselineMinutes
		improvement = 1 + clamp(delta, improvementMin, improvementMax)
	}

	types := len(stats.RecentTypes)
	if types > varietyMaxTypes {
		types = varietyMaxTypes
	}
	variety := 1 + varietyPerType*float64(types)

	rest := 1.0
	if stats.DaysSinceRest >= restDebtThreshold {
		rest = restDebtFactor
	}

	return clamp(consistency*improvement*variety*rest, p.cfg.DifficultyMin, p.cfg.DifficultyMax)
}

func (p *Processor) trust(score float64) float64 {
	if score == 0 {
		score = p.cfg.TrustDefault
	}
	return clamp(score, p.cfg.TrustFloor, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
