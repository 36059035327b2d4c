// Package config centralises runtime configuration for the sync daemon.
package config

import "time"

// Config captures all tunables. Reward-formula constants are configuration
// rather than code so they can be adjusted without a release.
type Config struct {
	// HTTPAddress is the listen address for the status/trigger/metrics API.
	HTTPAddress string `koanf:"http_address"`

	// DatabasePath locates the SQLite file holding queue entries, the
	// reward ledger, cursors and subscription tokens.
	DatabasePath string `koanf:"database_path"`

	// BackendURL is the cloud backend base URL; BackendToken its bearer
	// credential.
	BackendURL   string `koanf:"backend_url"`
	BackendToken string `koanf:"backend_token"`

	// HealthStoreURL is the local health-data bridge the adapter queries
	// incrementally.
	HealthStoreURL string `koanf:"health_store_url"`

	// SyncInterval drives the periodic sync pass; manual and companion
	// triggers run the same pass on demand.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// QueueBatchSize bounds how many due entries one drain iteration claims.
	QueueBatchSize int `koanf:"queue_batch_size"`

	// BackoffBase and BackoffCap shape the transient-failure retry delays.
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffCap  time.Duration `koanf:"backoff_cap"`

	// CoalescingWindow merges change notifications for the same record type
	// arriving within it into a single fetch.
	CoalescingWindow time.Duration `koanf:"coalescing_window"`

	// FallbackPollInterval is the safety-net poll against missed pushes.
	FallbackPollInterval time.Duration `koanf:"fallback_poll_interval"`

	// RecordTypes lists the backend record types to subscribe to.
	RecordTypes []string `koanf:"record_types"`

	Reward Reward `koanf:"reward"`
}

// Reward holds the reward-formula constants. Defaults are deliberate
// starting points, not authoritative numbers.
type Reward struct {
	// RatePerMinute maps activity type to base points per minute;
	// DefaultRate applies to unknown types.
	RatePerMinute map[string]float64 `koanf:"rate_per_minute"`
	DefaultRate   float64            `koanf:"default_rate"`

	// DifficultyMin/Max clamp the combined personal difficulty multiplier.
	DifficultyMin float64 `koanf:"difficulty_min"`
	DifficultyMax float64 `koanf:"difficulty_max"`

	// TrustDefault seeds the hidden trust multiplier; TrustFloor is the
	// non-punitive minimum it can drift to; TrustStep is how far one
	// plausible or implausible event moves it.
	TrustDefault float64 `koanf:"trust_default"`
	TrustFloor   float64 `koanf:"trust_floor"`
	TrustStep    float64 `koanf:"trust_step"`

	// RepetitionPenaltyPct is the per-repeat reduction for the same
	// type+duration bucket within a day, e.g. 0.15 for 15%.
	RepetitionPenaltyPct float64 `koanf:"repetition_penalty_pct"`

	// BucketMinutes is the duration-bucket width used for repetition
	// detection.
	BucketMinutes int `koanf:"bucket_minutes"`

	// DailyHighValueCap is N: beyond N qualifying high-value activities per
	// day, further activities earn zero incremental reward.
	DailyHighValueCap int `koanf:"daily_high_value_cap"`

	// HighValueMin is the final value at or above which an activity counts
	// toward the daily cap.
	HighValueMin float64 `koanf:"high_value_min"`

	// EnergyPerMinuteCeil rejects events reporting more kcal per minute
	// than this as implausible.
	EnergyPerMinuteCeil float64 `koanf:"energy_per_minute_ceil"`
}

// New returns a Config populated with defaults suitable for local runs.
func New() *Config {
	return &Config{
		HTTPAddress:          ":8090",
		DatabasePath:         "fitsync.db",
		BackendURL:           "http://localhost:8081",
		HealthStoreURL:       "http://localhost:8082",
		SyncInterval:         time.Minute,
		QueueBatchSize:       25,
		BackoffBase:          2 * time.Second,
		BackoffCap:           5 * time.Minute,
		CoalescingWindow:     250 * time.Millisecond,
		FallbackPollInterval: 5 * time.Minute,
		RecordTypes:          []string{"activity", "reward", "profile"},
		Reward: Reward{
			RatePerMinute: map[string]float64{
				"running":  2.0,
				"cycling":  1.5,
				"swimming": 2.5,
				"walking":  1.0,
			},
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
		},
	}
}
