// Package domain defines the canonical records shared across the sync pipeline.
package domain

import "time"

// SyncState represents the upload status of an activity.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// Activity origin tags. Companion events are indistinguishable from local
// ones past the adapter; the tag is kept for auditing only.
const (
	SourceLocal     = "local"
	SourceCompanion = "companion"
)

// Activity is the canonical record built from a raw health-store event or a
// companion-device message. Identity is the source-assigned stable ID, unique
// across all sources. Activities are never deleted, only marked failed.
type Activity struct {
	ID           string
	Type         string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	EnergyKcal   float64
	DistanceM    float64
	AvgIntensity float64
	Source       string
	State        SyncState
	RewardValue  float64
}

// RawEvent is an event as delivered by an event source, before processing.
// Zero-duration events are valid.
type RawEvent struct {
	ID           string
	Type         string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	EnergyKcal   float64
	DistanceM    float64
	AvgIntensity float64
	Source       string
}

// Batch is one adapter poll result. NextCursor must only be persisted after
// every event in the batch has been durably handed downstream.
type Batch struct {
	Events     []RawEvent
	DeletedIDs []string
	NextCursor string
	// CompanionCount is how many of the events came from the companion
	// buffer; the adapter drops them on AckCompanion.
	CompanionCount int
}

// UserStats carries the per-user inputs the reward processor needs. All
// fields are precomputed by the caller so the processor stays a pure
// function of (event, stats).
type UserStats struct {
	// WeeklyActiveDays is the count of distinct active days in the trailing
	// seven days, 0..7.
	WeeklyActiveDays int
	// BaselineMinutes is the personal baseline duration for this activity
	// type; zero means no baseline yet.
	BaselineMinutes float64
	// RecentTypes lists distinct activity types performed in the trailing
	// window.
	RecentTypes []string
	// DaysSinceRest counts consecutive days without a rest day.
	DaysSinceRest int
	// TrustScore is the hidden plausibility multiplier state in
	// [floor, 1.0]; zero means uninitialised and the configured default
	// applies.
	TrustScore float64
	// SameDayRepeats counts prior activities today with the same type and
	// duration bucket.
	SameDayRepeats int
	// HighValueToday counts qualifying high-value activities already
	// recorded today.
	HighValueToday int
}

// SubscriptionToken identifies a thin change-notification subscription held
// against the cloud backend.
type SubscriptionToken struct {
	RecordType string
	Zone       string
	ChangeTag  string
	Registered bool
}
