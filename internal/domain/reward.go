package domain

import "time"

// Names of the adjustment factors in the order the processor applies them.
// The order is part of the ledger contract: a breakdown is reconstructible
// by replaying the factors in sequence.
const (
	FactorBaseRate          = "base_rate"
	FactorDifficulty        = "difficulty"
	FactorTrust             = "trust"
	FactorRepetitionPenalty = "repetition_penalty"
	FactorDailyCap          = "daily_cap"
)

// AdjustmentFactor is one named multiplier in a reward breakdown.
type AdjustmentFactor struct {
	Name      string  `json:"name"`
	Magnitude float64 `json:"magnitude"`
}

// RewardTransaction is the append-only ledger record for one activity.
// Identity is the activity ID: at most one transaction per activity.
// Corrections are new transactions referencing the original via Corrects,
// never in-place edits. TransactionID and CreatedAt are assigned by the
// ledger on append so the processor output stays deterministic.
type RewardTransaction struct {
	TransactionID string             `json:"transaction_id"`
	ActivityID    string             `json:"activity_id"`
	BaseValue     float64            `json:"base_value"`
	FinalValue    float64            `json:"final_value"`
	Factors       []AdjustmentFactor `json:"factors"`
	Corrects      string             `json:"corrects,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
