package model

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus classifies the outcome of scoring one trade against the
// confirmation pool.
type MatchStatus string

const (
	MatchPending          MatchStatus = "PENDING"
	MatchMatched          MatchStatus = "MATCHED"
	MatchPartiallyMatched MatchStatus = "PARTIALLY_MATCHED"
	MatchUnmatched        MatchStatus = "UNMATCHED"
)

// DiscrepancySeverity grades a field-level mismatch. Economic fields
// (security, side, quantity, price) mismatch at ERROR; dates and fees at
// WARNING.
type DiscrepancySeverity string

const (
	SeverityError   DiscrepancySeverity = "ERROR"
	SeverityWarning DiscrepancySeverity = "WARNING"
)

// Matched field names used in MatchResult field lists and discrepancies.
const (
	FieldSecurity       = "security"
	FieldSide           = "side"
	FieldQuantity       = "quantity"
	FieldPrice          = "price"
	FieldTradeDate      = "trade_date"
	FieldSettlementDate = "settlement_date"
	FieldFees           = "fees"
)

// FieldDiscrepancy records one field-level difference between an internal
// trade and an external confirmation.
type FieldDiscrepancy struct {
	Field         string              `json:"field"`
	InternalValue string              `json:"internal_value"`
	ExternalValue string              `json:"external_value"`
	Severity      DiscrepancySeverity `json:"severity"`
}

// MatchResult pairs one trade with at most one confirmation. Results are
// immutable once persisted; a later matching pass creates a new result
// linked to the prior one through PriorResultID.
type MatchResult struct {
	ID              uuid.UUID          `json:"id" gorm:"primaryKey;type:uuid"`
	RunID           uuid.UUID          `json:"run_id" gorm:"type:uuid;index"`
	TradeID         uuid.UUID          `json:"trade_id" gorm:"type:uuid;index"`
	ConfirmationID  *uuid.UUID         `json:"confirmation_id,omitempty" gorm:"type:uuid;index"`
	Score           float64            `json:"score"`
	MatchedFields   []string           `json:"matched_fields" gorm:"serializer:json"`
	UnmatchedFields []string           `json:"unmatched_fields" gorm:"serializer:json"`
	Discrepancies   []FieldDiscrepancy `json:"discrepancies" gorm:"serializer:json"`
	Status          MatchStatus        `json:"status"`
	PriorResultID   *uuid.UUID         `json:"prior_result_id,omitempty" gorm:"type:uuid"`
	CreatedAt       time.Time          `json:"created_at"`
}

// RunSummary aggregates the outcome of one matching pass. Individual item
// failures are isolated and counted; they never abort the run.
type RunSummary struct {
	RunID     uuid.UUID `json:"run_id"`
	Trades    int       `json:"trades"`
	Matched   int       `json:"matched"`
	Partial   int       `json:"partial"`
	Unmatched int       `json:"unmatched"`
	Errored   int       `json:"errored"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
