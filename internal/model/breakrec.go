package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BreakScope identifies which reconciliation surface produced a break.
type BreakScope string

const (
	ScopeTrade      BreakScope = "TRADE"
	ScopePosition   BreakScope = "POSITION"
	ScopeCash       BreakScope = "CASH"
	ScopeSettlement BreakScope = "SETTLEMENT"
	ScopeNostro     BreakScope = "NOSTRO"
)

// BreakType categorizes the underlying discrepancy.
type BreakType string

const (
	BreakPriceDiscrepancy       BreakType = "PRICE_DISCREPANCY"
	BreakQuantityDiscrepancy    BreakType = "QUANTITY_DISCREPANCY"
	BreakSettlementDateMismatch BreakType = "SETTLEMENT_DATE_MISMATCH"
	BreakMissingTrade           BreakType = "MISSING_TRADE"
	BreakDuplicateTrade         BreakType = "DUPLICATE_TRADE"
	BreakCommissionDiscrepancy  BreakType = "COMMISSION_DISCREPANCY"
	BreakBalanceDiscrepancy     BreakType = "BALANCE_DISCREPANCY"
	BreakMissingPosition        BreakType = "MISSING_POSITION"
	BreakValuationDiscrepancy   BreakType = "VALUATION_DISCREPANCY"
	BreakSystemError            BreakType = "SYSTEM_ERROR"
)

// BreakPriority drives routing and SLA thresholds.
type BreakPriority string

const (
	PriorityCritical BreakPriority = "CRITICAL"
	PriorityHigh     BreakPriority = "HIGH"
	PriorityMedium   BreakPriority = "MEDIUM"
	PriorityLow      BreakPriority = "LOW"
)

// BreakStatus values. CLOSED is the only terminal status; RESOLVED is
// terminal for the normal flow but distinguished from CLOSED (cancellation)
// for reporting.
type BreakStatus string

const (
	BreakOpen       BreakStatus = "OPEN"
	BreakInProgress BreakStatus = "IN_PROGRESS"
	BreakResolved   BreakStatus = "RESOLVED"
	BreakEscalated  BreakStatus = "ESCALATED"
	BreakClosed     BreakStatus = "CLOSED"
)

// ResolutionAction is the explicit action taken to resolve a break.
type ResolutionAction string

const (
	ResolutionAdjustInternal     ResolutionAction = "ADJUST_INTERNAL"
	ResolutionAdjustExternal     ResolutionAction = "ADJUST_EXTERNAL"
	ResolutionCancelTrade        ResolutionAction = "CANCEL_TRADE"
	ResolutionAmendTrade         ResolutionAction = "AMEND_TRADE"
	ResolutionRebookTrade        ResolutionAction = "REBOOK_TRADE"
	ResolutionAcceptCounterparty ResolutionAction = "ACCEPT_COUNTERPARTY"
	ResolutionDispute            ResolutionAction = "DISPUTE"
	ResolutionManualOverride     ResolutionAction = "MANUAL_OVERRIDE"
)

// ReconciliationBreak is the central exception entity. Breaks are mutated
// only through the break manager and are never physically deleted;
// cancellation is a status transition to CLOSED.
type ReconciliationBreak struct {
	ID               uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	Scope            BreakScope       `json:"scope" gorm:"index"`
	Type             BreakType        `json:"type" gorm:"index"`
	Priority         BreakPriority    `json:"priority" gorm:"index"`
	Status           BreakStatus      `json:"status" gorm:"index"`
	DetectionMethod  string           `json:"detection_method"`
	TradeID          *uuid.UUID       `json:"trade_id,omitempty" gorm:"type:uuid;index"`
	InstructionID    *uuid.UUID       `json:"instruction_id,omitempty" gorm:"type:uuid;index"`
	AccountID        string           `json:"account_id,omitempty"`
	SecurityID       string           `json:"security_id,omitempty"`
	InternalValue    string           `json:"internal_value"`
	ExternalValue    string           `json:"external_value"`
	Discrepancy      decimal.Decimal  `json:"discrepancy" gorm:"type:decimal(28,8)"`
	EstimatedImpact  decimal.Decimal  `json:"estimated_impact" gorm:"type:decimal(28,8)"`
	Currency         string           `json:"currency,omitempty"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	ResolutionAction ResolutionAction `json:"resolution_action,omitempty"`
	ResolutionNotes  string           `json:"resolution_notes,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
	DetectedAt       time.Time        `json:"detected_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	AgingDays        int              `json:"aging_days"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Terminal reports whether the break can no longer change state.
func (b *ReconciliationBreak) Terminal() bool {
	return b.Status == BreakClosed
}

// Actionable reports whether the break may still be resolved.
func (b *ReconciliationBreak) Actionable() bool {
	switch b.Status {
	case BreakOpen, BreakInProgress, BreakEscalated:
		return true
	}
	return false
}
