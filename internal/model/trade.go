// Package model defines the entities shared by the reconciliation and
// settlement components: trades, confirmations, match results, breaks,
// snapshots, and settlement instructions.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// ConfirmationSource identifies who sent a confirmation.
type ConfirmationSource string

const (
	SourceInternal      ConfirmationSource = "INTERNAL"
	SourceCounterparty  ConfirmationSource = "COUNTERPARTY"
	SourceCustodian     ConfirmationSource = "CUSTODIAN"
	SourceClearingHouse ConfirmationSource = "CLEARING_HOUSE"
	SourceBroker        ConfirmationSource = "BROKER"
)

// ConfirmationStatus tracks the affirmation lifecycle of a confirmation.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationAffirmed  ConfirmationStatus = "AFFIRMED"
	ConfirmationRejected  ConfirmationStatus = "REJECTED"
	ConfirmationCancelled ConfirmationStatus = "CANCELLED"
)

// Trade is an internally booked trade. Trades are immutable once executed;
// the engine only reads them.
type Trade struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	SecurityID     string          `json:"security_id" gorm:"index" validate:"required"`
	Side           string          `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(28,8)" validate:"required"`
	Price          decimal.Decimal `json:"price" gorm:"type:decimal(28,8)" validate:"required"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	TradeDate      time.Time       `json:"trade_date" validate:"required"`
	SettlementDate time.Time       `json:"settlement_date" validate:"required"`
	CounterpartyID string          `json:"counterparty_id" gorm:"index" validate:"required"`
	AccountID      string          `json:"account_id" validate:"required"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// GrossAmount returns quantity * price.
func (t *Trade) GrossAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Confirmation is an externally received record of a trade. A confirmation is
// never deleted; a corrected confirmation supersedes the prior one.
type Confirmation struct {
	ID                  uuid.UUID          `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	Source              ConfirmationSource `json:"source" validate:"required,oneof=INTERNAL COUNTERPARTY CUSTODIAN CLEARING_HOUSE BROKER"`
	TradeRef            string             `json:"trade_ref" gorm:"index"`
	SecurityID          string             `json:"security_id" validate:"required"`
	Side                string             `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity            decimal.Decimal    `json:"quantity" gorm:"type:decimal(28,8)" validate:"required"`
	Price               decimal.Decimal    `json:"price" gorm:"type:decimal(28,8)" validate:"required"`
	Currency            string             `json:"currency" validate:"required,len=3"`
	TradeDate           time.Time          `json:"trade_date" validate:"required"`
	SettlementDate      time.Time          `json:"settlement_date" validate:"required"`
	CounterpartyID      string             `json:"counterparty_id"`
	Status              ConfirmationStatus `json:"status" validate:"required,oneof=PENDING AFFIRMED REJECTED CANCELLED"`
	ReceivedAt          time.Time          `json:"received_at"`
	AffirmationDeadline *time.Time         `json:"affirmation_deadline,omitempty"`
	SupersedesID        *uuid.UUID         `json:"supersedes_id,omitempty" gorm:"type:uuid"`
}
