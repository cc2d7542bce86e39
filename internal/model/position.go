package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionRecord is one per-security line of a snapshot.
type PositionRecord struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	SnapshotID  uuid.UUID       `json:"snapshot_id" gorm:"type:uuid;index"`
	SecurityID  string          `json:"security_id"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(28,8)"`
	MarketValue decimal.Decimal `json:"market_value" gorm:"type:decimal(28,8)"`
	Currency    string          `json:"currency"`
}

// PositionSnapshot is a point-in-time set of per-security positions from one
// source for one account. Snapshots are immutable once captured; the
// reconciler diffs an internal snapshot against an external one.
type PositionSnapshot struct {
	ID        uuid.UUID          `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID string             `json:"account_id" gorm:"index"`
	Source    ConfirmationSource `json:"source"`
	AsOf      time.Time          `json:"as_of"`
	Records   []PositionRecord   `json:"records" gorm:"foreignKey:SnapshotID"`
	CreatedAt time.Time          `json:"created_at"`
}

// CashMovement is one constituent movement of a cash balance.
type CashMovement struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BalanceID   uuid.UUID       `json:"balance_id" gorm:"type:uuid;index"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(28,8)"`
	Direction   string          `json:"direction"` // CREDIT or DEBIT
	ValueDate   time.Time       `json:"value_date"`
	Description string          `json:"description,omitempty"`
}

// CashBalance is a per-account, per-currency balance with its movements for
// a period. Same immutability contract as position snapshots.
type CashBalance struct {
	ID        uuid.UUID          `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID string             `json:"account_id" gorm:"index"`
	Currency  string             `json:"currency"`
	Source    ConfirmationSource `json:"source"`
	Balance   decimal.Decimal    `json:"balance" gorm:"type:decimal(28,8)"`
	AsOf      time.Time          `json:"as_of"`
	Movements []CashMovement     `json:"movements" gorm:"foreignKey:BalanceID"`
	CreatedAt time.Time          `json:"created_at"`
}

// NostroStatement is the holding institution's view of a nostro account,
// reconciled against the bank's own ledger balance for that account.
type NostroStatement struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	AccountID      string          `json:"account_id" gorm:"index"`
	Institution    string          `json:"institution"`
	Currency       string          `json:"currency"`
	ClosingBalance decimal.Decimal `json:"closing_balance" gorm:"type:decimal(28,8)"`
	AsOf           time.Time       `json:"as_of"`
	Movements      []CashMovement  `json:"movements" gorm:"foreignKey:BalanceID"`
}
