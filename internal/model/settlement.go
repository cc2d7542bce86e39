package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementType distinguishes linked securities/cash exchange from
// free-of-payment movements.
type SettlementType string

const (
	SettlementDVP SettlementType = "DVP" // deliver versus payment
	SettlementRVP SettlementType = "RVP" // receive versus payment
	SettlementFOP SettlementType = "FOP" // free of payment delivery
	SettlementDFP SettlementType = "DFP" // deliver free of payment
	SettlementRFP SettlementType = "RFP" // receive free of payment
)

// HasCashLeg reports whether the type settles cash alongside securities.
func (t SettlementType) HasCashLeg() bool {
	return t == SettlementDVP || t == SettlementRVP
}

// SettlementCycle is the standard settlement offset from trade date.
type SettlementCycle string

const (
	CycleT0     SettlementCycle = "T+0"
	CycleT1     SettlementCycle = "T+1"
	CycleT2     SettlementCycle = "T+2"
	CycleT3     SettlementCycle = "T+3"
	CycleCustom SettlementCycle = "CUSTOM"
)

// Days returns the business-day offset for the cycle; custom cycles carry
// their date explicitly and return -1.
func (c SettlementCycle) Days() int {
	switch c {
	case CycleT0:
		return 0
	case CycleT1:
		return 1
	case CycleT2:
		return 2
	case CycleT3:
		return 3
	}
	return -1
}

// ClearingHouse enumerates supported clearing venues.
type ClearingHouse string

const (
	ClearingDTCC        ClearingHouse = "DTCC"
	ClearingEuroclear   ClearingHouse = "EUROCLEAR"
	ClearingClearstream ClearingHouse = "CLEARSTREAM"
	ClearingLCH         ClearingHouse = "LCH"
	ClearingJSCC        ClearingHouse = "JSCC"
)

// CustodianBank enumerates supported custodians.
type CustodianBank string

const (
	CustodianBNYMellon     CustodianBank = "BNY_MELLON"
	CustodianStateStreet   CustodianBank = "STATE_STREET"
	CustodianJPMorgan      CustodianBank = "JPMORGAN"
	CustodianCiti          CustodianBank = "CITI"
	CustodianHSBC          CustodianBank = "HSBC"
	CustodianNorthernTrust CustodianBank = "NORTHERN_TRUST"
)

// PartyRef identifies one side of a settlement.
type PartyRef struct {
	PartyID        string `json:"party_id" validate:"required"`
	AccountRef     string `json:"account_ref" validate:"required"`
	CashAccountRef string `json:"cash_account_ref,omitempty"`
}

// FeeBreakdown itemizes fees charged on an instruction.
type FeeBreakdown struct {
	Commission  decimal.Decimal `json:"commission" gorm:"type:decimal(28,8)"`
	ClearingFee decimal.Decimal `json:"clearing_fee" gorm:"type:decimal(28,8)"`
	CustodyFee  decimal.Decimal `json:"custody_fee" gorm:"type:decimal(28,8)"`
	StampDuty   decimal.Decimal `json:"stamp_duty" gorm:"type:decimal(28,8)"`
}

// Total sums all fee components.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.Commission.Add(f.ClearingFee).Add(f.CustodyFee).Add(f.StampDuty)
}

// SettlementInstruction drives a matched trade to settlement. Instructions
// are mutated only through the lifecycle manager's defined transitions and
// are retained indefinitely.
type SettlementInstruction struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required"`
	TradeID         uuid.UUID       `json:"trade_id" gorm:"type:uuid;index" validate:"required"`
	Type            SettlementType  `json:"type" validate:"required,oneof=DVP RVP FOP DFP RFP"`
	Cycle           SettlementCycle `json:"cycle" validate:"required,oneof=T+0 T+1 T+2 T+3 CUSTOM"`
	TradeDate       time.Time       `json:"trade_date" validate:"required"`
	SettlementDate  time.Time       `json:"settlement_date" validate:"required"`
	SecurityID      string          `json:"security_id" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity" gorm:"type:decimal(28,8)"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(28,8)"`
	GrossAmount     decimal.Decimal `json:"gross_amount" gorm:"type:decimal(28,8)"`
	NetAmount       decimal.Decimal `json:"net_amount" gorm:"type:decimal(28,8)"`
	Fees            FeeBreakdown    `json:"fees" gorm:"embedded;embeddedPrefix:fee_"`
	Currency        string          `json:"currency" validate:"required,len=3"`
	DeliveringParty PartyRef        `json:"delivering_party" gorm:"embedded;embeddedPrefix:deliver_"`
	ReceivingParty  PartyRef        `json:"receiving_party" gorm:"embedded;embeddedPrefix:receive_"`
	CounterpartyID  string          `json:"counterparty_id" gorm:"index"`
	ClearingHouse   *ClearingHouse  `json:"clearing_house,omitempty"`
	Custodian       *CustodianBank  `json:"custodian,omitempty"`
	Status          Status          `json:"status" gorm:"type:text"`
	Metadata        Metadata        `json:"metadata,omitempty" gorm:"serializer:json"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Metadata is a typed key-value bag for instruction enrichment. Recognized
// keys are validated at the boundary; unrecognized keys are rejected.
type Metadata map[string]string

// Recognized metadata keys.
const (
	MetaPlaceOfSettlement = "place_of_settlement"
	MetaSafekeepingAcct   = "safekeeping_account"
	MetaRegistrationRef   = "registration_ref"
	MetaTaxRef            = "tax_ref"
	MetaOriginalRef       = "original_ref"
)

// NettingGroup is the derived aggregate of instructions sharing a
// counterparty, settlement date, and currency. It is recomputed on demand
// and is not a persisted source of truth.
type NettingGroup struct {
	CounterpartyID            string          `json:"counterparty_id"`
	SettlementDate            time.Time       `json:"settlement_date"`
	Currency                  string          `json:"currency"`
	InstructionIDs            []uuid.UUID     `json:"instruction_ids"`
	GrossSecuritiesReceivable decimal.Decimal `json:"gross_securities_receivable"`
	GrossSecuritiesPayable    decimal.Decimal `json:"gross_securities_payable"`
	GrossCashReceivable       decimal.Decimal `json:"gross_cash_receivable"`
	GrossCashPayable          decimal.Decimal `json:"gross_cash_payable"`
	NetSecuritiesPosition     decimal.Decimal `json:"net_securities_position"`
	NetCashPosition           decimal.Decimal `json:"net_cash_position"`
	NettingEfficiency         decimal.Decimal `json:"netting_efficiency"`
}

// SettlementAudit records one status transition for audit.
type SettlementAudit struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	InstructionID uuid.UUID `json:"instruction_id" gorm:"type:uuid;index"`
	FromState     StateKind `json:"from_state"`
	ToState       StateKind `json:"to_state"`
	Actor         string    `json:"actor"`
	Detail        string    `json:"detail,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}
