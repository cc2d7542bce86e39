package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StateKind names a settlement status variant.
type StateKind string

const (
	StatePending          StateKind = "pending"
	StateInstructed       StateKind = "instructed"
	StateMatched          StateKind = "matched"
	StateAffirmed         StateKind = "affirmed"
	StateAllocated        StateKind = "allocated"
	StatePartiallySettled StateKind = "partially_settled"
	StateAmended          StateKind = "amended"
	StateRecycled         StateKind = "recycled"
	StateSettled          StateKind = "settled"
	StateFailed           StateKind = "failed"
	StateCancelled        StateKind = "cancelled"
)

// SettlementState is the tagged status of a settlement instruction. Each
// variant carries its own state-specific payload so that illegal field
// combinations are unrepresentable.
type SettlementState interface {
	Kind() StateKind
	Terminal() bool
}

// Pending is the initial state of a new instruction.
type Pending struct {
	Reason string `json:"reason,omitempty"`
}

// Instructed means the instruction was sent to the settlement venue.
type Instructed struct {
	InstructionRef string    `json:"instruction_ref"`
	InstructedAt   time.Time `json:"instructed_at"`
}

// Matched means the venue paired our instruction with the counterparty's.
type Matched struct {
	MatchRef     string    `json:"match_ref"`
	Counterparty string    `json:"counterparty"`
	MatchedAt    time.Time `json:"matched_at"`
}

// Affirmed means the counterparty affirmed the trade details.
type Affirmed struct {
	AffirmationRef string    `json:"affirmation_ref"`
	AffirmedAt     time.Time `json:"affirmed_at"`
}

// Allocated carries block-to-account allocation details.
type Allocated struct {
	Details string `json:"details"`
}

// PartiallySettled is a non-terminal side state for split settlement.
type PartiallySettled struct {
	SettledQty decimal.Decimal `json:"settled_qty"`
	PendingQty decimal.Decimal `json:"pending_qty"`
}

// Amended is a non-terminal side state entered when an instruction is
// amended; it links the new version to the original reference.
type Amended struct {
	AmendmentRef string `json:"amendment_ref"`
	OriginalRef  string `json:"original_ref"`
}

// Recycled is a non-terminal side state for failed deliveries queued for
// retry.
type Recycled struct {
	Attempt       int       `json:"attempt"`
	NextRetryDate time.Time `json:"next_retry_date"`
}

// Settled is terminal.
type Settled struct {
	SettlementRef string          `json:"settlement_ref"`
	SettledOn     time.Time       `json:"settled_on"`
	ActualCash    decimal.Decimal `json:"actual_cash"`
}

// Failed is terminal.
type Failed struct {
	Reason   string    `json:"reason"`
	Code     string    `json:"code"`
	FailedAt time.Time `json:"failed_at"`
}

// Cancelled is terminal.
type Cancelled struct {
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (Pending) Kind() StateKind          { return StatePending }
func (Instructed) Kind() StateKind       { return StateInstructed }
func (Matched) Kind() StateKind          { return StateMatched }
func (Affirmed) Kind() StateKind         { return StateAffirmed }
func (Allocated) Kind() StateKind        { return StateAllocated }
func (PartiallySettled) Kind() StateKind { return StatePartiallySettled }
func (Amended) Kind() StateKind          { return StateAmended }
func (Recycled) Kind() StateKind         { return StateRecycled }
func (Settled) Kind() StateKind          { return StateSettled }
func (Failed) Kind() StateKind           { return StateFailed }
func (Cancelled) Kind() StateKind        { return StateCancelled }

func (Pending) Terminal() bool          { return false }
func (Instructed) Terminal() bool       { return false }
func (Matched) Terminal() bool          { return false }
func (Affirmed) Terminal() bool         { return false }
func (Allocated) Terminal() bool        { return false }
func (PartiallySettled) Terminal() bool { return false }
func (Amended) Terminal() bool          { return false }
func (Recycled) Terminal() bool         { return false }
func (Settled) Terminal() bool          { return true }
func (Failed) Terminal() bool           { return true }
func (Cancelled) Terminal() bool        { return true }

// Status is the serializable envelope around a SettlementState. It encodes
// as a single JSON object with a "state" tag alongside the variant payload
// and stores as JSON text in the database.
type Status struct {
	State SettlementState
}

// NewStatus wraps a state variant.
func NewStatus(s SettlementState) Status { return Status{State: s} }

// Kind returns the variant tag, or empty for an unset status.
func (s Status) Kind() StateKind {
	if s.State == nil {
		return ""
	}
	return s.State.Kind()
}

// Terminal reports whether the instruction can no longer transition.
func (s Status) Terminal() bool {
	return s.State != nil && s.State.Terminal()
}

// MarshalJSON encodes the variant payload with an injected "state" tag.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.State == nil {
		return []byte("null"), nil
	}
	payload, err := json.Marshal(s.State)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(s.State.Kind())
	fields["state"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the tagged envelope back into its variant.
func (s *Status) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.State = nil
		return nil
	}
	var probe struct {
		State StateKind `json:"state"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	var err error
	switch probe.State {
	case StatePending:
		var v Pending
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateInstructed:
		var v Instructed
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateMatched:
		var v Matched
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateAffirmed:
		var v Affirmed
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateAllocated:
		var v Allocated
		err = json.Unmarshal(data, &v)
		s.State = v
	case StatePartiallySettled:
		var v PartiallySettled
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateAmended:
		var v Amended
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateRecycled:
		var v Recycled
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateSettled:
		var v Settled
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateFailed:
		var v Failed
		err = json.Unmarshal(data, &v)
		s.State = v
	case StateCancelled:
		var v Cancelled
		err = json.Unmarshal(data, &v)
		s.State = v
	default:
		return fmt.Errorf("unknown settlement state %q", probe.State)
	}
	return err
}

// Value implements driver.Valuer for database storage.
func (s Status) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		s.State = nil
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	}
	return fmt.Errorf("cannot scan settlement status from %T", src)
}
