// Package settlement owns the settlement-instruction state machine,
// DVP/FOP processing, netting, and settlement-risk scoring.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/metrics"
	"github.com/cleargate/reconengine/internal/model"
)

// Sentinel errors. Business-rule violations identify the current state and
// the attempted operation in the wrapped message.
var (
	ErrValidation        = errors.New("validation error")
	ErrTerminalState     = errors.New("instruction is in a terminal state")
	ErrIllegalTransition = errors.New("illegal settlement transition")
	ErrConflict          = errors.New("instruction version conflict")
	ErrInsufficient      = errors.New("insufficient availability")
)

// Store is the persistence collaborator for instructions. Update applies an
// optimistic version check and returns ErrConflict when the stored version
// moved.
type Store interface {
	Create(ctx context.Context, si *model.SettlementInstruction) error
	Get(ctx context.Context, id uuid.UUID) (*model.SettlementInstruction, error)
	Update(ctx context.Context, si *model.SettlementInstruction, fromVersion int64) error
	ListByState(ctx context.Context, state model.StateKind) ([]*model.SettlementInstruction, error)
}

// AuditRecorder records every status transition.
type AuditRecorder interface {
	Record(ctx context.Context, entry model.SettlementAudit) error
}

// BreakRaiser receives settlement failures converted into breaks.
type BreakRaiser interface {
	Raise(ctx context.Context, in breaks.Input) (*model.ReconciliationBreak, error)
}

// LedgerGateway checks and moves securities and cash positions. The
// two-phase DVP flow verifies availability on both legs through this
// gateway before committing either.
type LedgerGateway interface {
	SecuritiesAvailable(ctx context.Context, accountRef, securityID string, qty decimal.Decimal) (bool, error)
	CashAvailable(ctx context.Context, cashAccountRef, currency string, amount decimal.Decimal) (bool, error)
	MoveSecurities(ctx context.Context, fromRef, toRef, securityID string, qty decimal.Decimal) error
	MoveCash(ctx context.Context, fromRef, toRef, currency string, amount decimal.Decimal) error
}

// FeeSchedule parameterizes enrichment-time fee computation.
type FeeSchedule struct {
	CommissionBps decimal.Decimal
	ClearingFee   decimal.Decimal
	CustodyFee    decimal.Decimal
	StampDutyBps  decimal.Decimal
	StampDutyFree bool
}

// DefaultFeeSchedule mirrors the standard institutional schedule.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		CommissionBps: decimal.NewFromInt(5),
		ClearingFee:   decimal.NewFromFloat(1.50),
		CustodyFee:    decimal.NewFromFloat(0.75),
		StampDutyBps:  decimal.NewFromInt(0),
		StampDutyFree: true,
	}
}

// legalTransitions defines the settlement state machine. Side states
// (partially_settled, amended, recycled) are reachable from most active
// states and return to the main path. Terminal states allow nothing.
var legalTransitions = map[model.StateKind][]model.StateKind{
	model.StatePending:          {model.StateInstructed, model.StateCancelled, model.StateFailed},
	model.StateInstructed:       {model.StateMatched, model.StateAmended, model.StateRecycled, model.StateCancelled, model.StateFailed},
	model.StateMatched:          {model.StateAffirmed, model.StateSettled, model.StatePartiallySettled, model.StateAmended, model.StateRecycled, model.StateCancelled, model.StateFailed},
	model.StateAffirmed:         {model.StateAllocated, model.StateSettled, model.StatePartiallySettled, model.StateAmended, model.StateRecycled, model.StateCancelled, model.StateFailed},
	model.StateAllocated:        {model.StateSettled, model.StatePartiallySettled, model.StateAmended, model.StateRecycled, model.StateCancelled, model.StateFailed},
	model.StatePartiallySettled: {model.StateSettled, model.StatePartiallySettled, model.StateRecycled, model.StateCancelled, model.StateFailed},
	model.StateAmended:          {model.StateInstructed, model.StateMatched, model.StateCancelled, model.StateFailed},
	model.StateRecycled:         {model.StateInstructed, model.StateSettled, model.StatePartiallySettled, model.StateRecycled, model.StateCancelled, model.StateFailed},
}

func canTransition(from, to model.StateKind) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// settleReady states may enter DVP/FOP processing.
func settleReady(k model.StateKind) bool {
	switch k {
	case model.StateMatched, model.StateAffirmed, model.StateAllocated,
		model.StatePartiallySettled, model.StateRecycled:
		return true
	}
	return false
}

// LifecycleManager drives settlement instructions through their state
// machine with audited, compare-and-transition status changes.
type LifecycleManager struct {
	store    Store
	audit    AuditRecorder
	ledger   LedgerGateway
	raiser   BreakRaiser
	fees     FeeSchedule
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLifecycleManager constructs a lifecycle manager.
func NewLifecycleManager(store Store, audit AuditRecorder, ledger LedgerGateway, raiser BreakRaiser, logger *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		store:    store,
		audit:    audit,
		ledger:   ledger,
		raiser:   raiser,
		fees:     DefaultFeeSchedule(),
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (lm *LifecycleManager) lockFor(id uuid.UUID) *sync.Mutex {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[id]
	if !ok {
		l = &sync.Mutex{}
		lm.locks[id] = l
	}
	return l
}

// CreateFromTrade builds, enriches, and validates a new instruction in the
// pending state.
func (lm *LifecycleManager) CreateFromTrade(ctx context.Context, trade *model.Trade, typ model.SettlementType, cycle model.SettlementCycle, delivering, receiving model.PartyRef) (*model.SettlementInstruction, error) {
	now := lm.now().UTC()
	si := &model.SettlementInstruction{
		ID:              uuid.New(),
		TradeID:         trade.ID,
		Type:            typ,
		Cycle:           cycle,
		TradeDate:       trade.TradeDate,
		SettlementDate:  trade.SettlementDate,
		SecurityID:      trade.SecurityID,
		Quantity:        trade.Quantity,
		Price:           trade.Price,
		Currency:        trade.Currency,
		DeliveringParty: delivering,
		ReceivingParty:  receiving,
		CounterpartyID:  trade.CounterpartyID,
		Status:          model.NewStatus(model.Pending{}),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	lm.Enrich(si)
	if _, err := lm.Validate(si); err != nil {
		return nil, err
	}
	if err := lm.store.Create(ctx, si); err != nil {
		return nil, fmt.Errorf("create instruction: %w", err)
	}
	return si, nil
}

// Enrich derives the settlement date from the cycle when unset, computes
// gross amount, fees, and the all-in net cash amount.
func (lm *LifecycleManager) Enrich(si *model.SettlementInstruction) {
	if si.SettlementDate.IsZero() && si.Cycle.Days() >= 0 {
		si.SettlementDate = si.TradeDate.AddDate(0, 0, si.Cycle.Days())
	}
	si.GrossAmount = si.Quantity.Mul(si.Price)
	bps := decimal.NewFromInt(10000)
	si.Fees.Commission = si.GrossAmount.Mul(lm.fees.CommissionBps).Div(bps)
	si.Fees.ClearingFee = lm.fees.ClearingFee
	si.Fees.CustodyFee = lm.fees.CustodyFee
	if !lm.fees.StampDutyFree {
		si.Fees.StampDuty = si.GrossAmount.Mul(lm.fees.StampDutyBps).Div(bps)
	}
	si.NetAmount = si.GrossAmount.Add(si.Fees.Total())
}

// Validate rejects malformed instructions before any state mutation.
// Returns advisory warnings (gross-amount inconsistency) alongside hard
// failures.
func (lm *LifecycleManager) Validate(si *model.SettlementInstruction) ([]string, error) {
	if err := lm.validate.Struct(si); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if si.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if si.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if !si.SettlementDate.After(si.TradeDate) {
		return nil, fmt.Errorf("%w: settlement date must be after trade date", ErrValidation)
	}
	if si.DeliveringParty.AccountRef == "" || si.ReceivingParty.AccountRef == "" {
		return nil, fmt.Errorf("%w: delivering and receiving account references are required", ErrValidation)
	}
	if si.Type.HasCashLeg() {
		if si.DeliveringParty.CashAccountRef == "" || si.ReceivingParty.CashAccountRef == "" {
			return nil, fmt.Errorf("%w: %s settlement requires cash accounts on both legs", ErrValidation, si.Type)
		}
	}
	if err := validateMetadata(si.Metadata); err != nil {
		return nil, err
	}

	var warnings []string
	if !si.GrossAmount.IsZero() && !si.GrossAmount.Equal(si.Quantity.Mul(si.Price)) {
		warnings = append(warnings, fmt.Sprintf("gross amount %s inconsistent with quantity*price %s",
			si.GrossAmount, si.Quantity.Mul(si.Price)))
	}
	return warnings, nil
}

// recognizedMeta is the closed set of metadata keys accepted at the
// boundary.
var recognizedMeta = map[string]struct{}{
	model.MetaPlaceOfSettlement: {},
	model.MetaSafekeepingAcct:   {},
	model.MetaRegistrationRef:   {},
	model.MetaTaxRef:            {},
	model.MetaOriginalRef:       {},
}

func validateMetadata(md model.Metadata) error {
	for k := range md {
		if _, ok := recognizedMeta[k]; !ok {
			return fmt.Errorf("%w: unrecognized metadata key %q", ErrValidation, k)
		}
	}
	return nil
}

// Transition applies a compare-and-transition to the next state under the
// instruction's lock. Terminal instructions reject every transition with a
// business-rule error naming the current state and the attempted move.
func (lm *LifecycleManager) Transition(ctx context.Context, id uuid.UUID, next model.SettlementState, actor string) (*model.SettlementInstruction, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return lm.transitionLocked(ctx, id, next, actor, "")
}

// transitionLocked assumes the caller holds the instruction lock.
func (lm *LifecycleManager) transitionLocked(ctx context.Context, id uuid.UUID, next model.SettlementState, actor, detail string) (*model.SettlementInstruction, error) {
	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := si.Status.Kind()
	if si.Status.Terminal() {
		return nil, fmt.Errorf("%w: instruction %s is %s, cannot move to %s",
			ErrTerminalState, si.ID, from, next.Kind())
	}
	if !canTransition(from, next.Kind()) {
		return nil, fmt.Errorf("%w: %s -> %s on instruction %s",
			ErrIllegalTransition, from, next.Kind(), si.ID)
	}

	fromVersion := si.Version
	si.Status = model.NewStatus(next)
	si.Version = fromVersion + 1
	si.UpdatedAt = lm.now().UTC()
	if err := lm.store.Update(ctx, si, fromVersion); err != nil {
		return nil, err
	}

	metrics.SettlementTransitions.WithLabelValues(string(from), string(next.Kind())).Inc()
	if err := lm.audit.Record(ctx, model.SettlementAudit{
		ID:            uuid.New(),
		InstructionID: si.ID,
		FromState:     from,
		ToState:       next.Kind(),
		Actor:         actor,
		Detail:        detail,
		RecordedAt:    lm.now().UTC(),
	}); err != nil {
		// The transition is committed; an audit write failure is logged,
		// not rolled back.
		lm.logger.Error("audit record failed",
			zap.String("instruction_id", si.ID.String()), zap.Error(err))
	}
	return si, nil
}

// AmendRequest carries the amendable economic fields.
type AmendRequest struct {
	Quantity       *decimal.Decimal
	Price          *decimal.Decimal
	SettlementDate *time.Time
	AmendmentRef   string
}

// Amend applies an amendment as a new version and moves the instruction to
// the amended side-state. Settled or cancelled instructions fail fast.
func (lm *LifecycleManager) Amend(ctx context.Context, id uuid.UUID, req AmendRequest, actor string) (*model.SettlementInstruction, error) {
	if actor == "" || req.AmendmentRef == "" {
		return nil, fmt.Errorf("%w: actor and amendment reference are required", ErrValidation)
	}
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot amend instruction %s in state %s",
			ErrTerminalState, si.ID, si.Status.Kind())
	}
	if !canTransition(si.Status.Kind(), model.StateAmended) {
		return nil, fmt.Errorf("%w: %s -> %s on instruction %s",
			ErrIllegalTransition, si.Status.Kind(), model.StateAmended, si.ID)
	}

	originalRef := si.ID.String()
	if req.Quantity != nil {
		si.Quantity = *req.Quantity
	}
	if req.Price != nil {
		si.Price = *req.Price
	}
	if req.SettlementDate != nil {
		si.SettlementDate = *req.SettlementDate
	}
	lm.Enrich(si)
	if _, err := lm.Validate(si); err != nil {
		return nil, err
	}

	from := si.Status.Kind()
	fromVersion := si.Version
	si.Status = model.NewStatus(model.Amended{AmendmentRef: req.AmendmentRef, OriginalRef: originalRef})
	si.Version = fromVersion + 1
	si.UpdatedAt = lm.now().UTC()
	if err := lm.store.Update(ctx, si, fromVersion); err != nil {
		return nil, err
	}
	metrics.SettlementTransitions.WithLabelValues(string(from), string(model.StateAmended)).Inc()
	if err := lm.audit.Record(ctx, model.SettlementAudit{
		ID:            uuid.New(),
		InstructionID: si.ID,
		FromState:     from,
		ToState:       model.StateAmended,
		Actor:         actor,
		Detail:        "amendment " + req.AmendmentRef,
		RecordedAt:    lm.now().UTC(),
	}); err != nil {
		lm.logger.Error("audit record failed",
			zap.String("instruction_id", si.ID.String()), zap.Error(err))
	}
	return si, nil
}

// Cancel transitions the instruction to cancelled. The status is checked
// under the lock so an instruction that settled an instant earlier is not
// blindly overwritten. Cancellation requires an actor and a reason.
func (lm *LifecycleManager) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*model.SettlementInstruction, error) {
	if actor == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required", ErrValidation)
	}
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return lm.transitionLocked(ctx, id, model.Cancelled{
		Actor:       actor,
		Reason:      reason,
		CancelledAt: lm.now().UTC(),
	}, actor, reason)
}

// Recycle queues a failed delivery for retry on the next date.
func (lm *LifecycleManager) Recycle(ctx context.Context, id uuid.UUID, actor string) (*model.SettlementInstruction, error) {
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	attempt := 1
	if r, ok := si.Status.State.(model.Recycled); ok {
		attempt = r.Attempt + 1
	}
	return lm.transitionLocked(ctx, id, model.Recycled{
		Attempt:       attempt,
		NextRetryDate: lm.now().UTC().AddDate(0, 0, 1),
	}, actor, fmt.Sprintf("recycle attempt %d", attempt))
}

// Get returns an instruction by ID.
func (lm *LifecycleManager) Get(ctx context.Context, id uuid.UUID) (*model.SettlementInstruction, error) {
	return lm.store.Get(ctx, id)
}
