package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
)

// ProcessDVP settles a delivery-versus-payment instruction with an explicit
// two-phase check-then-commit: securities availability and cash
// availability are verified for both legs before either leg moves. If any
// check fails, no leg is moved and the instruction is recycled for retry.
// Gateway faults are converted into a failed status plus a SYSTEM_ERROR
// break, never left as unhandled errors mid-commit.
func (lm *LifecycleManager) ProcessDVP(ctx context.Context, id uuid.UUID, actor string) (*model.SettlementInstruction, error) {
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status.Terminal() {
		return nil, fmt.Errorf("%w: instruction %s is %s, cannot settle",
			ErrTerminalState, si.ID, si.Status.Kind())
	}
	if !si.Type.HasCashLeg() {
		return nil, fmt.Errorf("%w: instruction %s is %s, not DVP/RVP", ErrValidation, si.ID, si.Type)
	}
	if !settleReady(si.Status.Kind()) {
		return nil, fmt.Errorf("%w: %s -> %s on instruction %s",
			ErrIllegalTransition, si.Status.Kind(), model.StateSettled, si.ID)
	}

	// Phase one: verify both legs. Nothing has moved yet.
	secOK, err := lm.ledger.SecuritiesAvailable(ctx, si.DeliveringParty.AccountRef, si.SecurityID, si.Quantity)
	if err != nil {
		return lm.failFromGateway(ctx, si, actor, "securities availability check", err)
	}
	cashOK, err := lm.ledger.CashAvailable(ctx, si.ReceivingParty.CashAccountRef, si.Currency, si.NetAmount)
	if err != nil {
		return lm.failFromGateway(ctx, si, actor, "cash availability check", err)
	}
	if !secOK || !cashOK {
		lm.logger.Warn("dvp availability check failed, recycling",
			zap.String("instruction_id", si.ID.String()),
			zap.Bool("securities_ok", secOK),
			zap.Bool("cash_ok", cashOK))
		attempt := 1
		if r, ok := si.Status.State.(model.Recycled); ok {
			attempt = r.Attempt + 1
		}
		return lm.transitionLocked(ctx, id, model.Recycled{
			Attempt:       attempt,
			NextRetryDate: lm.now().UTC().AddDate(0, 0, 1),
		}, actor, fmt.Sprintf("insufficient funds: securities=%v cash=%v", secOK, cashOK))
	}

	// Phase two: commit both legs. The cash leg compensates a failed
	// securities move so a half-settled exchange is never left behind.
	if err := lm.ledger.MoveCash(ctx, si.ReceivingParty.CashAccountRef, si.DeliveringParty.CashAccountRef, si.Currency, si.NetAmount); err != nil {
		return lm.failFromGateway(ctx, si, actor, "cash leg commit", err)
	}
	if err := lm.ledger.MoveSecurities(ctx, si.DeliveringParty.AccountRef, si.ReceivingParty.AccountRef, si.SecurityID, si.Quantity); err != nil {
		if undo := lm.ledger.MoveCash(ctx, si.DeliveringParty.CashAccountRef, si.ReceivingParty.CashAccountRef, si.Currency, si.NetAmount); undo != nil {
			lm.logger.Error("cash leg compensation failed",
				zap.String("instruction_id", si.ID.String()), zap.Error(undo))
		}
		return lm.failFromGateway(ctx, si, actor, "securities leg commit", err)
	}

	return lm.transitionLocked(ctx, id, model.Settled{
		SettlementRef: "STL-" + si.ID.String(),
		SettledOn:     lm.now().UTC(),
		ActualCash:    si.NetAmount,
	}, actor, "dvp settled")
}

// ProcessFOP settles a free-of-payment instruction: a securities movement
// with no linked cash leg.
func (lm *LifecycleManager) ProcessFOP(ctx context.Context, id uuid.UUID, actor string) (*model.SettlementInstruction, error) {
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if si.Status.Terminal() {
		return nil, fmt.Errorf("%w: instruction %s is %s, cannot settle",
			ErrTerminalState, si.ID, si.Status.Kind())
	}
	if si.Type.HasCashLeg() {
		return nil, fmt.Errorf("%w: instruction %s is %s, use ProcessDVP", ErrValidation, si.ID, si.Type)
	}
	if !settleReady(si.Status.Kind()) {
		return nil, fmt.Errorf("%w: %s -> %s on instruction %s",
			ErrIllegalTransition, si.Status.Kind(), model.StateSettled, si.ID)
	}

	ok, err := lm.ledger.SecuritiesAvailable(ctx, si.DeliveringParty.AccountRef, si.SecurityID, si.Quantity)
	if err != nil {
		return lm.failFromGateway(ctx, si, actor, "securities availability check", err)
	}
	if !ok {
		attempt := 1
		if r, isRecycled := si.Status.State.(model.Recycled); isRecycled {
			attempt = r.Attempt + 1
		}
		return lm.transitionLocked(ctx, id, model.Recycled{
			Attempt:       attempt,
			NextRetryDate: lm.now().UTC().AddDate(0, 0, 1),
		}, actor, "insufficient securities")
	}
	if err := lm.ledger.MoveSecurities(ctx, si.DeliveringParty.AccountRef, si.ReceivingParty.AccountRef, si.SecurityID, si.Quantity); err != nil {
		return lm.failFromGateway(ctx, si, actor, "securities leg commit", err)
	}

	return lm.transitionLocked(ctx, id, model.Settled{
		SettlementRef: "STL-" + si.ID.String(),
		SettledOn:     lm.now().UTC(),
		ActualCash:    decimal.Zero,
	}, actor, "fop settled")
}

// SettlePartial records a split settlement: part of the quantity settled,
// the remainder pending.
func (lm *LifecycleManager) SettlePartial(ctx context.Context, id uuid.UUID, settledQty decimal.Decimal, actor string) (*model.SettlementInstruction, error) {
	lock := lm.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	si, err := lm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if settledQty.LessThanOrEqual(decimal.Zero) || settledQty.GreaterThanOrEqual(si.Quantity) {
		return nil, fmt.Errorf("%w: partial quantity must be in (0, %s)", ErrValidation, si.Quantity)
	}
	return lm.transitionLocked(ctx, id, model.PartiallySettled{
		SettledQty: settledQty,
		PendingQty: si.Quantity.Sub(settledQty),
	}, actor, "partial settlement")
}

// failFromGateway converts an external-dependency failure into a failed
// status and a SYSTEM_ERROR break. The caller's lock is already held.
func (lm *LifecycleManager) failFromGateway(ctx context.Context, si *model.SettlementInstruction, actor, phase string, cause error) (*model.SettlementInstruction, error) {
	lm.logger.Error("settlement gateway failure",
		zap.String("instruction_id", si.ID.String()),
		zap.String("phase", phase), zap.Error(cause))

	failed, err := lm.transitionLocked(ctx, si.ID, model.Failed{
		Reason:   fmt.Sprintf("%s: %v", phase, cause),
		Code:     "GATEWAY_ERROR",
		FailedAt: lm.now().UTC(),
	}, actor, phase)
	if err != nil {
		return nil, err
	}
	if lm.raiser != nil {
		if _, berr := lm.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopeSettlement,
			Type:            model.BreakSystemError,
			DetectionMethod: "settlement_lifecycle",
			InstructionID:   &si.ID,
			SecurityID:      si.SecurityID,
			InternalValue:   phase,
			ExternalValue:   cause.Error(),
			EstimatedImpact: si.NetAmount,
			Currency:        si.Currency,
		}); berr != nil {
			lm.logger.Error("failed to raise settlement break",
				zap.String("instruction_id", si.ID.String()), zap.Error(berr))
		}
	}
	return failed, nil
}
