package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/tolerance"
)

// CashReconciler diffs internal cash balances against external statements,
// including nostro account statements from holding institutions.
type CashReconciler struct {
	raiser BreakRaiser
	tol    *tolerance.Resolver
	logger *zap.Logger
}

// NewCashReconciler constructs a cash reconciler.
func NewCashReconciler(raiser BreakRaiser, tol *tolerance.Resolver, logger *zap.Logger) *CashReconciler {
	return &CashReconciler{raiser: raiser, tol: tol, logger: logger}
}

// Reconcile compares an internal cash balance with an external one for the
// same account and currency. A balance difference beyond tolerance raises a
// CASH break; a movement-total inconsistency within either side raises its
// own break since it points at an incomplete statement.
func (r *CashReconciler) Reconcile(ctx context.Context, internal, external *model.CashBalance) ([]*model.ReconciliationBreak, error) {
	if internal.AccountID != external.AccountID || internal.Currency != external.Currency {
		return nil, fmt.Errorf("cash balance key mismatch: %s/%s vs %s/%s",
			internal.AccountID, internal.Currency, external.AccountID, external.Currency)
	}

	tolSet := r.tol.Resolve(model.ScopeCash)
	var out []*model.ReconciliationBreak

	if !balanceWithin(internal.Balance, external.Balance, tolSet) {
		brk, err := r.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopeCash,
			Type:            model.BreakBalanceDiscrepancy,
			DetectionMethod: "cash_reconciler",
			AccountID:       internal.AccountID,
			InternalValue:   internal.Balance.String(),
			ExternalValue:   external.Balance.String(),
			Discrepancy:     internal.Balance.Sub(external.Balance).Abs(),
			EstimatedImpact: internal.Balance.Sub(external.Balance).Abs(),
			Currency:        internal.Currency,
		})
		if err != nil {
			return out, fmt.Errorf("raise balance break: %w", err)
		}
		out = append(out, brk)
	}

	// Movement totals that disagree with the statement balance indicate
	// missing or duplicated movements on that side.
	internalNet := netMovements(internal.Movements)
	externalNet := netMovements(external.Movements)
	if !internalNet.Equal(externalNet) && !balanceWithin(internalNet, externalNet, tolSet) {
		brk, err := r.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopeCash,
			Type:            model.BreakBalanceDiscrepancy,
			DetectionMethod: "cash_movement_totals",
			AccountID:       internal.AccountID,
			InternalValue:   internalNet.String(),
			ExternalValue:   externalNet.String(),
			Discrepancy:     internalNet.Sub(externalNet).Abs(),
			EstimatedImpact: internalNet.Sub(externalNet).Abs(),
			Currency:        internal.Currency,
		})
		if err != nil {
			return out, fmt.Errorf("raise movement break: %w", err)
		}
		out = append(out, brk)
	}
	return out, nil
}

// ReconcileNostro compares our ledger view of a nostro account against the
// holding institution's statement.
func (r *CashReconciler) ReconcileNostro(ctx context.Context, ledger *model.CashBalance, statement *model.NostroStatement) ([]*model.ReconciliationBreak, error) {
	if ledger.AccountID != statement.AccountID {
		return nil, fmt.Errorf("nostro account mismatch: %s vs %s", ledger.AccountID, statement.AccountID)
	}

	tolSet := r.tol.Resolve(model.ScopeNostro)
	var out []*model.ReconciliationBreak
	if !balanceWithin(ledger.Balance, statement.ClosingBalance, tolSet) {
		brk, err := r.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopeNostro,
			Type:            model.BreakBalanceDiscrepancy,
			DetectionMethod: "nostro_reconciler",
			AccountID:       ledger.AccountID,
			InternalValue:   ledger.Balance.String(),
			ExternalValue:   statement.ClosingBalance.String(),
			Discrepancy:     ledger.Balance.Sub(statement.ClosingBalance).Abs(),
			EstimatedImpact: ledger.Balance.Sub(statement.ClosingBalance).Abs(),
			Currency:        statement.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("raise nostro break: %w", err)
		}
		out = append(out, brk)
		r.logger.Warn("nostro balance discrepancy",
			zap.String("account_id", ledger.AccountID),
			zap.String("institution", statement.Institution),
			zap.String("internal", ledger.Balance.String()),
			zap.String("external", statement.ClosingBalance.String()))
	}
	return out, nil
}

func balanceWithin(internal, external decimal.Decimal, tolSet tolerance.Set) bool {
	if t, ok := tolSet["balance"]; ok {
		return t.Within(internal, external)
	}
	return internal.Equal(external)
}

// netMovements sums credits minus debits.
func netMovements(moves []model.CashMovement) decimal.Decimal {
	net := decimal.Zero
	for _, mv := range moves {
		if mv.Direction == "DEBIT" {
			net = net.Sub(mv.Amount)
		} else {
			net = net.Add(mv.Amount)
		}
	}
	return net
}
