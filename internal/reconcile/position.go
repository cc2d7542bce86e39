// Package reconcile diffs snapshot pairs (internal versus external) for
// positions, cash balances, and nostro accounts, and surfaces multi-party
// consensus on disputed field values. Discrepancies become breaks through
// the break manager; this package never resolves them itself.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/tolerance"
)

// BreakRaiser receives discrepancies found while diffing snapshots. The
// break manager implements it.
type BreakRaiser interface {
	Raise(ctx context.Context, in breaks.Input) (*model.ReconciliationBreak, error)
}

// PositionReconciler diffs two position snapshots for the same account.
type PositionReconciler struct {
	raiser BreakRaiser
	tol    *tolerance.Resolver
	logger *zap.Logger
}

// NewPositionReconciler constructs a position reconciler.
func NewPositionReconciler(raiser BreakRaiser, tol *tolerance.Resolver, logger *zap.Logger) *PositionReconciler {
	return &PositionReconciler{raiser: raiser, tol: tol, logger: logger}
}

// Reconcile diffs the internal snapshot against the external one and raises
// a break per discrepant security. Securities are visited in sorted order
// so repeated runs produce breaks in the same sequence. Returns the raised
// breaks; per-security failures are isolated.
func (r *PositionReconciler) Reconcile(ctx context.Context, internal, external *model.PositionSnapshot) ([]*model.ReconciliationBreak, error) {
	if internal.AccountID != external.AccountID {
		return nil, fmt.Errorf("snapshot account mismatch: %s vs %s", internal.AccountID, external.AccountID)
	}

	tolSet := r.tol.Resolve(model.ScopePosition)
	internalBySec := indexRecords(internal.Records)
	externalBySec := indexRecords(external.Records)

	var out []*model.ReconciliationBreak
	for _, sec := range sortedKeys(internalBySec, externalBySec) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		in, hasInternal := internalBySec[sec]
		ex, hasExternal := externalBySec[sec]

		var brk *model.ReconciliationBreak
		var err error
		switch {
		case !hasExternal:
			brk, err = r.raiser.Raise(ctx, breaks.Input{
				Scope:           model.ScopePosition,
				Type:            model.BreakMissingPosition,
				DetectionMethod: "position_reconciler",
				AccountID:       internal.AccountID,
				SecurityID:      sec,
				InternalValue:   in.Quantity.String(),
				ExternalValue:   "0",
				Discrepancy:     in.Quantity,
				EstimatedImpact: in.MarketValue.Abs(),
				Currency:        in.Currency,
			})
		case !hasInternal:
			brk, err = r.raiser.Raise(ctx, breaks.Input{
				Scope:           model.ScopePosition,
				Type:            model.BreakMissingPosition,
				DetectionMethod: "position_reconciler",
				AccountID:       internal.AccountID,
				SecurityID:      sec,
				InternalValue:   "0",
				ExternalValue:   ex.Quantity.String(),
				Discrepancy:     ex.Quantity,
				EstimatedImpact: ex.MarketValue.Abs(),
				Currency:        ex.Currency,
			})
		default:
			brk, err = r.diffRecord(ctx, internal.AccountID, in, ex, tolSet)
		}
		if err != nil {
			r.logger.Error("position diff failed",
				zap.String("account_id", internal.AccountID),
				zap.String("security_id", sec), zap.Error(err))
			continue
		}
		if brk != nil {
			out = append(out, brk)
		}
	}
	return out, nil
}

// diffRecord compares quantity first, then market value. A quantity break
// supersedes a valuation break for the same security.
func (r *PositionReconciler) diffRecord(ctx context.Context, accountID string, in, ex model.PositionRecord, tolSet tolerance.Set) (*model.ReconciliationBreak, error) {
	if !quantityWithin(in.Quantity, ex.Quantity, tolSet) {
		return r.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopePosition,
			Type:            model.BreakQuantityDiscrepancy,
			DetectionMethod: "position_reconciler",
			AccountID:       accountID,
			SecurityID:      in.SecurityID,
			InternalValue:   in.Quantity.String(),
			ExternalValue:   ex.Quantity.String(),
			Discrepancy:     in.Quantity.Sub(ex.Quantity).Abs(),
			EstimatedImpact: in.MarketValue.Sub(ex.MarketValue).Abs(),
			Currency:        in.Currency,
		})
	}
	if t, ok := tolSet["market_value"]; ok && !t.Within(in.MarketValue, ex.MarketValue) {
		return r.raiser.Raise(ctx, breaks.Input{
			Scope:           model.ScopePosition,
			Type:            model.BreakValuationDiscrepancy,
			DetectionMethod: "position_reconciler",
			AccountID:       accountID,
			SecurityID:      in.SecurityID,
			InternalValue:   in.MarketValue.String(),
			ExternalValue:   ex.MarketValue.String(),
			Discrepancy:     in.MarketValue.Sub(ex.MarketValue).Abs(),
			EstimatedImpact: in.MarketValue.Sub(ex.MarketValue).Abs(),
			Currency:        in.Currency,
		})
	}
	return nil, nil
}

func quantityWithin(internal, external decimal.Decimal, tolSet tolerance.Set) bool {
	if t, ok := tolSet[model.FieldQuantity]; ok {
		return t.Within(internal, external)
	}
	return internal.Equal(external)
}

func indexRecords(records []model.PositionRecord) map[string]model.PositionRecord {
	idx := make(map[string]model.PositionRecord, len(records))
	for _, rec := range records {
		idx[rec.SecurityID] = rec
	}
	return idx
}

func sortedKeys(a, b map[string]model.PositionRecord) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var keys []string
	for k := range a {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
