package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/tolerance"
)

type captureRaiser struct {
	mu     sync.Mutex
	inputs []breaks.Input
}

func (r *captureRaiser) Raise(ctx context.Context, in breaks.Input) (*model.ReconciliationBreak, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &model.ReconciliationBreak{ID: uuid.New(), Scope: in.Scope, Type: in.Type}, nil
}

func record(sec string, qty, mv int64) model.PositionRecord {
	return model.PositionRecord{
		SecurityID:  sec,
		Quantity:    decimal.NewFromInt(qty),
		MarketValue: decimal.NewFromInt(mv),
		Currency:    "USD",
	}
}

func snapshot(account string, records ...model.PositionRecord) *model.PositionSnapshot {
	return &model.PositionSnapshot{
		AccountID: account,
		AsOf:      time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC),
		Records:   records,
	}
}

func TestPositionReconcileCleanSnapshots(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewPositionReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		snapshot("ACC-1", record("AAPL", 100, 5000)),
		snapshot("ACC-1", record("AAPL", 100, 5000)))

	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, raiser.inputs)
}

func TestPositionReconcileQuantityAndMissing(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewPositionReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		snapshot("ACC-1", record("AAPL", 100, 5000), record("MSFT", 50, 2500)),
		snapshot("ACC-1", record("AAPL", 90, 4500)))

	require.NoError(t, err)
	require.Len(t, out, 2)

	// Sorted security order: AAPL quantity break first, then missing MSFT.
	assert.Equal(t, model.BreakQuantityDiscrepancy, raiser.inputs[0].Type)
	assert.Equal(t, "AAPL", raiser.inputs[0].SecurityID)
	assert.Equal(t, "10", raiser.inputs[0].Discrepancy.String())

	assert.Equal(t, model.BreakMissingPosition, raiser.inputs[1].Type)
	assert.Equal(t, "MSFT", raiser.inputs[1].SecurityID)
	assert.Equal(t, "0", raiser.inputs[1].ExternalValue)
}

func TestPositionReconcileExternalOnlySecurity(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewPositionReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		snapshot("ACC-1"),
		snapshot("ACC-1", record("GOOG", 10, 1500)))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.BreakMissingPosition, raiser.inputs[0].Type)
	assert.Equal(t, "0", raiser.inputs[0].InternalValue)
	assert.Equal(t, "10", raiser.inputs[0].ExternalValue)
}

func TestPositionReconcileValuationWithinQuantityTolerance(t *testing.T) {
	raiser := &captureRaiser{}
	tol := tolerance.NewResolver()
	tol.Register(tolerance.Profile{
		Scope: model.ScopePosition,
		Tolerances: []tolerance.Tolerance{
			{Field: model.FieldQuantity, Kind: tolerance.Absolute, Value: decimal.NewFromInt(5)},
			{Field: "market_value", Kind: tolerance.Percentage, Value: decimal.NewFromInt(1)},
		},
	})
	r := NewPositionReconciler(raiser, tol, zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		snapshot("ACC-1", record("AAPL", 100, 5000)),
		snapshot("ACC-1", record("AAPL", 98, 5200)))

	require.NoError(t, err)
	require.Len(t, out, 1)
	// Quantity within 5 units, so only valuation breaks (4% > 1%).
	assert.Equal(t, model.BreakValuationDiscrepancy, raiser.inputs[0].Type)
}

func TestPositionReconcileAccountMismatch(t *testing.T) {
	r := NewPositionReconciler(&captureRaiser{}, tolerance.NewResolver(), zap.NewNop())
	_, err := r.Reconcile(context.Background(), snapshot("ACC-1"), snapshot("ACC-2"))
	assert.Error(t, err)
}

func balance(account string, amount int64, moves ...model.CashMovement) *model.CashBalance {
	return &model.CashBalance{
		AccountID: account,
		Currency:  "USD",
		Balance:   decimal.NewFromInt(amount),
		Movements: moves,
	}
}

func TestCashReconcileBalanceBreak(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewCashReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		balance("CASH-1", 10000), balance("CASH-1", 9000))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.BreakBalanceDiscrepancy, raiser.inputs[0].Type)
	assert.Equal(t, model.ScopeCash, raiser.inputs[0].Scope)
	assert.Equal(t, "1000", raiser.inputs[0].Discrepancy.String())
}

func TestCashReconcileMovementTotalsBreak(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewCashReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	credit := model.CashMovement{Direction: "CREDIT", Amount: decimal.NewFromInt(500)}
	debit := model.CashMovement{Direction: "DEBIT", Amount: decimal.NewFromInt(200)}

	out, err := r.Reconcile(context.Background(),
		balance("CASH-1", 10000, credit, debit),
		balance("CASH-1", 10000, credit))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cash_movement_totals", raiser.inputs[0].DetectionMethod)
}

func TestCashReconcileWithinTolerance(t *testing.T) {
	raiser := &captureRaiser{}
	tol := tolerance.NewResolver()
	tol.Register(tolerance.Profile{
		Scope: model.ScopeCash,
		Tolerances: []tolerance.Tolerance{
			{Field: "balance", Kind: tolerance.Absolute, Value: decimal.NewFromInt(50)},
		},
	})
	r := NewCashReconciler(raiser, tol, zap.NewNop())

	out, err := r.Reconcile(context.Background(),
		balance("CASH-1", 10000), balance("CASH-1", 10025))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNostroReconcileBreak(t *testing.T) {
	raiser := &captureRaiser{}
	r := NewCashReconciler(raiser, tolerance.NewResolver(), zap.NewNop())

	out, err := r.ReconcileNostro(context.Background(),
		balance("NOSTRO-1", 750000),
		&model.NostroStatement{
			AccountID:      "NOSTRO-1",
			Institution:    "CITI",
			Currency:       "USD",
			ClosingBalance: decimal.NewFromInt(745000),
			AsOf:           time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC),
		})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.ScopeNostro, raiser.inputs[0].Scope)
	assert.Equal(t, model.BreakBalanceDiscrepancy, raiser.inputs[0].Type)
}

func TestConsensusStrictMajority(t *testing.T) {
	c := NewConsensusResolver()

	res := c.Resolve("price", []PartyValue{
		{Party: "us", Value: "50.00"},
		{Party: "cpty", Value: "50.00"},
		{Party: "custodian", Value: "50.25"},
	})

	assert.True(t, res.Achieved)
	assert.Equal(t, "50.00", res.Value)
	assert.Equal(t, []string{"cpty", "us"}, res.Agreeing)
	assert.Equal(t, []string{"custodian"}, res.Disagreeing)
}

func TestConsensusTieIsDispute(t *testing.T) {
	c := NewConsensusResolver()

	res := c.Resolve("quantity", []PartyValue{
		{Party: "us", Value: "1000"},
		{Party: "cpty", Value: "900"},
	})

	assert.False(t, res.Achieved)
	assert.Empty(t, res.Value)
	assert.Equal(t, []string{"cpty", "us"}, res.Disagreeing)
}

func TestConsensusBareMajorityNotEnough(t *testing.T) {
	c := NewConsensusResolver()

	// Two of four agree: not a strict majority.
	res := c.Resolve("price", []PartyValue{
		{Party: "a", Value: "1"},
		{Party: "b", Value: "1"},
		{Party: "c", Value: "2"},
		{Party: "d", Value: "3"},
	})
	assert.False(t, res.Achieved)
	assert.Len(t, res.Disagreeing, 4)

	// Three of four is.
	res = c.Resolve("price", []PartyValue{
		{Party: "a", Value: "1"},
		{Party: "b", Value: "1"},
		{Party: "c", Value: "1"},
		{Party: "d", Value: "3"},
	})
	assert.True(t, res.Achieved)
	assert.Equal(t, "1", res.Value)
	assert.Equal(t, []string{"d"}, res.Disagreeing)
}

func TestConsensusEmptyInput(t *testing.T) {
	res := NewConsensusResolver().Resolve("price", nil)
	assert.False(t, res.Achieved)
	assert.Empty(t, res.Agreeing)
	assert.Empty(t, res.Disagreeing)
}

func TestResolveAllKeysByField(t *testing.T) {
	c := NewConsensusResolver()
	out := c.ResolveAll(map[string][]PartyValue{
		"price":    {{Party: "a", Value: "1"}, {Party: "b", Value: "1"}, {Party: "c", Value: "2"}},
		"quantity": {{Party: "a", Value: "10"}, {Party: "b", Value: "20"}},
	})
	require.Len(t, out, 2)
	assert.True(t, out["price"].Achieved)
	assert.False(t, out["quantity"].Achieved)
}
