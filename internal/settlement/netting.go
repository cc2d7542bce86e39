package settlement

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/metrics"
	"github.com/cleargate/reconengine/internal/model"
)

var oneHundred = decimal.NewFromInt(100)

// NettingKey identifies a netting set: same counterparty, same settlement
// date, same currency. Instructions outside a common key never net.
type NettingKey struct {
	CounterpartyID string
	SettlementDate time.Time
	Currency       string
}

// NettingEngine collapses gross settlement obligations into net positions
// per counterparty, settlement date, and currency.
type NettingEngine struct {
	logger *zap.Logger
}

// NewNettingEngine constructs a netting engine.
func NewNettingEngine(logger *zap.Logger) *NettingEngine {
	return &NettingEngine{logger: logger}
}

// ComputeGroup nets a set of instructions that share a netting key.
// Instructions where we deliver securities (DVP, FOP, DFP) contribute to
// securities payable and cash receivable; instructions where we receive
// (RVP, RFP) contribute the other way. The efficiency figure is the
// percentage of gross obligation eliminated by netting.
func (n *NettingEngine) ComputeGroup(instructions []*model.SettlementInstruction) (*model.NettingGroup, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("netting group requires at least one instruction")
	}

	key := keyOf(instructions[0])
	group := &model.NettingGroup{
		CounterpartyID: key.CounterpartyID,
		SettlementDate: key.SettlementDate,
		Currency:       key.Currency,
	}

	grossPayable := decimal.Zero    // securities we deliver
	grossReceivable := decimal.Zero // securities we receive
	cashPayable := decimal.Zero
	cashReceivable := decimal.Zero

	for _, si := range instructions {
		if keyOf(si) != key {
			return nil, fmt.Errorf("instruction %s does not share netting key %s/%s/%s",
				si.ID, key.CounterpartyID, key.SettlementDate.Format("2006-01-02"), key.Currency)
		}
		group.InstructionIDs = append(group.InstructionIDs, si.ID)
		if weDeliver(si.Type) {
			grossPayable = grossPayable.Add(si.Quantity)
			if si.Type.HasCashLeg() {
				cashReceivable = cashReceivable.Add(si.NetAmount)
			}
		} else {
			grossReceivable = grossReceivable.Add(si.Quantity)
			if si.Type.HasCashLeg() {
				cashPayable = cashPayable.Add(si.NetAmount)
			}
		}
	}

	group.GrossSecuritiesPayable = grossPayable
	group.GrossSecuritiesReceivable = grossReceivable
	group.GrossCashReceivable = cashReceivable
	group.GrossCashPayable = cashPayable
	group.NetSecuritiesPosition = grossReceivable.Sub(grossPayable)
	group.NetCashPosition = cashReceivable.Sub(cashPayable)

	grossTotal := grossPayable.Add(grossReceivable)
	if grossTotal.IsZero() {
		group.NettingEfficiency = decimal.Zero
	} else {
		group.NettingEfficiency = grossTotal.Sub(group.NetSecuritiesPosition.Abs()).
			Div(grossTotal).Mul(oneHundred)
	}

	eff, _ := group.NettingEfficiency.Float64()
	metrics.NettingEfficiency.Observe(eff)
	n.logger.Info("netting group computed",
		zap.String("counterparty_id", group.CounterpartyID),
		zap.String("currency", group.Currency),
		zap.Int("instructions", len(instructions)),
		zap.String("net_securities", group.NetSecuritiesPosition.String()),
		zap.String("efficiency_pct", group.NettingEfficiency.StringFixed(2)))
	return group, nil
}

// Partition splits instructions into netting sets by counterparty,
// settlement date, and currency. Groups come back in deterministic order.
func (n *NettingEngine) Partition(instructions []*model.SettlementInstruction) [][]*model.SettlementInstruction {
	byKey := make(map[NettingKey][]*model.SettlementInstruction)
	var order []NettingKey
	for _, si := range instructions {
		k := keyOf(si)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], si)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.CounterpartyID != b.CounterpartyID {
			return a.CounterpartyID < b.CounterpartyID
		}
		if !a.SettlementDate.Equal(b.SettlementDate) {
			return a.SettlementDate.Before(b.SettlementDate)
		}
		return a.Currency < b.Currency
	})
	out := make([][]*model.SettlementInstruction, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

// OptimizeNetting partitions the instructions into netting sets and keeps
// only the groups whose efficiency meets the floor. Groups below the floor
// are left to settle gross since netting them eliminates too little
// obligation to justify the extra operational steps.
func (n *NettingEngine) OptimizeNetting(instructions []*model.SettlementInstruction, minEfficiency decimal.Decimal) ([]*model.NettingGroup, error) {
	var out []*model.NettingGroup
	for _, set := range n.Partition(instructions) {
		group, err := n.ComputeGroup(set)
		if err != nil {
			return out, err
		}
		if group.NettingEfficiency.LessThan(minEfficiency) {
			n.logger.Debug("netting group below efficiency floor, settling gross",
				zap.String("counterparty_id", group.CounterpartyID),
				zap.String("efficiency_pct", group.NettingEfficiency.StringFixed(2)),
				zap.String("floor_pct", minEfficiency.StringFixed(2)))
			continue
		}
		out = append(out, group)
	}
	return out, nil
}

// weDeliver reports whether we are the delivering side for this type.
func weDeliver(t model.SettlementType) bool {
	switch t {
	case model.SettlementDVP, model.SettlementFOP, model.SettlementDFP:
		return true
	default:
		return false
	}
}

func keyOf(si *model.SettlementInstruction) NettingKey {
	return NettingKey{
		CounterpartyID: si.CounterpartyID,
		SettlementDate: si.SettlementDate.Truncate(24 * time.Hour),
		Currency:       si.Currency,
	}
}
