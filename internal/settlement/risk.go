package settlement

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

// RiskParams holds the component rates applied to settlement value when
// scoring pre-settlement exposure. Rates are fractions, not percentages.
type RiskParams struct {
	ReplacementCostRate decimal.Decimal `mapstructure:"replacement_cost_rate"`
	CreditRate          decimal.Decimal `mapstructure:"credit_rate"`
	LiquidityRate       decimal.Decimal `mapstructure:"liquidity_rate"`
	OperationalCharge   decimal.Decimal `mapstructure:"operational_charge"`
	// PvPThreshold is the notional above which a cross-currency
	// settlement gets a payment-versus-payment recommendation.
	PvPThreshold decimal.Decimal `mapstructure:"pvp_threshold"`
}

// DefaultRiskParams returns the standard component rates.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		ReplacementCostRate: decimal.NewFromFloat(0.02),
		CreditRate:          decimal.NewFromFloat(0.01),
		LiquidityRate:       decimal.NewFromFloat(0.005),
		OperationalCharge:   decimal.NewFromInt(500),
		PvPThreshold:        decimal.NewFromInt(1_000_000),
	}
}

// RiskAssessment is the scored exposure for one settlement instruction.
type RiskAssessment struct {
	InstructionID   string          `json:"instruction_id"`
	CounterpartyID  string          `json:"counterparty_id"`
	SettlementValue decimal.Decimal `json:"settlement_value"`
	ReplacementCost decimal.Decimal `json:"replacement_cost"`
	CreditExposure  decimal.Decimal `json:"credit_exposure"`
	LiquidityCost   decimal.Decimal `json:"liquidity_cost"`
	OperationalCost decimal.Decimal `json:"operational_cost"`
	TotalExposure   decimal.Decimal `json:"total_exposure"`
	LimitBreached   bool            `json:"limit_breached"`
	// Herstatt exposure: full principal at risk when the two legs of a
	// cross-currency settlement happen in different payment systems.
	HerstattExposure decimal.Decimal `json:"herstatt_exposure"`
	RecommendPvP     bool            `json:"recommend_pvp"`
}

// RiskScorer scores settlement exposure per instruction and tracks
// cumulative exposure per counterparty against configured limits.
type RiskScorer struct {
	params RiskParams
	logger *zap.Logger

	mu       sync.Mutex
	limits   map[string]decimal.Decimal
	exposure map[string]decimal.Decimal
}

// NewRiskScorer constructs a scorer with the given component rates.
func NewRiskScorer(params RiskParams, logger *zap.Logger) *RiskScorer {
	return &RiskScorer{
		params:   params,
		logger:   logger,
		limits:   make(map[string]decimal.Decimal),
		exposure: make(map[string]decimal.Decimal),
	}
}

// SetLimit sets the cumulative exposure limit for a counterparty.
func (rs *RiskScorer) SetLimit(counterpartyID string, limit decimal.Decimal) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.limits[counterpartyID] = limit
}

// ReleaseExposure removes a settled or cancelled instruction's value from
// the counterparty's running exposure.
func (rs *RiskScorer) ReleaseExposure(counterpartyID string, value decimal.Decimal) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cur := rs.exposure[counterpartyID]
	next := cur.Sub(value)
	if next.IsNegative() {
		next = decimal.Zero
	}
	rs.exposure[counterpartyID] = next
}

// Exposure returns the current cumulative exposure for a counterparty.
func (rs *RiskScorer) Exposure(counterpartyID string) decimal.Decimal {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.exposure[counterpartyID]
}

// Assess scores one instruction, accrues its value into the counterparty's
// cumulative exposure, and flags a limit breach when the running total
// exceeds the configured limit. crossCurrency marks settlements whose cash
// and securities legs clear in different currencies or payment systems.
func (rs *RiskScorer) Assess(ctx context.Context, si *model.SettlementInstruction, crossCurrency bool) RiskAssessment {
	value := si.NetAmount
	if !si.Type.HasCashLeg() {
		value = si.GrossAmount
	}
	counterparty := si.CounterpartyID

	a := RiskAssessment{
		InstructionID:   si.ID.String(),
		CounterpartyID:  counterparty,
		SettlementValue: value,
		ReplacementCost: value.Mul(rs.params.ReplacementCostRate),
		CreditExposure:  value.Mul(rs.params.CreditRate),
		LiquidityCost:   value.Mul(rs.params.LiquidityRate),
		OperationalCost: rs.params.OperationalCharge,
	}
	a.TotalExposure = a.ReplacementCost.
		Add(a.CreditExposure).
		Add(a.LiquidityCost).
		Add(a.OperationalCost)

	if crossCurrency {
		// Full principal is at risk until both legs are final.
		a.HerstattExposure = value
		a.RecommendPvP = value.GreaterThan(rs.params.PvPThreshold)
	}

	rs.mu.Lock()
	rs.exposure[counterparty] = rs.exposure[counterparty].Add(value)
	running := rs.exposure[counterparty]
	limit, hasLimit := rs.limits[counterparty]
	rs.mu.Unlock()

	if hasLimit && running.GreaterThan(limit) {
		a.LimitBreached = true
		rs.logger.Warn("counterparty exposure limit breached",
			zap.String("counterparty_id", counterparty),
			zap.String("exposure", running.String()),
			zap.String("limit", limit.String()),
			zap.String("instruction_id", si.ID.String()))
	}
	return a
}

// AssessAll scores a batch, preserving input order.
func (rs *RiskScorer) AssessAll(ctx context.Context, instructions []*model.SettlementInstruction, crossCurrency func(*model.SettlementInstruction) bool) []RiskAssessment {
	out := make([]RiskAssessment, 0, len(instructions))
	for _, si := range instructions {
		out = append(out, rs.Assess(ctx, si, crossCurrency != nil && crossCurrency(si)))
	}
	return out
}
