package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

func TestAssessComponentBreakdown(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	si := instruction(model.SettlementDVP, 2000, "CPTY-1", "USD", date) // net 100000

	a := rs.Assess(context.Background(), si, false)

	assert.True(t, a.SettlementValue.Equal(decimal.NewFromInt(100000)))
	assert.True(t, a.ReplacementCost.Equal(decimal.NewFromInt(2000)), "2%% of value")
	assert.True(t, a.CreditExposure.Equal(decimal.NewFromInt(1000)), "1%% of value")
	assert.True(t, a.LiquidityCost.Equal(decimal.NewFromInt(500)), "0.5%% of value")
	assert.True(t, a.OperationalCost.Equal(decimal.NewFromInt(500)))
	assert.True(t, a.TotalExposure.Equal(decimal.NewFromInt(4000)))
	assert.False(t, a.LimitBreached)
	assert.True(t, a.HerstattExposure.IsZero())
	assert.False(t, a.RecommendPvP)
}

func TestAssessUsesGrossForFreeOfPayment(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	si := instruction(model.SettlementFOP, 100, "CPTY-1", "USD", date)
	si.GrossAmount = decimal.NewFromInt(5000)
	si.NetAmount = decimal.Zero

	a := rs.Assess(context.Background(), si, false)
	assert.True(t, a.SettlementValue.Equal(decimal.NewFromInt(5000)))
}

func TestAssessCumulativeExposureAndLimit(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	rs.SetLimit("CPTY-1", decimal.NewFromInt(150000))
	date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first := rs.Assess(ctx, instruction(model.SettlementDVP, 2000, "CPTY-1", "USD", date), false) // 100k
	assert.False(t, first.LimitBreached)
	assert.True(t, rs.Exposure("CPTY-1").Equal(decimal.NewFromInt(100000)))

	second := rs.Assess(ctx, instruction(model.SettlementDVP, 2000, "CPTY-1", "USD", date), false) // 200k total
	assert.True(t, second.LimitBreached)

	// Settling the first releases its exposure.
	rs.ReleaseExposure("CPTY-1", decimal.NewFromInt(100000))
	assert.True(t, rs.Exposure("CPTY-1").Equal(decimal.NewFromInt(100000)))

	// Other counterparties are unaffected.
	other := rs.Assess(ctx, instruction(model.SettlementDVP, 2000, "CPTY-2", "USD", date), false)
	assert.False(t, other.LimitBreached)
}

func TestReleaseExposureFloorsAtZero(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	rs.ReleaseExposure("CPTY-1", decimal.NewFromInt(500))
	assert.True(t, rs.Exposure("CPTY-1").IsZero())
}

func TestHerstattExposureAndPvPRecommendation(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	small := rs.Assess(ctx, instruction(model.SettlementDVP, 2000, "CPTY-1", "USD", date), true) // 100k
	assert.True(t, small.HerstattExposure.Equal(decimal.NewFromInt(100000)))
	assert.False(t, small.RecommendPvP, "below the PvP notional threshold")

	big := rs.Assess(ctx, instruction(model.SettlementDVP, 40000, "CPTY-1", "USD", date), true) // 2m
	assert.True(t, big.HerstattExposure.Equal(decimal.NewFromInt(2000000)))
	assert.True(t, big.RecommendPvP)
}

func TestAssessAllPreservesOrder(t *testing.T) {
	rs := NewRiskScorer(DefaultRiskParams(), zap.NewNop())
	date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	a := instruction(model.SettlementDVP, 100, "CPTY-1", "USD", date)
	b := instruction(model.SettlementDVP, 200, "CPTY-2", "USD", date)

	out := rs.AssessAll(context.Background(), []*model.SettlementInstruction{a, b}, nil)
	require.Len(t, out, 2)
	assert.Equal(t, a.ID.String(), out[0].InstructionID)
	assert.Equal(t, b.ID.String(), out[1].InstructionID)
}
