package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

type fakeSource struct {
	results      []*model.MatchResult
	breaks       []*model.ReconciliationBreak
	instructions []*model.SettlementInstruction
}

func (f *fakeSource) MatchResultsForRun(ctx context.Context, runID string) ([]*model.MatchResult, error) {
	return f.results, nil
}

func (f *fakeSource) BreaksDetectedBetween(ctx context.Context, from, to time.Time) ([]*model.ReconciliationBreak, error) {
	return f.breaks, nil
}

func (f *fakeSource) InstructionsSettlingBetween(ctx context.Context, from, to time.Time) ([]*model.SettlementInstruction, error) {
	return f.instructions, nil
}

func result(status model.MatchStatus) *model.MatchResult {
	return &model.MatchResult{ID: uuid.New(), Status: status}
}

func TestMatchReportRates(t *testing.T) {
	src := &fakeSource{results: []*model.MatchResult{
		result(model.MatchMatched),
		result(model.MatchMatched),
		result(model.MatchMatched),
		result(model.MatchPartiallyMatched),
		result(model.MatchUnmatched),
	}}
	a := NewAggregator(src, zap.NewNop())

	rep, err := a.MatchReport(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, 3, rep.Matched)
	assert.Equal(t, 1, rep.Partial)
	assert.Equal(t, 1, rep.Unmatched)
	// 3 full + 0.5 partial over 5.
	assert.InDelta(t, 70.0, rep.MatchRatePct, 1e-9)
}

func TestMatchReportEmptyRun(t *testing.T) {
	a := NewAggregator(&fakeSource{}, zap.NewNop())
	rep, err := a.MatchReport(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
	assert.Zero(t, rep.MatchRatePct)
}

func brk(status model.BreakStatus, priority model.BreakPriority, aging int, impact int64) *model.ReconciliationBreak {
	return &model.ReconciliationBreak{
		ID:              uuid.New(),
		Type:            model.BreakPriceDiscrepancy,
		Status:          status,
		Priority:        priority,
		AgingDays:       aging,
		EstimatedImpact: decimal.NewFromInt(impact),
		DetectedAt:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestBreakReportAggregates(t *testing.T) {
	resolved := brk(model.BreakResolved, model.PriorityMedium, 3, 200)
	resolvedAt := resolved.DetectedAt.Add(48 * time.Hour)
	resolved.ResolvedAt = &resolvedAt

	src := &fakeSource{breaks: []*model.ReconciliationBreak{
		brk(model.BreakOpen, model.PriorityCritical, 0, 5000),
		brk(model.BreakOpen, model.PriorityHigh, 4, 1000),
		brk(model.BreakInProgress, model.PriorityHigh, 8, 300),
		brk(model.BreakEscalated, model.PriorityCritical, 12, 700),
		resolved,
	}}
	a := NewAggregator(src, zap.NewNop())

	rep, err := a.BreakReport(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, 2, rep.ByStatus[model.BreakOpen])
	assert.Equal(t, 1, rep.ByStatus[model.BreakResolved])
	assert.Equal(t, 2, rep.ByPriority[model.PriorityCritical])
	assert.Equal(t, 2, rep.ByPriority[model.PriorityHigh])

	assert.Equal(t, 1, rep.AgingBuckets[BucketFresh])
	assert.Equal(t, 2, rep.AgingBuckets[BucketRecent])
	assert.Equal(t, 1, rep.AgingBuckets[BucketStale])
	assert.Equal(t, 1, rep.AgingBuckets[BucketOverdue])

	// Open impact excludes the resolved break.
	assert.True(t, rep.OpenImpact.Equal(decimal.NewFromInt(7000)))
	assert.InDelta(t, 48.0, rep.MeanResolutionHrs, 1e-9)
}

func settledInstruction(state model.SettlementState, net int64) *model.SettlementInstruction {
	return &model.SettlementInstruction{
		ID:        uuid.New(),
		NetAmount: decimal.NewFromInt(net),
		Status:    model.NewStatus(state),
	}
}

func TestSettlementReportRates(t *testing.T) {
	src := &fakeSource{instructions: []*model.SettlementInstruction{
		settledInstruction(model.Settled{SettlementRef: "S1"}, 1000),
		settledInstruction(model.Settled{SettlementRef: "S2"}, 2000),
		settledInstruction(model.Settled{SettlementRef: "S3"}, 3000),
		settledInstruction(model.Failed{Reason: "short"}, 500),
		settledInstruction(model.Cancelled{Actor: "ops"}, 700),
		settledInstruction(model.Matched{MatchRef: "M1"}, 900),
	}}
	a := NewAggregator(src, zap.NewNop())

	rep, err := a.SettlementReport(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Total)
	assert.Equal(t, 3, rep.Settled)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Cancelled)
	assert.Equal(t, 1, rep.InFlight)
	// 3 settled of 4 decided outcomes.
	assert.InDelta(t, 75.0, rep.SettlementRatePct, 1e-9)
	assert.True(t, rep.SettledValue.Equal(decimal.NewFromInt(6000)))
	assert.True(t, rep.FailedValue.Equal(decimal.NewFromInt(500)))
}

func TestAgingBucketBoundaries(t *testing.T) {
	assert.Equal(t, BucketFresh, agingBucket(0))
	assert.Equal(t, BucketFresh, agingBucket(1))
	assert.Equal(t, BucketRecent, agingBucket(2))
	assert.Equal(t, BucketRecent, agingBucket(5))
	assert.Equal(t, BucketStale, agingBucket(6))
	assert.Equal(t, BucketStale, agingBucket(10))
	assert.Equal(t, BucketOverdue, agingBucket(11))
}
