// Package report computes read-only reconciliation and settlement metrics
// over persisted results. Nothing here mutates state.
package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

// ResultSource provides the persisted data the aggregator reads. The gorm
// store implements it.
type ResultSource interface {
	MatchResultsForRun(ctx context.Context, runID string) ([]*model.MatchResult, error)
	BreaksDetectedBetween(ctx context.Context, from, to time.Time) ([]*model.ReconciliationBreak, error)
	InstructionsSettlingBetween(ctx context.Context, from, to time.Time) ([]*model.SettlementInstruction, error)
}

// AgingBucket labels for the break aging distribution.
const (
	BucketFresh   = "0-1d"
	BucketRecent  = "2-5d"
	BucketStale   = "6-10d"
	BucketOverdue = ">10d"
)

// MatchReport summarizes one matching run.
type MatchReport struct {
	RunID        string  `json:"run_id"`
	Total        int     `json:"total"`
	Matched      int     `json:"matched"`
	Partial      int     `json:"partial"`
	Unmatched    int     `json:"unmatched"`
	MatchRatePct float64 `json:"match_rate_pct"`
}

// BreakReport summarizes break inventory over a window.
type BreakReport struct {
	Total             int                            `json:"total"`
	ByStatus          map[model.BreakStatus]int      `json:"by_status"`
	ByPriority        map[model.BreakPriority]int    `json:"by_priority"`
	ByType            map[model.BreakType]int        `json:"by_type"`
	AgingBuckets      map[string]int                 `json:"aging_buckets"`
	OpenImpact        decimal.Decimal                `json:"open_impact"`
	MeanResolutionHrs float64                        `json:"mean_resolution_hrs"`
}

// SettlementReport summarizes settlement outcomes over a window.
type SettlementReport struct {
	Total             int             `json:"total"`
	Settled           int             `json:"settled"`
	Failed            int             `json:"failed"`
	Cancelled         int             `json:"cancelled"`
	InFlight          int             `json:"in_flight"`
	SettlementRatePct float64         `json:"settlement_rate_pct"`
	SettledValue      decimal.Decimal `json:"settled_value"`
	FailedValue       decimal.Decimal `json:"failed_value"`
}

// Aggregator computes reports from persisted reconciliation output.
type Aggregator struct {
	source ResultSource
	logger *zap.Logger
}

// NewAggregator constructs an aggregator.
func NewAggregator(source ResultSource, logger *zap.Logger) *Aggregator {
	return &Aggregator{source: source, logger: logger}
}

// MatchReport computes the match-rate summary for one run. Partial matches
// count toward the match rate at half weight since they still pair a trade
// with a confirmation.
func (a *Aggregator) MatchReport(ctx context.Context, runID string) (*MatchReport, error) {
	results, err := a.source.MatchResultsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rep := &MatchReport{RunID: runID, Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.MatchMatched:
			rep.Matched++
		case model.MatchPartiallyMatched:
			rep.Partial++
		case model.MatchUnmatched:
			rep.Unmatched++
		}
	}
	if rep.Total > 0 {
		rep.MatchRatePct = (float64(rep.Matched) + 0.5*float64(rep.Partial)) / float64(rep.Total) * 100
	}
	return rep, nil
}

// BreakReport aggregates break counts, priority and type distributions, the
// aging histogram, total open impact, and the mean time from detection to
// resolution over the window.
func (a *Aggregator) BreakReport(ctx context.Context, from, to time.Time) (*BreakReport, error) {
	brks, err := a.source.BreaksDetectedBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rep := &BreakReport{
		Total:        len(brks),
		ByStatus:     make(map[model.BreakStatus]int),
		ByPriority:   make(map[model.BreakPriority]int),
		ByType:       make(map[model.BreakType]int),
		AgingBuckets: map[string]int{BucketFresh: 0, BucketRecent: 0, BucketStale: 0, BucketOverdue: 0},
		OpenImpact:   decimal.Zero,
	}

	var resolvedHours float64
	var resolvedCount int
	for _, b := range brks {
		rep.ByStatus[b.Status]++
		rep.ByPriority[b.Priority]++
		rep.ByType[b.Type]++
		rep.AgingBuckets[agingBucket(b.AgingDays)]++
		if b.Actionable() {
			rep.OpenImpact = rep.OpenImpact.Add(b.EstimatedImpact.Abs())
		}
		if b.ResolvedAt != nil {
			resolvedHours += b.ResolvedAt.Sub(b.DetectedAt).Hours()
			resolvedCount++
		}
	}
	if resolvedCount > 0 {
		rep.MeanResolutionHrs = resolvedHours / float64(resolvedCount)
	}
	return rep, nil
}

// SettlementReport aggregates settlement outcomes for instructions due in
// the window. In-flight counts everything not yet terminal.
func (a *Aggregator) SettlementReport(ctx context.Context, from, to time.Time) (*SettlementReport, error) {
	instructions, err := a.source.InstructionsSettlingBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rep := &SettlementReport{
		Total:        len(instructions),
		SettledValue: decimal.Zero,
		FailedValue:  decimal.Zero,
	}
	for _, si := range instructions {
		switch si.Status.Kind() {
		case model.StateSettled:
			rep.Settled++
			rep.SettledValue = rep.SettledValue.Add(si.NetAmount)
		case model.StateFailed:
			rep.Failed++
			rep.FailedValue = rep.FailedValue.Add(si.NetAmount)
		case model.StateCancelled:
			rep.Cancelled++
		default:
			rep.InFlight++
		}
	}
	settledOrFailed := rep.Settled + rep.Failed
	if settledOrFailed > 0 {
		rep.SettlementRatePct = float64(rep.Settled) / float64(settledOrFailed) * 100
	}
	return rep, nil
}

// agingBucket maps aging days onto the reporting histogram.
func agingBucket(days int) string {
	switch {
	case days <= 1:
		return BucketFresh
	case days <= 5:
		return BucketRecent
	case days <= 10:
		return BucketStale
	default:
		return BucketOverdue
	}
}
