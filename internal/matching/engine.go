package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/metrics"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/tolerance"
)

// Thresholds classify a match score. AutoMatch and above is treated as an
// effectively perfect match and claimed without manual review; Partial and
// above requires manual confirmation; Fuzzy is the floor for candidate
// suggestions.
type Thresholds struct {
	AutoMatch float64
	Partial   float64
	Fuzzy     float64
}

// DefaultThresholds returns the standard classification policy.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoMatch: 0.95, Partial: 0.75, Fuzzy: 0.5}
}

// BreakRaiser receives discrepancies detected during matching. The break
// manager implements it.
type BreakRaiser interface {
	Raise(ctx context.Context, in breaks.Input) (*model.ReconciliationBreak, error)
}

// Notifier delivers fire-and-forget alerts, for example to open an
// investigation on an unmatched trade.
type Notifier interface {
	Notify(ctx context.Context, subject, recipient, reason string)
}

// InvestigationQueue is the default assignee for unmatched-trade breaks.
const InvestigationQueue = "investigations"

// Run is the outcome of one matching pass.
type Run struct {
	RunID   uuid.UUID
	Results []*model.MatchResult
	Summary model.RunSummary
}

// claimSet enforces the first-claim-wins rule: no confirmation may be
// claimed by more than one trade within a pass, even when trades contend in
// parallel.
type claimSet struct {
	mu      sync.Mutex
	claimed map[uuid.UUID]uuid.UUID // confirmation -> claiming trade
}

func newClaimSet() *claimSet {
	return &claimSet{claimed: make(map[uuid.UUID]uuid.UUID)}
}

// tryClaim is an atomic check-and-set on the confirmation's claimed state.
func (c *claimSet) tryClaim(confID, tradeID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.claimed[confID]; taken {
		return false
	}
	c.claimed[confID] = tradeID
	return true
}

func (c *claimSet) isClaimed(confID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, taken := c.claimed[confID]
	return taken
}

// Engine pairs a trade set against a confirmation set using the scorer and
// greedy best-score assignment.
type Engine struct {
	scorer     *Scorer
	thresholds Thresholds
	raiser     BreakRaiser
	notifier   Notifier
	logger     *zap.Logger
}

// NewEngine constructs a matching engine.
func NewEngine(scorer *Scorer, thresholds Thresholds, raiser BreakRaiser, notifier Notifier, logger *zap.Logger) *Engine {
	return &Engine{
		scorer:     scorer,
		thresholds: thresholds,
		raiser:     raiser,
		notifier:   notifier,
		logger:     logger,
	}
}

// MatchTrades runs one matching pass. For each trade the engine scores every
// not-yet-claimed confirmation, short-circuiting as soon as a score reaches
// the auto-match threshold. Results are deterministic for a fixed input
// order: ties are broken by first-seen trade and first-seen confirmation.
// Item-level failures are isolated into the summary; they never abort the
// pass.
func (e *Engine) MatchTrades(ctx context.Context, trades []*model.Trade, confs []*model.Confirmation, tol tolerance.Set) (*Run, error) {
	started := time.Now()
	run := &Run{RunID: uuid.New()}
	claims := newClaimSet()
	metrics.RunsStarted.Inc()

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.matchOne(ctx, run.RunID, trade, confs, tol, claims)
		if err != nil {
			e.logger.Error("matching failed for trade",
				zap.String("trade_id", trade.ID.String()), zap.Error(err))
			run.Summary.Errored++
			continue
		}
		run.Results = append(run.Results, result)
		switch result.Status {
		case model.MatchMatched:
			run.Summary.Matched++
		case model.MatchPartiallyMatched:
			run.Summary.Partial++
		default:
			run.Summary.Unmatched++
		}
		metrics.MatchResults.WithLabelValues(string(result.Status)).Inc()
	}

	run.Summary.RunID = run.RunID
	run.Summary.Trades = len(trades)
	run.Summary.StartedAt = started
	run.Summary.Duration = time.Since(started).String()
	metrics.RunsCompleted.Inc()
	e.logger.Info("matching pass complete",
		zap.String("run_id", run.RunID.String()),
		zap.Int("trades", run.Summary.Trades),
		zap.Int("matched", run.Summary.Matched),
		zap.Int("partial", run.Summary.Partial),
		zap.Int("unmatched", run.Summary.Unmatched),
		zap.Int("errored", run.Summary.Errored))
	return run, nil
}

// matchOne scores a single trade against the unclaimed confirmation pool
// and classifies the best result.
func (e *Engine) matchOne(ctx context.Context, runID uuid.UUID, trade *model.Trade, confs []*model.Confirmation, tol tolerance.Set, claims *claimSet) (*model.MatchResult, error) {
	var best *model.MatchResult

	for _, conf := range confs {
		if claims.isClaimed(conf.ID) {
			continue
		}
		result := e.scorer.Score(trade, conf, tol)
		if result.Score >= e.thresholds.AutoMatch {
			// Effectively perfect; no point scoring the rest. The claim is
			// an atomic check-and-set so a contending trade cannot take the
			// same confirmation.
			if claims.tryClaim(conf.ID, trade.ID) {
				result.RunID = runID
				result.Status = model.MatchMatched
				return result, nil
			}
			// Lost the claim race; the confirmation belongs to another
			// trade. Keep scanning.
			continue
		}
		if best == nil || result.Score > best.Score {
			best = result
		}
	}

	if best == nil {
		return e.handleUnmatchedTrade(ctx, runID, trade)
	}

	best.RunID = runID
	if best.Score >= e.thresholds.Partial {
		// Requires manual confirmation; the confirmation is not claimed.
		best.Status = model.MatchPartiallyMatched
	} else {
		best.Status = model.MatchUnmatched
	}
	return best, nil
}

// handleUnmatchedTrade records an UNMATCHED result with score zero, raises
// a MISSING_TRADE break at HIGH priority, and opens an investigation.
func (e *Engine) handleUnmatchedTrade(ctx context.Context, runID uuid.UUID, trade *model.Trade) (*model.MatchResult, error) {
	result := &model.MatchResult{
		ID:        uuid.New(),
		RunID:     runID,
		TradeID:   trade.ID,
		Score:     0,
		Status:    model.MatchUnmatched,
		CreatedAt: time.Now().UTC(),
	}

	brk, err := e.raiser.Raise(ctx, breaks.Input{
		Scope:           model.ScopeTrade,
		Type:            model.BreakMissingTrade,
		DetectionMethod: "matching_engine",
		TradeID:         &trade.ID,
		SecurityID:      trade.SecurityID,
		InternalValue:   trade.ID.String(),
		EstimatedImpact: trade.GrossAmount(),
		Currency:        trade.Currency,
		AssignTo:        InvestigationQueue,
	})
	if err != nil {
		return nil, err
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, brk.ID.String(), InvestigationQueue,
			"no confirmation received for trade "+trade.ID.String())
	}
	return result, nil
}

// AutoMatchTrades re-scores pools already filtered to previously-unmatched
// items and claims only results at or above the auto-match threshold. Each
// new result links back to the trade's prior result for audit.
func (e *Engine) AutoMatchTrades(ctx context.Context, trades []*model.Trade, confs []*model.Confirmation, prior map[uuid.UUID]uuid.UUID, tol tolerance.Set) ([]*model.MatchResult, error) {
	claims := newClaimSet()
	runID := uuid.New()
	var matched []*model.MatchResult

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, conf := range confs {
			if claims.isClaimed(conf.ID) {
				continue
			}
			result := e.scorer.Score(trade, conf, tol)
			if result.Score < e.thresholds.AutoMatch {
				continue
			}
			if !claims.tryClaim(conf.ID, trade.ID) {
				continue
			}
			result.RunID = runID
			result.Status = model.MatchMatched
			if priorID, ok := prior[trade.ID]; ok {
				id := priorID
				result.PriorResultID = &id
			}
			matched = append(matched, result)
			metrics.MatchResults.WithLabelValues(string(model.MatchMatched)).Inc()
			break
		}
	}
	return matched, nil
}

// Candidate is a fuzzy-match suggestion for manual review.
type Candidate struct {
	Confirmation *model.Confirmation
	Result       *model.MatchResult
	Similarity   float64 // security identifier similarity
}

// FuzzyMatchCandidates ranks confirmations that score above the fuzzy
// threshold against a single trade, highest score first. Ordering is stable
// so equal scores keep input iteration order.
func (e *Engine) FuzzyMatchCandidates(trade *model.Trade, confs []*model.Confirmation, tol tolerance.Set) []Candidate {
	var candidates []Candidate
	for _, conf := range confs {
		result := e.scorer.Score(trade, conf, tol)
		if result.Score <= e.thresholds.Fuzzy {
			continue
		}
		candidates = append(candidates, Candidate{
			Confirmation: conf,
			Result:       result,
			Similarity:   SecuritySimilarity(trade.SecurityID, conf.SecurityID),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Result.Score > candidates[j].Result.Score
	})
	return candidates
}
