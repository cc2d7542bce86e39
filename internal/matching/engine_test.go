package matching

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
)

type fakeRaiser struct {
	mu     sync.Mutex
	inputs []breaks.Input
}

func (f *fakeRaiser) Raise(ctx context.Context, in breaks.Input) (*model.ReconciliationBreak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return &model.ReconciliationBreak{
		ID:       uuid.New(),
		Scope:    in.Scope,
		Type:     in.Type,
		Priority: model.PriorityHigh,
		Status:   model.BreakOpen,
	}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  int
	last  string
	queue string
}

func (f *fakeNotifier) Notify(ctx context.Context, subject, recipient, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.last = reason
	f.queue = recipient
}

func newTestEngine(raiser *fakeRaiser, notifier *fakeNotifier) *Engine {
	return NewEngine(NewScorer(), DefaultThresholds(), raiser, notifier, zap.NewNop())
}

func TestMatchTradesPerfectPair(t *testing.T) {
	trade := testTrade()
	conf := confirmationFor(trade)
	engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})

	run, err := engine.MatchTrades(context.Background(), []*model.Trade{trade}, []*model.Confirmation{conf}, nil)

	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, model.MatchMatched, run.Results[0].Status)
	assert.Equal(t, 1, run.Summary.Matched)
	require.NotNil(t, run.Results[0].ConfirmationID)
	assert.Equal(t, conf.ID, *run.Results[0].ConfirmationID)
}

func TestMatchTradesPartialBelowAutoThreshold(t *testing.T) {
	trade := testTrade()
	conf := confirmationFor(trade)
	conf.Quantity = decimal.NewFromInt(900) // score 0.80

	engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})
	run, err := engine.MatchTrades(context.Background(), []*model.Trade{trade}, []*model.Confirmation{conf}, nil)

	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, model.MatchPartiallyMatched, run.Results[0].Status)
	assert.Equal(t, 1, run.Summary.Partial)
}

func TestMatchTradesNoCandidatesRaisesMissingTrade(t *testing.T) {
	trade := testTrade()
	raiser := &fakeRaiser{}
	notifier := &fakeNotifier{}
	engine := newTestEngine(raiser, notifier)

	run, err := engine.MatchTrades(context.Background(), []*model.Trade{trade}, nil, nil)

	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.Equal(t, model.MatchUnmatched, run.Results[0].Status)
	assert.Zero(t, run.Results[0].Score)

	require.Len(t, raiser.inputs, 1)
	in := raiser.inputs[0]
	assert.Equal(t, model.BreakMissingTrade, in.Type)
	assert.Equal(t, model.ScopeTrade, in.Scope)
	assert.Equal(t, InvestigationQueue, in.AssignTo)
	assert.True(t, in.EstimatedImpact.Equal(trade.GrossAmount()))
	assert.Equal(t, 1, notifier.sent)
	assert.Equal(t, InvestigationQueue, notifier.queue)
}

func TestMatchTradesFirstClaimWins(t *testing.T) {
	tradeA := testTrade()
	tradeB := testTrade()
	tradeB.ID = uuid.New()
	conf := confirmationFor(tradeA) // perfect for both trades

	raiser := &fakeRaiser{}
	engine := newTestEngine(raiser, &fakeNotifier{})
	run, err := engine.MatchTrades(context.Background(),
		[]*model.Trade{tradeA, tradeB}, []*model.Confirmation{conf}, nil)

	require.NoError(t, err)
	require.Len(t, run.Results, 2)

	// Exactly one trade gets the confirmation; the loser sees an empty
	// pool and falls through to missing-trade handling.
	assert.Equal(t, model.MatchMatched, run.Results[0].Status)
	assert.Equal(t, tradeA.ID, run.Results[0].TradeID)
	assert.Equal(t, model.MatchUnmatched, run.Results[1].Status)
	assert.Equal(t, 1, run.Summary.Matched)
	assert.Equal(t, 1, run.Summary.Unmatched)
	require.Len(t, raiser.inputs, 1)
	assert.Equal(t, tradeB.ID, *raiser.inputs[0].TradeID)
}

func TestMatchTradesDeterministicForFixedInput(t *testing.T) {
	tradeA := testTrade()
	tradeB := testTrade()
	tradeB.ID = uuid.New()
	tradeB.Quantity = decimal.NewFromInt(500)

	confA := confirmationFor(tradeA)
	confB := confirmationFor(tradeB)

	for i := 0; i < 5; i++ {
		engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})
		run, err := engine.MatchTrades(context.Background(),
			[]*model.Trade{tradeA, tradeB}, []*model.Confirmation{confA, confB}, nil)
		require.NoError(t, err)
		require.Len(t, run.Results, 2)
		assert.Equal(t, confA.ID, *run.Results[0].ConfirmationID)
		assert.Equal(t, confB.ID, *run.Results[1].ConfirmationID)
		assert.Equal(t, 2, run.Summary.Matched)
	}
}

func TestAutoMatchTradesLinksPriorResult(t *testing.T) {
	trade := testTrade()
	conf := confirmationFor(trade)
	priorID := uuid.New()

	engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})
	results, err := engine.AutoMatchTrades(context.Background(),
		[]*model.Trade{trade}, []*model.Confirmation{conf},
		map[uuid.UUID]uuid.UUID{trade.ID: priorID}, nil)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.MatchMatched, results[0].Status)
	require.NotNil(t, results[0].PriorResultID)
	assert.Equal(t, priorID, *results[0].PriorResultID)
}

func TestAutoMatchTradesIgnoresWeakScores(t *testing.T) {
	trade := testTrade()
	conf := confirmationFor(trade)
	conf.Quantity = decimal.NewFromInt(900) // 0.80, below auto-match

	engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})
	results, err := engine.AutoMatchTrades(context.Background(),
		[]*model.Trade{trade}, []*model.Confirmation{conf}, nil, nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFuzzyMatchCandidatesRankedByScore(t *testing.T) {
	trade := testTrade()

	strong := confirmationFor(trade)
	strong.Quantity = decimal.NewFromInt(900) // 0.80

	weak := confirmationFor(trade)
	weak.Quantity = decimal.NewFromInt(900)
	weak.Price = decimal.NewFromFloat(51.00) // 0.65

	tooWeak := confirmationFor(trade)
	tooWeak.SecurityID = "GB00B03MLX29"
	tooWeak.Side = model.SideSell
	tooWeak.Quantity = decimal.NewFromInt(1)
	tooWeak.Price = decimal.NewFromFloat(9.99) // 0.15, below floor

	engine := newTestEngine(&fakeRaiser{}, &fakeNotifier{})
	candidates := engine.FuzzyMatchCandidates(trade,
		[]*model.Confirmation{weak, strong, tooWeak}, nil)

	require.Len(t, candidates, 2)
	assert.Equal(t, strong.ID, candidates[0].Confirmation.ID)
	assert.Equal(t, weak.ID, candidates[1].Confirmation.ID)
	assert.InDelta(t, 1.0, candidates[0].Similarity, 1e-9)
}
