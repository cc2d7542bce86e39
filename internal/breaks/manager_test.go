package breaks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/model"
)

// memStore is an in-memory Store with the same optimistic-locking contract
// as the database repository.
type memStore struct {
	mu     sync.Mutex
	breaks map[uuid.UUID]model.ReconciliationBreak
}

func newMemStore() *memStore {
	return &memStore{breaks: make(map[uuid.UUID]model.ReconciliationBreak)}
}

func (s *memStore) Create(ctx context.Context, b *model.ReconciliationBreak) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaks[b.ID] = *b
	return nil
}

func (s *memStore) Get(ctx context.Context, id uuid.UUID) (*model.ReconciliationBreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breaks[id]
	if !ok {
		return nil, fmt.Errorf("%w: break %s", ErrNotFound, id)
	}
	copied := b
	return &copied, nil
}

func (s *memStore) Update(ctx context.Context, b *model.ReconciliationBreak, fromVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.breaks[b.ID]
	if !ok {
		return fmt.Errorf("%w: break %s", ErrNotFound, b.ID)
	}
	if cur.Version != fromVersion {
		return fmt.Errorf("%w: break %s at version %d", ErrConflict, b.ID, fromVersion)
	}
	s.breaks[b.ID] = *b
	return nil
}

func (s *memStore) ListActive(ctx context.Context) ([]*model.ReconciliationBreak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ReconciliationBreak
	for _, b := range s.breaks {
		if b.Actionable() {
			copied := b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memStore) ListOpenOlderThan(ctx context.Context, days int) ([]*model.ReconciliationBreak, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ReconciliationBreak
	for _, b := range s.breaks {
		if b.Actionable() && !b.DetectedAt.After(cutoff) {
			copied := b
			out = append(out, &copied)
		}
	}
	return out, nil
}

type captureNotifier struct {
	mu      sync.Mutex
	reasons []string
}

func (n *captureNotifier) Notify(ctx context.Context, subject, recipient, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reasons = append(n.reasons, reason)
}

func newTestManager() (*Manager, *memStore, *captureNotifier) {
	store := newMemStore()
	notifier := &captureNotifier{}
	return NewManager(store, notifier, zap.NewNop()), store, notifier
}

func priceInput(impact int64) Input {
	return Input{
		Scope:           model.ScopeTrade,
		Type:            model.BreakPriceDiscrepancy,
		DetectionMethod: "test",
		InternalValue:   "50.00",
		ExternalValue:   "50.25",
		Discrepancy:     decimal.NewFromFloat(0.25),
		EstimatedImpact: decimal.NewFromInt(impact),
		Currency:        "USD",
	}
}

func TestRaiseClassifiesPriority(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
		want model.BreakPriority
	}{
		{"price above impact threshold", priceInput(10001), model.PriorityCritical},
		{"price at impact threshold", priceInput(10000), model.PriorityMedium},
		{"missing trade", Input{Scope: model.ScopeTrade, Type: model.BreakMissingTrade}, model.PriorityHigh},
		{"settlement date mismatch", Input{Scope: model.ScopeTrade, Type: model.BreakSettlementDateMismatch}, model.PriorityHigh},
		{"commission", Input{Scope: model.ScopeTrade, Type: model.BreakCommissionDiscrepancy}, model.PriorityLow},
		{"balance", Input{Scope: model.ScopeCash, Type: model.BreakBalanceDiscrepancy}, model.PriorityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := m.Raise(ctx, tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, b.Priority)
			assert.Equal(t, model.BreakOpen, b.Status)
			assert.Zero(t, b.AgingDays)
		})
	}
}

func TestRaiseRequiresScopeAndType(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.Raise(context.Background(), Input{Type: model.BreakMissingTrade})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolveLifecycle(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	b, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)

	b, err = m.StartProgress(ctx, b.ID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, model.BreakInProgress, b.Status)

	b, err = m.Resolve(ctx, b.ID, model.ResolutionAdjustInternal, "booked correction", "analyst")
	require.NoError(t, err)
	assert.Equal(t, model.BreakResolved, b.Status)
	assert.Equal(t, "analyst", b.ResolvedBy)
	require.NotNil(t, b.ResolvedAt)

	// Second resolution attempt is rejected; the stored resolution stands.
	_, err = m.Resolve(ctx, b.ID, model.ResolutionDispute, "other", "analyst2")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	again, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ResolutionAdjustInternal, again.ResolutionAction)
	assert.Equal(t, "booked correction", again.ResolutionNotes)

	b, err = m.Close(ctx, b.ID, "analyst")
	require.NoError(t, err)
	assert.Equal(t, model.BreakClosed, b.Status)
}

func TestResolveRequiresActionNotesActor(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	b, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)

	_, err = m.Resolve(ctx, b.ID, "", "notes", "actor")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.Resolve(ctx, b.ID, model.ResolutionDispute, "", "actor")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.Resolve(ctx, b.ID, model.ResolutionDispute, "notes", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEscalateAndReassign(t *testing.T) {
	m, _, notifier := newTestManager()
	ctx := context.Background()

	b, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)

	b, err = m.Escalate(ctx, b.ID, "analyst", "stuck for a week")
	require.NoError(t, err)
	assert.Equal(t, model.BreakEscalated, b.Status)
	assert.Len(t, notifier.reasons, 1)

	// Assigning an escalated break returns it to in-progress.
	b, err = m.Assign(ctx, b.ID, "senior", "supervisor")
	require.NoError(t, err)
	assert.Equal(t, model.BreakInProgress, b.Status)
	assert.Equal(t, "senior", b.AssignedTo)
}

func TestCancelOnlyFromOpenOrInProgress(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	b, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, b.ID, "ops", "duplicate detection")
	require.NoError(t, err)
	assert.Equal(t, model.BreakClosed, cancelled.Status)
	require.NotNil(t, cancelled.ResolvedAt)

	// A closed break is terminal for every mutation.
	_, err = m.Cancel(ctx, b.ID, "ops", "again")
	assert.ErrorIs(t, err, ErrNotActionable)
	_, err = m.StartProgress(ctx, b.ID, "ops")
	assert.ErrorIs(t, err, ErrNotActionable)

	// Escalated breaks cannot be cancelled, only resolved or closed.
	b2, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)
	_, err = m.Escalate(ctx, b2.ID, "analyst", "reason")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, b2.ID, "ops", "nope")
	assert.ErrorIs(t, err, ErrNotActionable)
}

func TestSweepAgingAlertsSLABreaches(t *testing.T) {
	m, store, notifier := newTestManager()
	ctx := context.Background()

	critical, err := m.Raise(ctx, priceInput(20000))
	require.NoError(t, err)
	require.Equal(t, model.PriorityCritical, critical.Priority)

	high, err := m.Raise(ctx, Input{Scope: model.ScopeTrade, Type: model.BreakMissingTrade})
	require.NoError(t, err)
	require.Equal(t, model.PriorityHigh, high.Priority)

	fresh, err := m.Raise(ctx, priceInput(20000))
	require.NoError(t, err)

	// Age the first two past their SLA thresholds.
	backdate(store, critical.ID, 6)
	backdate(store, high.ID, 11)

	alerts, err := m.SweepAging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, alerts)
	assert.Len(t, notifier.reasons, 2)

	aged, err := m.Get(ctx, critical.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, aged.AgingDays)

	untouched, err := m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Zero(t, untouched.AgingDays)
}

func backdate(s *memStore, id uuid.UUID, days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.breaks[id]
	b.DetectedAt = b.DetectedAt.AddDate(0, 0, -days)
	s.breaks[id] = b
}

func TestAgingDaysNeverNegative(t *testing.T) {
	now := time.Now().UTC()
	assert.Equal(t, 0, AgingDays(now.Add(time.Hour), now))
	assert.Equal(t, 0, AgingDays(now, now))
	assert.Equal(t, 3, AgingDays(now.AddDate(0, 0, -3), now))
}

func TestVersionConflictSurfaces(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()

	b, err := m.Raise(ctx, priceInput(100))
	require.NoError(t, err)

	// Simulate a competing writer bumping the version underneath.
	store.mu.Lock()
	stale := store.breaks[b.ID]
	stale.Version++
	store.breaks[b.ID] = stale
	store.mu.Unlock()

	// The manager re-reads under its lock, so the next mutation sees the
	// new version and succeeds; force a conflict through the store
	// contract directly instead.
	err = store.Update(ctx, b, b.Version-1)
	assert.ErrorIs(t, err, ErrConflict)
}
