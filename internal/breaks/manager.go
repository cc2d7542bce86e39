// Package breaks manages reconciliation breaks: creation, categorization,
// prioritization, routing, aging, resolution, cancellation, and escalation.
// All break mutations flow through the Manager under per-break mutual
// exclusion; breaks are never physically deleted.
package breaks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/metrics"
	"github.com/cleargate/reconengine/internal/model"
)

// Sentinel errors for business-rule violations and concurrency conflicts.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("break not found")
	ErrTerminal        = errors.New("break is closed")
	ErrNotActionable   = errors.New("break is not in an actionable status")
	ErrAlreadyResolved = errors.New("break already resolved")
	ErrConflict        = errors.New("break version conflict")
)

// Store is the persistence collaborator for breaks. Update must apply
// optimistic locking against fromVersion and return ErrConflict when the
// stored version moved.
type Store interface {
	Create(ctx context.Context, b *model.ReconciliationBreak) error
	Get(ctx context.Context, id uuid.UUID) (*model.ReconciliationBreak, error)
	Update(ctx context.Context, b *model.ReconciliationBreak, fromVersion int64) error
	ListActive(ctx context.Context) ([]*model.ReconciliationBreak, error)
	ListOpenOlderThan(ctx context.Context, days int) ([]*model.ReconciliationBreak, error)
}

// Notifier delivers fire-and-forget alerts for escalations and SLA
// breaches.
type Notifier interface {
	Notify(ctx context.Context, subject, recipient, reason string)
}

// Input describes a newly detected discrepancy.
type Input struct {
	Scope           model.BreakScope
	Type            model.BreakType
	DetectionMethod string
	TradeID         *uuid.UUID
	InstructionID   *uuid.UUID
	AccountID       string
	SecurityID      string
	InternalValue   string
	ExternalValue   string
	Discrepancy     decimal.Decimal
	EstimatedImpact decimal.Decimal
	Currency        string
	AssignTo        string
}

// AgingThresholds control when an open break triggers an SLA alert.
type AgingThresholds struct {
	CriticalDays int
	HighDays     int
}

// DefaultAgingThresholds alerts critical breaks at 5 days and high at 10.
func DefaultAgingThresholds() AgingThresholds {
	return AgingThresholds{CriticalDays: 5, HighDays: 10}
}

// CriticalImpactThreshold is the estimated-impact level above which a price
// discrepancy is critical, in currency units.
var CriticalImpactThreshold = decimal.NewFromInt(10000)

// Manager is the mutable-state authority for breaks.
type Manager struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	aging    AgingThresholds
	now      func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewManager constructs a break manager.
func NewManager(store Store, notifier Notifier, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger,
		aging:    DefaultAgingThresholds(),
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockFor returns the per-break mutex, creating it on first use. The same
// break may be concurrently touched by an aging sweep and a manual action;
// last-writer-wins is not acceptable.
func (m *Manager) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Raise creates a break from a detected discrepancy, classifying its
// priority at creation.
func (m *Manager) Raise(ctx context.Context, in Input) (*model.ReconciliationBreak, error) {
	if in.Scope == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: scope and type are required", ErrValidation)
	}
	now := m.now().UTC()
	b := &model.ReconciliationBreak{
		ID:              uuid.New(),
		Scope:           in.Scope,
		Type:            in.Type,
		Priority:        m.classifyPriority(in.Type, in.EstimatedImpact),
		Status:          model.BreakOpen,
		DetectionMethod: in.DetectionMethod,
		TradeID:         in.TradeID,
		InstructionID:   in.InstructionID,
		AccountID:       in.AccountID,
		SecurityID:      in.SecurityID,
		InternalValue:   in.InternalValue,
		ExternalValue:   in.ExternalValue,
		Discrepancy:     in.Discrepancy,
		EstimatedImpact: in.EstimatedImpact,
		Currency:        in.Currency,
		AssignedTo:      in.AssignTo,
		DetectedAt:      now,
		AgingDays:       0,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create break: %w", err)
	}
	metrics.BreaksRaised.WithLabelValues(string(b.Type), string(b.Priority)).Inc()
	m.logger.Info("break raised",
		zap.String("break_id", b.ID.String()),
		zap.String("scope", string(b.Scope)),
		zap.String("type", string(b.Type)),
		zap.String("priority", string(b.Priority)))
	return b, nil
}

// classifyPriority applies the creation-time priority policy. It can be
// re-evaluated later through Reprioritize.
func (m *Manager) classifyPriority(t model.BreakType, impact decimal.Decimal) model.BreakPriority {
	switch t {
	case model.BreakPriceDiscrepancy:
		if impact.GreaterThan(CriticalImpactThreshold) {
			return model.PriorityCritical
		}
	case model.BreakMissingTrade, model.BreakSettlementDateMismatch:
		return model.PriorityHigh
	case model.BreakCommissionDiscrepancy:
		return model.PriorityLow
	}
	return model.PriorityMedium
}

// mutate applies fn to the break under its lock and persists the change
// with an optimistic version check.
func (m *Manager) mutate(ctx context.Context, id uuid.UUID, fn func(*model.ReconciliationBreak) error) (*model.ReconciliationBreak, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	b, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fromVersion := b.Version
	if err := fn(b); err != nil {
		return nil, err
	}
	b.Version = fromVersion + 1
	b.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, b, fromVersion); err != nil {
		return nil, err
	}
	return b, nil
}

var legalTransitions = map[model.BreakStatus][]model.BreakStatus{
	model.BreakOpen:       {model.BreakInProgress, model.BreakResolved, model.BreakEscalated, model.BreakClosed},
	model.BreakInProgress: {model.BreakResolved, model.BreakEscalated, model.BreakClosed},
	model.BreakEscalated:  {model.BreakInProgress, model.BreakResolved, model.BreakClosed},
	model.BreakResolved:   {model.BreakClosed},
}

func canTransition(from, to model.BreakStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Assign routes a break to an owner. Assigning an escalated break returns
// it to IN_PROGRESS under the new assignment.
func (m *Manager) Assign(ctx context.Context, id uuid.UUID, assignee, actor string) (*model.ReconciliationBreak, error) {
	if assignee == "" || actor == "" {
		return nil, fmt.Errorf("%w: assignee and actor are required", ErrValidation)
	}
	return m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if b.Terminal() {
			return fmt.Errorf("%w: cannot assign break %s", ErrTerminal, b.ID)
		}
		b.AssignedTo = assignee
		if b.Status == model.BreakEscalated {
			b.Status = model.BreakInProgress
		}
		return nil
	})
}

// StartProgress moves an open break into IN_PROGRESS.
func (m *Manager) StartProgress(ctx context.Context, id uuid.UUID, actor string) (*model.ReconciliationBreak, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	return m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if !canTransition(b.Status, model.BreakInProgress) {
			return fmt.Errorf("%w: cannot start progress from %s", ErrNotActionable, b.Status)
		}
		b.Status = model.BreakInProgress
		return nil
	})
}

// Escalate raises the break to ESCALATED and notifies the escalation queue.
func (m *Manager) Escalate(ctx context.Context, id uuid.UUID, actor, reason string) (*model.ReconciliationBreak, error) {
	if actor == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required", ErrValidation)
	}
	b, err := m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if !canTransition(b.Status, model.BreakEscalated) {
			return fmt.Errorf("%w: cannot escalate from %s", ErrNotActionable, b.Status)
		}
		b.Status = model.BreakEscalated
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BreaksEscalated.Inc()
	if m.notifier != nil {
		m.notifier.Notify(ctx, b.ID.String(), b.AssignedTo, reason)
	}
	return b, nil
}

// Resolve closes out a break's investigation. It requires an explicit
// resolution action, notes, and an actor identity, and is only legal from
// OPEN, IN_PROGRESS, or ESCALATED. A second resolution attempt is rejected;
// re-reading a resolved break returns the same resolution metadata.
func (m *Manager) Resolve(ctx context.Context, id uuid.UUID, action model.ResolutionAction, notes, actor string) (*model.ReconciliationBreak, error) {
	if action == "" || notes == "" || actor == "" {
		return nil, fmt.Errorf("%w: resolution action, notes, and actor are required", ErrValidation)
	}
	b, err := m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if b.Status == model.BreakResolved {
			return fmt.Errorf("%w: break %s", ErrAlreadyResolved, b.ID)
		}
		if !b.Actionable() {
			return fmt.Errorf("%w: cannot resolve from %s", ErrNotActionable, b.Status)
		}
		now := m.now().UTC()
		b.Status = model.BreakResolved
		b.ResolutionAction = action
		b.ResolutionNotes = notes
		b.ResolvedBy = actor
		b.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BreaksResolved.WithLabelValues(string(action)).Inc()
	m.logger.Info("break resolved",
		zap.String("break_id", b.ID.String()),
		zap.String("action", string(action)),
		zap.String("actor", actor))
	return b, nil
}

// Cancel closes a break without resolution. Cancellation is a status
// transition to CLOSED, not a deletion, and requires an actor and a reason
// for audit.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*model.ReconciliationBreak, error) {
	if actor == "" || reason == "" {
		return nil, fmt.Errorf("%w: actor and reason are required", ErrValidation)
	}
	return m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if b.Status != model.BreakOpen && b.Status != model.BreakInProgress {
			return fmt.Errorf("%w: cannot cancel from %s", ErrNotActionable, b.Status)
		}
		now := m.now().UTC()
		b.Status = model.BreakClosed
		b.ResolutionNotes = reason
		b.ResolvedBy = actor
		b.ResolvedAt = &now
		return nil
	})
}

// Close moves a resolved or escalated break to the terminal CLOSED status.
func (m *Manager) Close(ctx context.Context, id uuid.UUID, actor string) (*model.ReconciliationBreak, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}
	return m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if !canTransition(b.Status, model.BreakClosed) {
			return fmt.Errorf("%w: cannot close from %s", ErrNotActionable, b.Status)
		}
		b.Status = model.BreakClosed
		return nil
	})
}

// Reprioritize re-evaluates the creation-time priority policy against the
// break's current figures.
func (m *Manager) Reprioritize(ctx context.Context, id uuid.UUID) (*model.ReconciliationBreak, error) {
	return m.mutate(ctx, id, func(b *model.ReconciliationBreak) error {
		if b.Terminal() {
			return fmt.Errorf("%w: cannot reprioritize break %s", ErrTerminal, b.ID)
		}
		b.Priority = m.classifyPriority(b.Type, b.EstimatedImpact)
		return nil
	})
}

// Get returns a break by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*model.ReconciliationBreak, error) {
	return m.store.Get(ctx, id)
}

// SweepAging recomputes agingDays for every non-terminal break and alerts
// when a critical or high break exceeds its SLA threshold. Returns the
// number of alerts raised.
func (m *Manager) SweepAging(ctx context.Context) (int, error) {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active breaks: %w", err)
	}
	alerts := 0
	for _, stale := range active {
		b, err := m.mutate(ctx, stale.ID, func(b *model.ReconciliationBreak) error {
			if b.Terminal() || b.Status == model.BreakResolved {
				return fmt.Errorf("%w: break %s", ErrTerminal, b.ID)
			}
			b.AgingDays = AgingDays(b.DetectedAt, m.now())
			return nil
		})
		if err != nil {
			// A break resolved mid-sweep is fine; skip it.
			if errors.Is(err, ErrTerminal) || errors.Is(err, ErrConflict) {
				continue
			}
			return alerts, err
		}
		if m.breachesSLA(b) {
			alerts++
			metrics.AgingAlerts.WithLabelValues(string(b.Priority)).Inc()
			if m.notifier != nil {
				m.notifier.Notify(ctx, b.ID.String(), b.AssignedTo,
					fmt.Sprintf("break aging %d days at priority %s", b.AgingDays, b.Priority))
			}
		}
	}
	return alerts, nil
}

func (m *Manager) breachesSLA(b *model.ReconciliationBreak) bool {
	switch b.Priority {
	case model.PriorityCritical:
		return b.AgingDays >= m.aging.CriticalDays
	case model.PriorityHigh:
		return b.AgingDays >= m.aging.HighDays
	}
	return false
}

// AgingDays is the whole number of days since detection, never negative.
func AgingDays(detectedAt, now time.Time) int {
	days := int(now.Sub(detectedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
