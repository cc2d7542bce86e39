package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/model"
)

// BreakRepo persists reconciliation breaks. It satisfies breaks.Store.
type BreakRepo struct {
	db *gorm.DB
}

// NewBreakRepo constructs a break repository.
func NewBreakRepo(db *gorm.DB) *BreakRepo { return &BreakRepo{db: db} }

// Create inserts a new break.
func (r *BreakRepo) Create(ctx context.Context, b *model.ReconciliationBreak) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create break: %w", err)
	}
	return nil
}

// Get loads a break by ID.
func (r *BreakRepo) Get(ctx context.Context, id uuid.UUID) (*model.ReconciliationBreak, error) {
	var b model.ReconciliationBreak
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: break %s", breaks.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get break %s: %w", id, err)
	}
	return &b, nil
}

// Update writes the break only if the stored version still equals
// fromVersion. A version miss means another writer got there first.
func (r *BreakRepo) Update(ctx context.Context, b *model.ReconciliationBreak, fromVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.ReconciliationBreak{}).
		Where("id = ? AND version = ?", b.ID, fromVersion).
		Select("*").
		Updates(b)
	if res.Error != nil {
		return fmt.Errorf("update break %s: %w", b.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: break %s at version %d", breaks.ErrConflict, b.ID, fromVersion)
	}
	return nil
}

// ListActive returns breaks that can still change state.
func (r *BreakRepo) ListActive(ctx context.Context) ([]*model.ReconciliationBreak, error) {
	var out []*model.ReconciliationBreak
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.BreakStatus{model.BreakOpen, model.BreakInProgress, model.BreakEscalated}).
		Order("detected_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list active breaks: %w", err)
	}
	return out, nil
}

// ListOpenOlderThan returns active breaks detected at least the given
// number of days ago.
func (r *BreakRepo) ListOpenOlderThan(ctx context.Context, days int) ([]*model.ReconciliationBreak, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []*model.ReconciliationBreak
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.BreakStatus{model.BreakOpen, model.BreakInProgress, model.BreakEscalated}).
		Where("detected_at <= ?", cutoff).
		Order("detected_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list aged breaks: %w", err)
	}
	return out, nil
}

// BreaksDetectedBetween returns every break detected in the window,
// regardless of status. The report aggregator reads through this.
func (r *BreakRepo) BreaksDetectedBetween(ctx context.Context, from, to time.Time) ([]*model.ReconciliationBreak, error) {
	var out []*model.ReconciliationBreak
	err := r.db.WithContext(ctx).
		Where("detected_at >= ? AND detected_at < ?", from, to).
		Order("detected_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list breaks in window: %w", err)
	}
	return out, nil
}
