package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cleargate/reconengine/internal/model"
)

// MatchRepo persists trades, confirmations, and match results.
type MatchRepo struct {
	db *gorm.DB
}

// NewMatchRepo constructs a match repository.
func NewMatchRepo(db *gorm.DB) *MatchRepo { return &MatchRepo{db: db} }

// SaveTrades upserts a batch of internal trades.
func (r *MatchRepo) SaveTrades(ctx context.Context, trades []*model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Save(trades).Error; err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	return nil
}

// SaveConfirmations upserts a batch of external confirmations.
func (r *MatchRepo) SaveConfirmations(ctx context.Context, confs []*model.Confirmation) error {
	if len(confs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Save(confs).Error; err != nil {
		return fmt.Errorf("save confirmations: %w", err)
	}
	return nil
}

// SaveResults inserts the match results of one run. Results are immutable
// once written; a rematch writes new rows linked by prior_result_id.
func (r *MatchRepo) SaveResults(ctx context.Context, results []*model.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(results).Error; err != nil {
		return fmt.Errorf("save match results: %w", err)
	}
	return nil
}

// MatchResultsForRun returns all results written by one matching run.
func (r *MatchRepo) MatchResultsForRun(ctx context.Context, runID string) ([]*model.MatchResult, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	var out []*model.MatchResult
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", id).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list results for run %s: %w", runID, err)
	}
	return out, nil
}

// LatestResultByTrade returns the most recent result for a trade, or nil
// when the trade has never been matched.
func (r *MatchRepo) LatestResultByTrade(ctx context.Context, tradeID uuid.UUID) (*model.MatchResult, error) {
	var out []*model.MatchResult
	if err := r.db.WithContext(ctx).
		Where("trade_id = ?", tradeID).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("latest result for trade %s: %w", tradeID, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// TradesForDate returns trades executed on the given date.
func (r *MatchRepo) TradesForDate(ctx context.Context, date time.Time) ([]*model.Trade, error) {
	day := date.Truncate(24 * time.Hour)
	var out []*model.Trade
	if err := r.db.WithContext(ctx).
		Where("trade_date >= ? AND trade_date < ?", day, day.AddDate(0, 0, 1)).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("trades for %s: %w", day.Format("2006-01-02"), err)
	}
	return out, nil
}

// ConfirmationsForDate returns confirmations whose trade date matches.
func (r *MatchRepo) ConfirmationsForDate(ctx context.Context, date time.Time) ([]*model.Confirmation, error) {
	day := date.Truncate(24 * time.Hour)
	var out []*model.Confirmation
	if err := r.db.WithContext(ctx).
		Where("trade_date >= ? AND trade_date < ?", day, day.AddDate(0, 0, 1)).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("confirmations for %s: %w", day.Format("2006-01-02"), err)
	}
	return out, nil
}
