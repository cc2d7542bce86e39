package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cleargate/reconengine/internal/model"
)

// ErrSnapshotNotFound is returned when no snapshot matches a lookup.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepo persists position snapshots, cash balances, and nostro
// statements. Snapshots are immutable once saved.
type SnapshotRepo struct {
	db *gorm.DB
}

// NewSnapshotRepo constructs a snapshot repository.
func NewSnapshotRepo(db *gorm.DB) *SnapshotRepo { return &SnapshotRepo{db: db} }

// SavePositionSnapshot inserts a snapshot with its records.
func (r *SnapshotRepo) SavePositionSnapshot(ctx context.Context, snap *model.PositionSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("save position snapshot: %w", err)
	}
	return nil
}

// LatestPositionSnapshot returns the most recent snapshot for an account
// from one source at or before asOf.
func (r *SnapshotRepo) LatestPositionSnapshot(ctx context.Context, accountID string, source model.ConfirmationSource, asOf time.Time) (*model.PositionSnapshot, error) {
	var snap model.PositionSnapshot
	err := r.db.WithContext(ctx).
		Preload("Records").
		Where("account_id = ? AND source = ? AND as_of <= ?", accountID, source, asOf).
		Order("as_of DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: positions for %s/%s", ErrSnapshotNotFound, accountID, source)
	}
	if err != nil {
		return nil, fmt.Errorf("load position snapshot %s: %w", accountID, err)
	}
	return &snap, nil
}

// SaveCashBalance inserts a balance with its movements.
func (r *SnapshotRepo) SaveCashBalance(ctx context.Context, bal *model.CashBalance) error {
	if err := r.db.WithContext(ctx).Create(bal).Error; err != nil {
		return fmt.Errorf("save cash balance: %w", err)
	}
	return nil
}

// LatestCashBalance returns the most recent balance for an account and
// currency from one source at or before asOf.
func (r *SnapshotRepo) LatestCashBalance(ctx context.Context, accountID, currency string, source model.ConfirmationSource, asOf time.Time) (*model.CashBalance, error) {
	var bal model.CashBalance
	err := r.db.WithContext(ctx).
		Preload("Movements").
		Where("account_id = ? AND currency = ? AND source = ? AND as_of <= ?", accountID, currency, source, asOf).
		Order("as_of DESC").
		First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: cash for %s/%s/%s", ErrSnapshotNotFound, accountID, currency, source)
	}
	if err != nil {
		return nil, fmt.Errorf("load cash balance %s: %w", accountID, err)
	}
	return &bal, nil
}

// SaveNostroStatement inserts a nostro statement with its movements.
func (r *SnapshotRepo) SaveNostroStatement(ctx context.Context, stmt *model.NostroStatement) error {
	if err := r.db.WithContext(ctx).Create(stmt).Error; err != nil {
		return fmt.Errorf("save nostro statement: %w", err)
	}
	return nil
}

// LatestNostroStatement returns the most recent statement for an account
// at or before asOf.
func (r *SnapshotRepo) LatestNostroStatement(ctx context.Context, accountID string, asOf time.Time) (*model.NostroStatement, error) {
	var stmt model.NostroStatement
	err := r.db.WithContext(ctx).
		Preload("Movements").
		Where("account_id = ? AND as_of <= ?", accountID, asOf).
		Order("as_of DESC").
		First(&stmt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: nostro statement for %s", ErrSnapshotNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("load nostro statement %s: %w", accountID, err)
	}
	return &stmt, nil
}
