package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/settlement"
)

// InstructionRepo persists settlement instructions and their audit trail.
// It satisfies settlement.Store and settlement.AuditRecorder.
type InstructionRepo struct {
	db *gorm.DB
}

// NewInstructionRepo constructs an instruction repository.
func NewInstructionRepo(db *gorm.DB) *InstructionRepo { return &InstructionRepo{db: db} }

// Create inserts a new instruction.
func (r *InstructionRepo) Create(ctx context.Context, si *model.SettlementInstruction) error {
	if err := r.db.WithContext(ctx).Create(si).Error; err != nil {
		return fmt.Errorf("create instruction: %w", err)
	}
	return nil
}

// Get loads an instruction by ID.
func (r *InstructionRepo) Get(ctx context.Context, id uuid.UUID) (*model.SettlementInstruction, error) {
	var si model.SettlementInstruction
	err := r.db.WithContext(ctx).First(&si, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("instruction %s: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get instruction %s: %w", id, err)
	}
	return &si, nil
}

// Update writes the instruction only if the stored version still equals
// fromVersion.
func (r *InstructionRepo) Update(ctx context.Context, si *model.SettlementInstruction, fromVersion int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.SettlementInstruction{}).
		Where("id = ? AND version = ?", si.ID, fromVersion).
		Select("*").
		Updates(si)
	if res.Error != nil {
		return fmt.Errorf("update instruction %s: %w", si.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: instruction %s at version %d", settlement.ErrConflict, si.ID, fromVersion)
	}
	return nil
}

// ListByState returns instructions currently in the given state. The state
// tag lives inside the status JSON document.
func (r *InstructionRepo) ListByState(ctx context.Context, state model.StateKind) ([]*model.SettlementInstruction, error) {
	var out []*model.SettlementInstruction
	err := r.db.WithContext(ctx).
		Where("status LIKE ?", fmt.Sprintf(`%%"state":%q%%`, string(state))).
		Order("settlement_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list instructions by state %s: %w", state, err)
	}
	return out, nil
}

// InstructionsSettlingBetween returns instructions whose settlement date
// falls inside the window.
func (r *InstructionRepo) InstructionsSettlingBetween(ctx context.Context, from, to time.Time) ([]*model.SettlementInstruction, error) {
	var out []*model.SettlementInstruction
	err := r.db.WithContext(ctx).
		Where("settlement_date >= ? AND settlement_date < ?", from, to).
		Order("settlement_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list instructions in window: %w", err)
	}
	return out, nil
}

// Record appends one audit entry.
func (r *InstructionRepo) Record(ctx context.Context, entry model.SettlementAudit) error {
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// AuditTrail returns the transition history for one instruction in order.
func (r *InstructionRepo) AuditTrail(ctx context.Context, instructionID uuid.UUID) ([]*model.SettlementAudit, error) {
	var out []*model.SettlementAudit
	err := r.db.WithContext(ctx).
		Where("instruction_id = ?", instructionID).
		Order("recorded_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("audit trail for %s: %w", instructionID, err)
	}
	return out, nil
}
