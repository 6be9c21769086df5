package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveCheckpoint upserts the suspended-run snapshot for a thread.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "run_id", "version", "data", "updated_at"}),
	}).Create(cp)
	if result.Error != nil {
		return fmt.Errorf("session: save checkpoint %s: %w", cp.ThreadID, result.Error)
	}
	return nil
}

// LoadCheckpoint returns the snapshot for a thread, or ErrNotFound.
func (s *Store) LoadCheckpoint(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: checkpoint for thread %s", ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load checkpoint %s: %w", threadID, err)
	}
	return &cp, nil
}

// ClearCheckpoint removes the snapshot for a thread. Clearing a missing
// checkpoint is not an error.
func (s *Store) ClearCheckpoint(ctx context.Context, threadID string) error {
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).
		Delete(&models.Checkpoint{}).Error; err != nil {
		return fmt.Errorf("session: clear checkpoint %s: %w", threadID, err)
	}
	return nil
}
