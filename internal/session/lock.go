package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcquireLock takes the run lock for a session on behalf of runID. A lock
// whose heartbeat is older than the store's lock timeout is reclaimed.
// Returns ErrLockHeld if another live run holds it.
//
// Acquisition is a single conditional UPDATE, so two processes racing for
// the same session cannot both win.
func (s *Store) AcquireLock(ctx context.Context, sessionID, runID string) error {
	db := s.db.WithContext(ctx)

	// Make sure the row exists.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.RunLock{
		SessionID: sessionID,
		Status:    models.LockReleased,
	}).Error; err != nil {
		return fmt.Errorf("session: acquire lock %s: seed: %w", sessionID, err)
	}

	now := time.Now()
	cutoff := now.Add(-s.lockTimeout)
	result := db.Model(&models.RunLock{}).
		Where("session_id = ? AND (status <> ? OR last_heartbeat < ?)", sessionID, models.LockActive, cutoff).
		Updates(map[string]interface{}{
			"run_id":         runID,
			"status":         models.LockActive,
			"last_heartbeat": now,
			"acquired_at":    now,
			"released_at":    nil,
		})
	if result.Error != nil {
		return fmt.Errorf("session: acquire lock %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var holder models.RunLock
	if err := db.Where("session_id = ?", sessionID).First(&holder).Error; err != nil {
		return fmt.Errorf("session: acquire lock %s: %w", sessionID, err)
	}
	return fmt.Errorf("%w: session %s busy with run %s", ErrLockHeld, sessionID, holder.RunID)
}

// ReleaseLock releases the lock held by runID.
func (s *Store) ReleaseLock(ctx context.Context, sessionID, runID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.RunLock{}).
		Where("session_id = ? AND run_id = ? AND status = ?", sessionID, runID, models.LockActive).
		Updates(map[string]interface{}{
			"status":      models.LockReleased,
			"released_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("session: release lock %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: release lock %s: run %s does not hold the lock", sessionID, runID)
	}
	return nil
}

// Heartbeat refreshes the lock held by runID.
func (s *Store) Heartbeat(ctx context.Context, sessionID, runID string) error {
	result := s.db.WithContext(ctx).Model(&models.RunLock{}).
		Where("session_id = ? AND run_id = ? AND status = ?", sessionID, runID, models.LockActive).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("session: heartbeat %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: heartbeat %s: run %s does not hold the lock", sessionID, runID)
	}
	return nil
}

// LockHolder returns the run currently holding the session lock, or "" if
// the lock is free or stale.
func (s *Store) LockHolder(ctx context.Context, sessionID string) (string, error) {
	var lock models.RunLock
	err := s.db.WithContext(ctx).Where("session_id = ? AND status = ? AND last_heartbeat >= ?",
		sessionID, models.LockActive, time.Now().Add(-s.lockTimeout)).First(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: lock holder %s: %w", sessionID, err)
	}
	return lock.RunID, nil
}
