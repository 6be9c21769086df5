// Package session is the durable record of conversations: sessions, their
// append-only turns, suspended-run checkpoints, and the per-session run lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
)

// Default configuration values for Store.
const (
	DefaultMaxTurnsPerSession = 200
	DefaultLockTimeout        = 90 * time.Second
)

var (
	// ErrNotFound is returned when a session or checkpoint does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrMaxTurns is returned when a session has no room for another turn.
	ErrMaxTurns = errors.New("session: max turns exceeded")
	// ErrOwnerSet is returned when assigning a different owner to an owned session.
	ErrOwnerSet = errors.New("session: owner already set")
	// ErrLockHeld is returned when another run holds the session lock.
	ErrLockHeld = errors.New("session: run lock held")
)

// Store persists sessions and everything hanging off them.
type Store struct {
	db          *gorm.DB
	maxTurns    int
	lockTimeout time.Duration
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB                 *gorm.DB
	MaxTurnsPerSession int           // defaults to DefaultMaxTurnsPerSession
	LockTimeout        time.Duration // defaults to DefaultLockTimeout
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: store: db is required")
	}
	maxTurns := opts.MaxTurnsPerSession
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurnsPerSession
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Store{db: opts.DB, maxTurns: maxTurns, lockTimeout: timeout}, nil
}

// LockTimeout returns the heartbeat age after which a lock is reclaimable.
func (s *Store) LockTimeout() time.Duration { return s.lockTimeout }

// Create inserts a new session. An empty id mints a fresh one.
func (s *Store) Create(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		id = uuid.NewString()
	}
	sess := &models.ChatSession{ID: id, ThreadID: uuid.NewString()}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return nil, fmt.Errorf("session: create %s: %w", id, err)
	}
	return sess, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	var sess models.ChatSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &sess, nil
}

// GetOrCreate loads the session or creates it under the supplied id. The
// boolean reports whether a new session was created.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*models.ChatSession, bool, error) {
	if id != "" {
		sess, err := s.Get(ctx, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	sess, err := s.Create(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// SetOwner assigns the owner of a session exactly once. Assigning the same
// owner again is a no-op.
func (s *Store) SetOwner(ctx context.Context, id, ownerID string) error {
	res := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND owner_id IS NULL", id).
		Update("owner_id", ownerID)
	if res.Error != nil {
		return fmt.Errorf("session: set owner %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.OwnerID != nil && *sess.OwnerID == ownerID {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrOwnerSet, id)
}

// MarkNeedsReset flags or clears a session whose checkpoint could not be decoded.
func (s *Store) MarkNeedsReset(ctx context.Context, id string, v bool) error {
	if err := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", id).Update("needs_reset", v).Error; err != nil {
		return fmt.Errorf("session: mark needs_reset %s: %w", id, err)
	}
	return nil
}

// Summary is one row of a session listing.
type Summary struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns the owner's sessions, most recently updated first. The title
// is the first user turn and the preview the last turn.
func (s *Store) List(ctx context.Context, ownerID string) ([]Summary, error) {
	var sessions []models.ChatSession
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: list %s: %w", ownerID, err)
	}

	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		sum := Summary{SessionID: sess.ID, Title: "New conversation", UpdatedAt: sess.UpdatedAt}

		var first models.Turn
		err := s.db.WithContext(ctx).Where("session_id = ? AND role = ?", sess.ID, models.RoleUser).
			Order("sequence ASC").First(&first).Error
		if err == nil {
			sum.Title = truncate(first.Content, 40)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session: list title %s: %w", sess.ID, err)
		}

		var last models.Turn
		err = s.db.WithContext(ctx).Where("session_id = ?", sess.ID).
			Order("sequence DESC").First(&last).Error
		if err == nil {
			sum.Preview = truncate(last.Content, 80)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session: list preview %s: %w", sess.ID, err)
		}
		out = append(out, sum)
	}
	return out, nil
}

// Delete removes a session and everything keyed by it.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.Turn{}).Error; err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		if err := tx.Where("thread_id = ?", sess.ThreadID).Delete(&models.Checkpoint{}).Error; err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Interrupt{}).Error; err != nil {
			return fmt.Errorf("delete interrupts: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.RunLock{}).Error; err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.ChatSession{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// truncate shortens s to at most n runes, appending "..." when cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
