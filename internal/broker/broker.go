// Package broker tracks approval requests raised by gated worker calls.
// At most one request is pending per session; resolving it is a single
// conditional update, so concurrent resumes produce exactly one winner.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
)

// DefaultApprovalTTL is how long a request stays pending before it is
// treated as expired.
const DefaultApprovalTTL = 24 * time.Hour

// ErrNoPendingApproval is returned when a session has nothing to resolve.
var ErrNoPendingApproval = errors.New("broker: no pending approval")

// Broker persists approval requests.
type Broker struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// Opts holds parameters for creating a Broker.
type Opts struct {
	DB          *gorm.DB
	ApprovalTTL time.Duration // defaults to DefaultApprovalTTL
}

// New creates a Broker.
func New(opts Opts) (*Broker, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("broker: db is required")
	}
	ttl := opts.ApprovalTTL
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &Broker{db: opts.DB, ttl: ttl, now: time.Now}, nil
}

// Request records a pending approval for runID. Any request still pending
// for the session is superseded first, keeping at most one pending.
func (b *Broker) Request(ctx context.Context, sessionID, runID, action string) (*models.Interrupt, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("broker: request: session id is required")
	}
	if action == "" {
		return nil, fmt.Errorf("broker: request: action is required")
	}
	if len(action) > 512 {
		action = action[:509] + "..."
	}

	now := b.now()
	in := &models.Interrupt{
		SessionID:   sessionID,
		RunID:       runID,
		Action:      action,
		Status:      models.InterruptPending,
		RequestedAt: now,
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Interrupt{}).
			Where("session_id = ? AND status = ?", sessionID, models.InterruptPending).
			Updates(map[string]interface{}{"status": models.InterruptSuperseded, "resolved_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(in).Error
	})
	if err != nil {
		return nil, fmt.Errorf("broker: request %s: %w", sessionID, err)
	}
	return in, nil
}

// Pending returns the session's pending request. A request older than the
// approval TTL is marked expired and reported as absent.
func (b *Broker) Pending(ctx context.Context, sessionID string) (*models.Interrupt, error) {
	var in models.Interrupt
	err := b.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, models.InterruptPending).
		Order("id DESC").First(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoPendingApproval
	}
	if err != nil {
		return nil, fmt.Errorf("broker: pending %s: %w", sessionID, err)
	}
	if b.expired(in) {
		if _, err := b.transition(ctx, in.ID, models.InterruptExpired); err != nil {
			return nil, err
		}
		return nil, ErrNoPendingApproval
	}
	return &in, nil
}

// Resolve moves the session's pending request to approved or rejected and
// returns it. Of two concurrent callers exactly one succeeds; the other
// gets ErrNoPendingApproval.
func (b *Broker) Resolve(ctx context.Context, sessionID string, approved bool) (*models.Interrupt, error) {
	in, err := b.Pending(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	status := models.InterruptRejected
	if approved {
		status = models.InterruptApproved
	}
	won, err := b.transition(ctx, in.ID, status)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNoPendingApproval
	}
	in.Status = status
	now := b.now()
	in.ResolvedAt = &now
	return in, nil
}

// Reopen returns a request resolved by Resolve to pending, for a resume
// whose run could not start. It reports false if the request was not in a
// resolved state, for example because a newer turn superseded it.
func (b *Broker) Reopen(ctx context.Context, id uint) (bool, error) {
	result := b.db.WithContext(ctx).Model(&models.Interrupt{}).
		Where("id = ? AND status IN ?", id, []string{models.InterruptApproved, models.InterruptRejected}).
		Updates(map[string]interface{}{"status": models.InterruptPending, "resolved_at": nil})
	if result.Error != nil {
		return false, fmt.Errorf("broker: reopen %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Supersede cancels the session's pending request, if any, because a newer
// turn replaced it. Reports whether one was pending.
func (b *Broker) Supersede(ctx context.Context, sessionID string) (bool, error) {
	result := b.db.WithContext(ctx).Model(&models.Interrupt{}).
		Where("session_id = ? AND status = ?", sessionID, models.InterruptPending).
		Updates(map[string]interface{}{"status": models.InterruptSuperseded, "resolved_at": b.now()})
	if result.Error != nil {
		return false, fmt.Errorf("broker: supersede %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ExpireStale marks every pending request older than the TTL as expired.
func (b *Broker) ExpireStale(ctx context.Context) (int64, error) {
	now := b.now()
	result := b.db.WithContext(ctx).Model(&models.Interrupt{}).
		Where("status = ? AND requested_at < ?", models.InterruptPending, now.Add(-b.ttl)).
		Updates(map[string]interface{}{"status": models.InterruptExpired, "resolved_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("broker: expire stale: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// History returns every request for a session, oldest first.
func (b *Broker) History(ctx context.Context, sessionID string) ([]models.Interrupt, error) {
	var out []models.Interrupt
	if err := b.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("broker: history %s: %w", sessionID, err)
	}
	return out, nil
}

func (b *Broker) expired(in models.Interrupt) bool {
	return b.now().Sub(in.RequestedAt) > b.ttl
}

// transition moves one pending request to status. It reports false when
// the request was no longer pending.
func (b *Broker) transition(ctx context.Context, id uint, status string) (bool, error) {
	result := b.db.WithContext(ctx).Model(&models.Interrupt{}).
		Where("id = ? AND status = ?", id, models.InterruptPending).
		Updates(map[string]interface{}{"status": status, "resolved_at": b.now()})
	if result.Error != nil {
		return false, fmt.Errorf("broker: resolve %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}
