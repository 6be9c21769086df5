package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/profile"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/worker"
)

// ExecutionContext is the working state of a session, rebuilt from the
// store whenever it is not cached. Values are never mutated once cached;
// a run that changes the session drops the entry instead.
type ExecutionContext struct {
	SessionID   string
	ThreadID    string
	OwnerID     string
	Profile     *worker.Profile
	Preferences worker.Preferences
	Candidates  []worker.Candidate // latest result set
	LoadedAt    time.Time
}

// candidatesPayload is the payload of result turns.
type candidatesPayload struct {
	Candidates []worker.Candidate `json:"candidates"`
}

// profilePayload is the payload of profile_summary turns.
type profilePayload struct {
	OwnerID string         `json:"owner_id"`
	Profile worker.Profile `json:"profile"`
}

// approvalPayload is the payload of approval_request turns.
type approvalPayload struct {
	Worker string        `json:"worker"`
	Action worker.Action `json:"action"`
}

// execContext returns the session's ExecutionContext, loading it on a miss.
// Concurrent misses for one session share a single load.
func (e *Engine) execContext(ctx context.Context, sessionID string) (*ExecutionContext, error) {
	return e.cache.GetOrLoad(sessionID, func() (*ExecutionContext, error) {
		return e.reconstruct(ctx, sessionID)
	})
}

// reconstruct rebuilds a session's ExecutionContext from the store alone.
func (e *Engine) reconstruct(ctx context.Context, sessionID string) (*ExecutionContext, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ec := &ExecutionContext{
		SessionID:   sess.ID,
		ThreadID:    sess.ThreadID,
		Preferences: worker.DefaultPreferences(),
		LoadedAt:    time.Now(),
	}

	if sess.OwnerID != nil {
		ec.OwnerID = *sess.OwnerID
		p, err := e.profiles.Get(ctx, ec.OwnerID)
		switch {
		case err == nil:
			ec.Profile = p
		case !errors.Is(err, profile.ErrNotFound):
			return nil, fmt.Errorf("engine: reconstruct %s: %w", sessionID, err)
		}
		prefs, err := e.profiles.Preferences(ctx, ec.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("engine: reconstruct %s: %w", sessionID, err)
		}
		ec.Preferences = prefs
	}

	turn, err := e.store.LastOfKind(ctx, sessionID, models.KindResultSelection, models.KindEnrichedResults)
	switch {
	case err == nil:
		var p candidatesPayload
		if turn.Payload != "" {
			if err := json.Unmarshal([]byte(turn.Payload), &p); err != nil {
				return nil, fmt.Errorf("engine: reconstruct %s: results turn %d: %w", sessionID, turn.Sequence, err)
			}
		}
		ec.Candidates = p.Candidates
	case !errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("engine: reconstruct %s: %w", sessionID, err)
	}

	return ec, nil
}
