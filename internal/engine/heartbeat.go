package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/jobscout/internal/session"
)

// DefaultHeartbeatInterval is the default interval between run lock
// refreshes.
const DefaultHeartbeatInterval = 10 * time.Second

// StartHeartbeat launches a goroutine that periodically refreshes the run
// lock held by runID. It returns a channel that receives an error if the
// lock was lost or could not be refreshed. The goroutine exits when ctx is
// cancelled.
func StartHeartbeat(ctx context.Context, store *session.Store, sessionID, runID string, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.Heartbeat(ctx, sessionID, runID); err != nil {
					if ctx.Err() != nil {
						return
					}
					errCh <- fmt.Errorf("engine: heartbeat %s: %w", sessionID, err)
					return
				}
			}
		}
	}()

	return errCh
}
