package search

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Guard disables a provider for a cooldown period after consecutive
// failures, so a dead provider fails fast and its fallback runs at once.
type Guard struct {
	mu            sync.Mutex
	maxFailures   int
	cooldown      time.Duration
	failures      int
	disabledUntil time.Time
	now           func() time.Time
}

// NewGuard creates a Guard. maxFailures <= 0 never trips.
func NewGuard(maxFailures int, cooldown time.Duration) *Guard {
	return &Guard{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Allow reports whether calls may proceed.
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabledUntil.IsZero() || g.now().After(g.disabledUntil)
}

// Record updates the failure count from a call result.
func (g *Guard) Record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		g.failures = 0
		g.disabledUntil = time.Time{}
		return
	}
	if g.maxFailures <= 0 {
		return
	}
	g.failures++
	if g.failures >= g.maxFailures {
		g.disabledUntil = g.now().Add(g.cooldown)
	}
}

// GuardedSearcher wraps a Searcher with a Guard.
type GuardedSearcher struct {
	Searcher
	guard *Guard
}

// WithGuard wraps s so it fails fast while g is tripped.
func WithGuard(s Searcher, g *Guard) *GuardedSearcher {
	return &GuardedSearcher{Searcher: s, guard: g}
}

// Search runs the wrapped search unless the guard is tripped.
func (gs *GuardedSearcher) Search(ctx context.Context, query string, max int) ([]Record, error) {
	if !gs.guard.Allow() {
		return nil, fmt.Errorf("%w: %s: cooling down after repeated failures", ErrUnavailable, gs.Name())
	}
	recs, err := gs.Searcher.Search(ctx, query, max)
	if ctx.Err() == nil {
		gs.guard.Record(err)
	}
	return recs, err
}
