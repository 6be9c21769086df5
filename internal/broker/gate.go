package broker

import (
	"context"
	"sync"

	"github.com/zulandar/jobscout/internal/worker"
)

// Gate is the Approver handed to a worker for one orchestration run. The
// first gated call of an ungranted run suspends it; once the run has been
// granted every later call proceeds on its own.
type Gate struct {
	// OnAuto, when set, is called for every call that proceeds without
	// asking the user.
	OnAuto func(a worker.Action)

	mu      sync.Mutex
	granted bool
	auto    int
}

// NewGate returns a Gate. granted is true for a run that was already
// approved, or for unattended runs that are approved up front.
func NewGate(granted bool) *Gate {
	return &Gate{granted: granted}
}

// Approve implements worker.Approver.
func (g *Gate) Approve(_ context.Context, a worker.Action) error {
	g.mu.Lock()
	if !g.granted {
		g.mu.Unlock()
		return &worker.InterruptSignal{Action: a}
	}
	g.auto++
	onAuto := g.OnAuto
	g.mu.Unlock()

	if onAuto != nil {
		onAuto(a)
	}
	return nil
}

// AutoApproved returns how many calls proceeded without asking.
func (g *Gate) AutoApproved() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auto
}
