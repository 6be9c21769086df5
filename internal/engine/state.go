package engine

import "fmt"

// State is a run's position in the orchestration state machine.
type State string

// Run states.
const (
	Idle             State = "IDLE"
	Routing          State = "ROUTING"
	Executing        State = "EXECUTING"
	AwaitingApproval State = "AWAITING_APPROVAL"
	Completed        State = "COMPLETED"
	Failed           State = "FAILED"
)

var transitions = map[State][]State{
	Idle:             {Routing, Failed},
	Routing:          {Executing, Completed, Failed},
	Executing:        {AwaitingApproval, Completed, Failed},
	AwaitingApproval: {Executing, Completed, Failed},
	Completed:        {Idle},
	Failed:           {Idle},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == Completed || s == Failed }

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
