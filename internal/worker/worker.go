// Package worker defines the contract every delegated task satisfies and
// the workers that implement it.
//
// A worker runs against a Task. Every side-effecting external call goes
// through Do, which asks the Approver first and records the call's output in
// the Task. When the Approver answers with an *InterruptSignal the worker
// returns it unchanged; the caller persists the Task and later runs the
// worker again with the same Task. Completed calls then replay from the
// record instead of executing twice.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/jobscout/internal/search"
)

var (
	// ErrInputInvalid is returned when a worker's input cannot be processed.
	ErrInputInvalid = errors.New("worker: invalid input")
	// ErrExternalUnavailable is returned when an external capability failed
	// and no fallback recovered.
	ErrExternalUnavailable = errors.New("worker: external capability unavailable")
	// ErrApprovalRejected is returned by an Approver when the user declined.
	ErrApprovalRejected = errors.New("worker: approval rejected")
	// ErrReplayMismatch is returned when a recorded step does not match the
	// call being replayed.
	ErrReplayMismatch = errors.New("worker: checkpoint replay mismatch")
)

// Action describes one gated external call.
type Action struct {
	Kind     string `json:"kind"`     // search, fetch
	Provider string `json:"provider"` // tavily, brave, firecrawl, direct
	Target   string `json:"target"`   // query or URL
	Label    string `json:"label"`    // user-facing progress text
}

// Key identifies the call within a Task.
func (a Action) Key() string { return a.Kind + ":" + a.Provider + ":" + a.Target }

// Approver decides whether a gated call may proceed. It returns nil to
// proceed, an *InterruptSignal to suspend, or an error wrapping
// ErrApprovalRejected.
type Approver interface {
	Approve(ctx context.Context, a Action) error
}

// InterruptSignal suspends a worker pending a human decision.
type InterruptSignal struct {
	Action Action
}

func (s *InterruptSignal) Error() string {
	return fmt.Sprintf("worker: approval required: %s", s.Action.Label)
}

// AsInterrupt reports whether err is an InterruptSignal.
func AsInterrupt(err error) (*InterruptSignal, bool) {
	var sig *InterruptSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}

// Emitter receives progress from a running worker.
type Emitter interface {
	Status(stage, message string)
	Event(kind, message string)
}

// NopEmitter discards progress.
type NopEmitter struct{}

func (NopEmitter) Status(string, string) {}
func (NopEmitter) Event(string, string)  {}

// Worker is a delegated task.
type Worker interface {
	Name() string
	// Accepts reports whether in carries what the worker needs.
	Accepts(in Input) bool
	Run(ctx context.Context, t *Task, ap Approver, em Emitter) (*Result, error)
}

// Step is the recorded outcome of one gated call.
type Step struct {
	Key         string          `json:"key"`
	Output      json.RawMessage `json:"output,omitempty"`
	Err         string          `json:"err,omitempty"`
	Unavailable bool            `json:"unavailable,omitempty"`
}

// Task is a worker invocation and its progress through gated calls.
type Task struct {
	Worker string `json:"worker"`
	Input  Input  `json:"input"`
	Steps  []Step `json:"steps,omitempty"`

	cursor int
}

// NewTask creates a Task for the named worker.
func NewTask(worker string, in Input) *Task {
	return &Task{Worker: worker, Input: in}
}

// Rewind restarts replay from the first recorded step.
func (t *Task) Rewind() { t.cursor = 0 }

// Do performs a gated call. Recorded steps are replayed in order; the first
// unrecorded call is submitted to ap and, if approved, executed and
// recorded.
func Do[T any](ctx context.Context, t *Task, ap Approver, a Action, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	key := a.Key()

	if t.cursor < len(t.Steps) {
		s := t.Steps[t.cursor]
		if s.Key != key {
			return zero, fmt.Errorf("%w: step %d is %q, replay asked for %q", ErrReplayMismatch, t.cursor, s.Key, key)
		}
		t.cursor++
		if s.Err != "" {
			if s.Unavailable {
				return zero, fmt.Errorf("%w: %s", ErrExternalUnavailable, s.Err)
			}
			return zero, errors.New(s.Err)
		}
		var v T
		if err := json.Unmarshal(s.Output, &v); err != nil {
			return zero, fmt.Errorf("%w: step %q: %v", ErrReplayMismatch, key, err)
		}
		return v, nil
	}

	if err := ap.Approve(ctx, a); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		// Not recorded: a cancelled call says nothing about the provider.
		return zero, err
	}
	step := Step{Key: key}
	if err != nil {
		step.Err = err.Error()
		step.Unavailable = errors.Is(err, search.ErrUnavailable) || errors.Is(err, ErrExternalUnavailable)
	} else {
		out, merr := json.Marshal(v)
		if merr != nil {
			return zero, fmt.Errorf("worker: record step %q: %w", key, merr)
		}
		step.Output = out
	}
	t.Steps = append(t.Steps, step)
	t.cursor++

	if err != nil {
		if step.Unavailable {
			return zero, fmt.Errorf("%w: %v", ErrExternalUnavailable, err)
		}
		return zero, err
	}
	return v, nil
}

// Result is a worker's structured output.
type Result struct {
	Kind       string      // turn kind to persist
	Content    string      // user-facing text
	Profile    *Profile    // set by the profile worker
	Candidates []Candidate // set by the search and detail workers
}

// ApproveAll is an Approver for unattended runs.
type ApproveAll struct{}

// Approve always proceeds.
func (ApproveAll) Approve(context.Context, Action) error { return nil }

// providerLabel returns the progress text for a provider call.
func providerLabel(provider string) string {
	switch provider {
	case "tavily":
		return "Searching with Tavily..."
	case "brave":
		return "Searching with Brave..."
	case "firecrawl":
		return "Scraping job posting..."
	case "direct":
		return "Fetching job page..."
	default:
		return "Calling " + provider + "..."
	}
}
