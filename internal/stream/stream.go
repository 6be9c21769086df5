// Package stream carries the progress events of one orchestration run to
// one client, in order, ending with exactly one terminal event.
package stream

import (
	"sync"
)

// Event names on the wire.
const (
	EventStatus       = "status"
	EventAgent        = "agent_event"
	EventConfirmation = "confirmation"
	EventDone         = "done"
	EventError        = "error"
)

// DefaultBuffer is the channel capacity used by New when size <= 0.
const DefaultBuffer = 64

// StatusData is the payload of a status event.
type StatusData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// AgentData is the payload of an agent_event.
type AgentData struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConfirmationData is the payload of a confirmation event.
type ConfirmationData struct {
	SessionID            string `json:"session_id"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Message              string `json:"message"`
}

// DoneData is the payload of a done event.
type DoneData struct {
	SessionID string  `json:"session_id"`
	OwnerID   *string `json:"owner_id,omitempty"`
	Turn      any     `json:"turn"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// Event is one sequenced event of a run.
type Event struct {
	Seq  uint64
	Name string
	Data any
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Name == EventDone || e.Name == EventError || e.Name == EventConfirmation
}

// Stream is the producer side of a run's events. It is safe for use by
// several goroutines; events are numbered in the order they are accepted.
// After a terminal event nothing more is accepted and the channel closes.
// After Detach events are discarded instead of blocking the producer.
type Stream struct {
	ch   chan Event
	gone chan struct{}

	detachOnce sync.Once

	mu       sync.Mutex
	seq      uint64
	closed   bool
	terminal *Event
}

// New creates a Stream with the given buffer size.
func New(size int) *Stream {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Stream{ch: make(chan Event, size), gone: make(chan struct{})}
}

// Events returns the consumer channel.
func (s *Stream) Events() <-chan Event { return s.ch }

// Status emits a coarse progress marker.
func (s *Stream) Status(stage, message string) {
	s.send(EventStatus, StatusData{Stage: stage, Message: message})
}

// Event emits fine-grained worker activity.
func (s *Stream) Event(kind, message string) {
	s.send(EventAgent, AgentData{Type: kind, Message: message})
}

// Confirmation ends the stream with an approval request.
func (s *Stream) Confirmation(sessionID, message string) {
	s.send(EventConfirmation, ConfirmationData{SessionID: sessionID, RequiresConfirmation: true, Message: message})
}

// Done ends the stream with the run's result.
func (s *Stream) Done(data DoneData) {
	s.send(EventDone, data)
}

// Error ends the stream with a failure.
func (s *Stream) Error(message string) {
	s.send(EventError, ErrorData{Message: message})
}

// Detach stops delivery. The producer keeps running; its events are
// dropped.
func (s *Stream) Detach() {
	s.detachOnce.Do(func() { close(s.gone) })
}

// Detached reports whether the consumer has gone away.
func (s *Stream) Detached() bool {
	select {
	case <-s.gone:
		return true
	default:
		return false
	}
}

// Closed reports whether a terminal event has been accepted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Terminal returns the terminal event, if one has been accepted.
func (s *Stream) Terminal() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal == nil {
		return Event{}, false
	}
	return *s.terminal, true
}

func (s *Stream) send(name string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	ev := Event{Seq: s.seq, Name: name, Data: data}
	if ev.Terminal() {
		s.closed = true
		s.terminal = &ev
		defer close(s.ch)
	}
	select {
	case s.ch <- ev:
	case <-s.gone:
	}
}
