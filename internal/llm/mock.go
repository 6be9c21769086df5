package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock is a scripted Completer for tests and offline development. Respond
// picks the reply; when nil, Replies are returned in order and the last one
// repeats.
type Mock struct {
	Respond   func(req Request) (string, error)
	Replies   []string
	ChunkSize int // stream chunk size in bytes; defaults to 10

	mu    sync.Mutex
	calls []Request
}

var _ Completer = (*Mock)(nil)

// NewMock returns a Mock that replies with the given texts in order.
func NewMock(replies ...string) *Mock {
	return &Mock{Replies: replies}
}

// Calls returns the requests received so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

func (m *Mock) reply(req Request) (string, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.Respond != nil {
		return m.Respond(req)
	}
	if len(m.Replies) == 0 {
		last := ""
		if len(req.Messages) > 0 {
			last = req.Messages[len(req.Messages)-1].Content
		}
		return fmt.Sprintf("I received your message: %q. How can I help with your job search?", last), nil
	}
	if n >= len(m.Replies) {
		n = len(m.Replies) - 1
	}
	return m.Replies[n], nil
}

// Complete returns the next scripted reply.
func (m *Mock) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.reply(req)
}

// Stream returns the next scripted reply in chunks.
func (m *Mock) Stream(ctx context.Context, req Request, fn ChunkFunc) (string, error) {
	text, err := m.reply(req)
	if err != nil {
		return "", err
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 10
	}
	var sb strings.Builder
	for start := 0; start < len(text); start += size {
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := text[start:end]
		sb.WriteString(chunk)
		if fn != nil {
			if err := fn(chunk); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}
