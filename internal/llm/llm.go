// Package llm provides the text-completion capability used by workers.
package llm

import (
	"context"
	"strings"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is a completion request. System, when set, is sent first.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32 // zero uses the client default
}

// ChunkFunc receives streamed content deltas. Returning an error stops the
// stream.
type ChunkFunc func(delta string) error

// Completer is the completion capability. Implementations must honour ctx
// cancellation in both methods.
type Completer interface {
	// Complete returns the full response text.
	Complete(ctx context.Context, req Request) (string, error)
	// Stream calls fn for each delta and returns the concatenated text.
	Stream(ctx context.Context, req Request, fn ChunkFunc) (string, error)
}

// Prompt builds a single-turn request.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: "user", Content: user}}}
}

// normalizeBaseURL trims whitespace and trailing slashes and ensures the
// OpenAI-compatible /v1 suffix.
func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
