package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
)

const chatSystemPrompt = `You are a friendly job-search assistant. You help the user
understand their CV profile, search results, and next steps. Keep replies short.
You cannot search by yourself: tell the user to ask you to "find jobs" when they
want a search, or to upload a PDF CV if they have not yet.`

// Chat answers free-form turns by streaming the completion capability.
type Chat struct {
	llm llm.Completer
}

// NewChat creates a Chat worker.
func NewChat(c llm.Completer) *Chat { return &Chat{llm: c} }

// Name returns "chat".
func (w *Chat) Name() string { return "chat" }

// Accepts reports whether there is text to answer.
func (w *Chat) Accepts(in Input) bool { return strings.TrimSpace(in.Text) != "" }

// Run streams a reply, emitting each delta as an agent event.
func (w *Chat) Run(ctx context.Context, t *Task, _ Approver, em Emitter) (*Result, error) {
	if !w.Accepts(t.Input) {
		return nil, fmt.Errorf("%w: empty message", ErrInputInvalid)
	}
	text := strings.TrimSpace(t.Input.Text)

	system := chatSystemPrompt
	if p := t.Input.Profile; p != nil {
		system += fmt.Sprintf("\n\nThe user's profile: titles %s; skills %s.",
			strings.Join(p.Titles, ", "), strings.Join(p.Skills, ", "))
	} else {
		system += "\n\nThe user has not uploaded a CV yet."
	}

	msgs := append([]llm.Message{}, t.Input.History...)
	msgs = append(msgs, llm.Message{Role: "user", Content: text})

	em.Status("thinking", "Thinking...")
	reply, err := w.llm.Stream(ctx, llm.Request{System: system, Messages: msgs}, func(delta string) error {
		em.Event("delta", delta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: chat: %v", ErrExternalUnavailable, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "Sorry, I don't have an answer for that."
	}
	return &Result{Kind: models.KindText, Content: reply}, nil
}
