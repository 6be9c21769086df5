package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/jobscout/internal/document"
	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
)

const profileSystemPrompt = `You extract a structured profile from a CV.
Return only JSON of the form:
{"skills": ["..."], "experience_years": 0, "titles": ["..."], "summary": "...", "location": "remote|hybrid|onsite|"}
Use at most 10 skills, at most 3 titles, and a summary of at most 30 words.`

// ProfileWorker extracts a Profile from document text. It makes no gated
// calls.
type ProfileWorker struct {
	llm      llm.Completer
	maxChars int
}

// NewProfileWorker creates a ProfileWorker. maxChars bounds the document
// text sent to the model.
func NewProfileWorker(c llm.Completer, maxChars int) *ProfileWorker {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &ProfileWorker{llm: c, maxChars: maxChars}
}

// Name returns "profile".
func (w *ProfileWorker) Name() string { return "profile" }

// Accepts reports whether a document is attached.
func (w *ProfileWorker) Accepts(in Input) bool { return strings.TrimSpace(in.Document) != "" }

// Run extracts the profile.
func (w *ProfileWorker) Run(ctx context.Context, t *Task, _ Approver, em Emitter) (*Result, error) {
	if !w.Accepts(t.Input) {
		return nil, fmt.Errorf("%w: document has no text", ErrInputInvalid)
	}
	doc := strings.TrimSpace(t.Input.Document)

	em.Status("parsing", "Reading your CV...")
	text := document.Truncate(doc, w.maxChars)

	em.Event("tool_start", "Extracting profile...")
	raw, err := w.llm.Complete(ctx, llm.Prompt(profileSystemPrompt, text))
	if err != nil {
		return nil, fmt.Errorf("%w: profile extraction: %v", ErrExternalUnavailable, err)
	}

	var p Profile
	if err := DecodeJSON(raw, &p); err != nil {
		return nil, fmt.Errorf("worker: profile: unreadable model output: %w", err)
	}
	p = p.Normalize()
	if len(p.Skills) == 0 && p.Summary == "" {
		return nil, fmt.Errorf("%w: no skills or summary found in document", ErrInputInvalid)
	}
	em.Event("tool_end", fmt.Sprintf("Found %d skills", len(p.Skills)))

	return &Result{
		Kind:    models.KindProfileSummary,
		Content: FormatProfile(p),
		Profile: &p,
	}, nil
}

// FormatProfile renders a profile for the chat transcript.
func FormatProfile(p Profile) string {
	var sb strings.Builder
	sb.WriteString("Here's what I found in your CV:\n\n")
	if len(p.Titles) > 0 {
		fmt.Fprintf(&sb, "Roles: %s\n", strings.Join(p.Titles, ", "))
	}
	if p.ExperienceYears > 0 {
		fmt.Fprintf(&sb, "Experience: %d years\n", p.ExperienceYears)
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&sb, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	if p.Summary != "" {
		fmt.Fprintf(&sb, "\n%s\n", p.Summary)
	}
	sb.WriteString("\nAsk me to find jobs whenever you're ready.")
	return sb.String()
}
