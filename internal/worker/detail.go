package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/search"
)

// FetchFailedDescription marks an entry whose page could not be read.
const FetchFailedDescription = "Could not fetch details"

const detailSystemPrompt = `You extract details from a job posting.
Return only JSON of the form:
{"salary": "...", "description": "at most 3 sentences", "requirements": ["at most 5"], "benefits": ["at most 5"], "apply_url": "..."}
Use an empty string or empty list when the posting does not say.`

// Detail enriches selected candidates with posting details. Each page fetch
// is a gated call; the scraper falls back to a direct fetch.
type Detail struct {
	scraper  search.Fetcher
	fallback search.Fetcher
	llm      llm.Completer
}

// NewDetail creates a Detail worker. scraper may be nil when only direct
// fetching is available.
func NewDetail(scraper, fallback search.Fetcher, c llm.Completer) (*Detail, error) {
	if scraper == nil && fallback == nil {
		return nil, fmt.Errorf("worker: detail: at least one fetcher is required")
	}
	if c == nil {
		return nil, fmt.Errorf("worker: detail: llm is required")
	}
	if scraper == nil {
		scraper, fallback = fallback, nil
	}
	return &Detail{scraper: scraper, fallback: fallback, llm: c}, nil
}

// Name returns "detail".
func (w *Detail) Name() string { return "detail" }

// Accepts reports whether any locators were selected against a result set.
func (w *Detail) Accepts(in Input) bool { return len(in.Locators) > 0 && len(in.Candidates) > 0 }

// Run fetches and extracts details for each selected locator, then merges
// them onto the candidate list. Locators not in the list are ignored.
func (w *Detail) Run(ctx context.Context, t *Task, ap Approver, em Emitter) (*Result, error) {
	if !w.Accepts(t.Input) {
		return nil, fmt.Errorf("%w: no jobs selected", ErrInputInvalid)
	}
	known := make(map[string]bool, len(t.Input.Candidates))
	for _, c := range t.Input.Candidates {
		known[c.Locator] = true
	}
	var selected []string
	seen := make(map[string]bool)
	for _, loc := range t.Input.Locators {
		if known[loc] && !seen[loc] {
			seen[loc] = true
			selected = append(selected, loc)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: none of the selected jobs are in the latest results", ErrInputInvalid)
	}

	em.Status("scraping", fmt.Sprintf("Fetching details for %d jobs...", len(selected)))
	details := make(map[string]*Details, len(selected))
	for _, loc := range selected {
		page, err := w.fetchOne(ctx, t, ap, em, loc)
		if err != nil {
			if !errors.Is(err, ErrExternalUnavailable) {
				return nil, err
			}
			log.Printf("worker: detail: fetch %s: %v", loc, err)
			details[loc] = &Details{Description: FetchFailedDescription}
			continue
		}
		d, err := w.extract(ctx, page)
		if err != nil {
			log.Printf("worker: detail: extract %s: %v", loc, err)
			details[loc] = &Details{Description: FetchFailedDescription}
			continue
		}
		details[loc] = d
	}

	merged := make([]Candidate, len(t.Input.Candidates))
	copy(merged, t.Input.Candidates)
	var enriched []Candidate
	for i := range merged {
		if d, ok := details[merged[i].Locator]; ok {
			merged[i].Details = d
			enriched = append(enriched, merged[i])
		}
	}

	return &Result{
		Kind:       models.KindEnrichedResults,
		Content:    FormatDetails(enriched),
		Candidates: merged,
	}, nil
}

func (w *Detail) fetchOne(ctx context.Context, t *Task, ap Approver, em Emitter, loc string) (*search.Page, error) {
	call := func(f search.Fetcher) (*search.Page, error) {
		a := Action{Kind: "fetch", Provider: f.Name(), Target: loc, Label: providerLabel(f.Name())}
		return Do(ctx, t, ap, a, func(ctx context.Context) (*search.Page, error) {
			em.Event("tool_start", a.Label)
			return f.Fetch(ctx, loc)
		})
	}
	page, err := call(w.scraper)
	if err == nil || !errors.Is(err, ErrExternalUnavailable) || w.fallback == nil {
		return page, err
	}
	em.Event("fallback", fmt.Sprintf("%s unavailable, fetching page directly", w.scraper.Name()))
	return call(w.fallback)
}

func (w *Detail) extract(ctx context.Context, page *search.Page) (*Details, error) {
	raw, err := w.llm.Complete(ctx, llm.Prompt(detailSystemPrompt, "URL: "+page.URL+"\n\n"+page.Text))
	if err != nil {
		return nil, err
	}
	var d Details
	if err := DecodeJSON(raw, &d); err != nil {
		return nil, err
	}
	d.Description = limitSentences(d.Description, 3)
	d.Requirements = dedupeStrings(d.Requirements, 5)
	d.Benefits = dedupeStrings(d.Benefits, 5)
	if d.ApplyLocator == "" {
		d.ApplyLocator = page.URL
	}
	return &d, nil
}

// FormatDetails renders enriched entries for the chat transcript.
func FormatDetails(cands []Candidate) string {
	var sb strings.Builder
	sb.WriteString("Here are the details for the jobs you selected:\n")
	for _, c := range cands {
		fmt.Fprintf(&sb, "\n%s", c.Title)
		if c.Org != "" {
			fmt.Fprintf(&sb, " at %s", c.Org)
		}
		sb.WriteString("\n")
		d := c.Details
		if d == nil {
			continue
		}
		if d.Salary != "" {
			fmt.Fprintf(&sb, "Salary: %s\n", d.Salary)
		}
		if d.Description != "" {
			fmt.Fprintf(&sb, "%s\n", d.Description)
		}
		if len(d.Requirements) > 0 {
			fmt.Fprintf(&sb, "Requirements: %s\n", strings.Join(d.Requirements, "; "))
		}
		if len(d.Benefits) > 0 {
			fmt.Fprintf(&sb, "Benefits: %s\n", strings.Join(d.Benefits, "; "))
		}
		if d.ApplyLocator != "" {
			fmt.Fprintf(&sb, "Apply: %s\n", d.ApplyLocator)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func limitSentences(s string, n int) string {
	s = strings.TrimSpace(s)
	count := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return s[:i+1]
			}
		}
	}
	return s
}
