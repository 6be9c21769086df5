package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/search"
)

// Quick-match defaults.
const (
	DefaultMaxResults  = 15
	DefaultMaxPerQuery = 8
)

const rankSystemPrompt = `You rank job postings for a candidate.
For each numbered posting return an object with:
index (number), title, company, location (remote|hybrid|onsite|unknown),
score (0-100 fit for the candidate), reason (at most 10 words).
Return only a JSON array.`

// QuickMatch searches for postings that fit a profile. Every search query
// is a gated call; a failing primary provider falls back to the secondary.
type QuickMatch struct {
	primary     search.Searcher
	secondary   search.Searcher
	llm         llm.Completer
	maxResults  int
	maxPerQuery int
}

// QuickMatchOpts holds parameters for creating a QuickMatch worker.
type QuickMatchOpts struct {
	Primary     search.Searcher // required
	Secondary   search.Searcher // optional fallback
	LLM         llm.Completer   // optional; heuristic ranking when nil
	MaxResults  int             // defaults to DefaultMaxResults
	MaxPerQuery int             // defaults to DefaultMaxPerQuery
}

// NewQuickMatch creates a QuickMatch worker.
func NewQuickMatch(opts QuickMatchOpts) (*QuickMatch, error) {
	if opts.Primary == nil {
		return nil, fmt.Errorf("worker: quickmatch: primary searcher is required")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	perQuery := opts.MaxPerQuery
	if perQuery <= 0 {
		perQuery = DefaultMaxPerQuery
	}
	return &QuickMatch{
		primary:     opts.Primary,
		secondary:   opts.Secondary,
		llm:         opts.LLM,
		maxResults:  maxResults,
		maxPerQuery: perQuery,
	}, nil
}

// Name returns "quickmatch".
func (w *QuickMatch) Name() string { return "quickmatch" }

// Accepts reports whether a profile with skills or titles is present.
func (w *QuickMatch) Accepts(in Input) bool {
	return in.Profile != nil && (len(in.Profile.Skills) > 0 || len(in.Profile.Titles) > 0)
}

// Run searches, ranks, filters, and de-duplicates.
func (w *QuickMatch) Run(ctx context.Context, t *Task, ap Approver, em Emitter) (*Result, error) {
	if !w.Accepts(t.Input) {
		return nil, fmt.Errorf("%w: a profile with skills or titles is required", ErrInputInvalid)
	}
	p := t.Input.Profile
	prefs := DefaultPreferences()
	if t.Input.Preferences != nil {
		prefs = *t.Input.Preferences
	}

	queries := BuildQueries(*p, prefs, t.Input.Text)
	em.Status("searching", "Searching for jobs matching your profile...")

	var records []search.Record
	failures := 0
	for _, q := range queries {
		recs, err := w.searchOne(ctx, t, ap, em, q)
		if errors.Is(err, ErrExternalUnavailable) {
			failures++
			em.Event("tool_error", fmt.Sprintf("Search failed for %q", q))
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	if failures == len(queries) {
		return nil, fmt.Errorf("%w: all search providers failed", ErrExternalUnavailable)
	}

	em.Status("ranking", fmt.Sprintf("Scoring %d results...", len(records)))
	cands := w.rank(ctx, *p, records)
	cands = FilterCandidates(cands, prefs)
	cands = DedupeCandidates(cands)
	SortCandidates(cands)
	if len(cands) > w.maxResults {
		cands = cands[:w.maxResults]
	}

	return &Result{
		Kind:       models.KindResultSelection,
		Content:    FormatCandidates(cands),
		Candidates: cands,
	}, nil
}

func (w *QuickMatch) searchOne(ctx context.Context, t *Task, ap Approver, em Emitter, q string) ([]search.Record, error) {
	call := func(s search.Searcher) ([]search.Record, error) {
		a := Action{Kind: "search", Provider: s.Name(), Target: q, Label: providerLabel(s.Name())}
		return Do(ctx, t, ap, a, func(ctx context.Context) ([]search.Record, error) {
			em.Event("tool_start", a.Label)
			return s.Search(ctx, q, w.maxPerQuery)
		})
	}
	recs, err := call(w.primary)
	if err == nil || !errors.Is(err, ErrExternalUnavailable) || w.secondary == nil {
		return recs, err
	}
	log.Printf("worker: quickmatch: %s failed, falling back to %s: %v", w.primary.Name(), w.secondary.Name(), err)
	em.Event("fallback", fmt.Sprintf("%s unavailable, trying %s", w.primary.Name(), w.secondary.Name()))
	return call(w.secondary)
}

type rankedEntry struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	Score    int    `json:"score"`
	Reason   string `json:"reason"`
}

// rank scores records with the model, falling back to keyword overlap for
// anything the model output does not cover.
func (w *QuickMatch) rank(ctx context.Context, p Profile, records []search.Record) []Candidate {
	cands := make([]Candidate, len(records))
	for i, r := range records {
		cands[i] = heuristicCandidate(p, r)
	}
	if w.llm == nil || len(records) == 0 {
		return cands
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Candidate: %s\nSkills: %s\nTitles: %s\n\nPostings:\n",
		p.Summary, strings.Join(p.Skills, ", "), strings.Join(p.Titles, ", "))
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. %s | %s | %s\n", i, r.Title, r.URL, limitWords(r.Content, 60))
	}
	raw, err := w.llm.Complete(ctx, llm.Prompt(rankSystemPrompt, sb.String()))
	if err != nil {
		log.Printf("worker: quickmatch: ranking failed, using heuristic scores: %v", err)
		return cands
	}
	var ranked []rankedEntry
	if err := DecodeJSON(raw, &ranked); err != nil {
		log.Printf("worker: quickmatch: unreadable ranking, using heuristic scores: %v", err)
		return cands
	}
	for _, e := range ranked {
		if e.Index < 0 || e.Index >= len(cands) {
			continue
		}
		c := &cands[e.Index]
		if e.Title != "" {
			c.Title = e.Title
		}
		if e.Company != "" {
			c.Org = e.Company
		}
		if loc := NormalizeLocation(e.Location); loc != LocationUnknown {
			c.LocationClass = loc
		}
		if e.Score > 0 {
			c.Score = clampScore(e.Score)
		}
		if e.Reason != "" {
			c.Reason = limitWords(e.Reason, 10)
		}
	}
	return cands
}

var titleSplit = regexp.MustCompile(`\s+(?:at|@|-|–|\|)\s+`)

// heuristicCandidate builds a candidate from a raw record, scoring by how
// many profile terms appear in it.
func heuristicCandidate(p Profile, r search.Record) Candidate {
	title, org := r.Title, ""
	if parts := titleSplit.Split(r.Title, 3); len(parts) >= 2 {
		title, org = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	hay := strings.ToLower(r.Title + " " + r.Content)
	terms := append(append([]string{}, p.Skills...), p.Titles...)
	matched := 0
	var hits []string
	for _, term := range terms {
		if term != "" && strings.Contains(hay, strings.ToLower(term)) {
			matched++
			if len(hits) < 3 {
				hits = append(hits, term)
			}
		}
	}
	score := 0
	if len(terms) > 0 {
		score = 30 + 70*matched/len(terms)
	}
	reason := "Few matching skills"
	if len(hits) > 0 {
		reason = "Matches " + strings.Join(hits, ", ")
	}
	return Candidate{
		Title:         title,
		Org:           org,
		Score:         clampScore(score),
		Reason:        limitWords(reason, 10),
		Locator:       r.URL,
		LocationClass: NormalizeLocation(r.Title + " " + r.Content),
	}
}

// BuildQueries derives 3 to 4 search queries from different angles. The
// result is deterministic so a resumed run replays the same calls.
func BuildQueries(p Profile, prefs Preferences, refinement string) []string {
	loc := ""
	if prefs.LocationType != "" && prefs.LocationType != LocationAny {
		loc = " " + prefs.LocationType
	}
	title := "software engineer"
	if len(prefs.TargetRoles) > 0 {
		title = prefs.TargetRoles[0]
	} else if len(p.Titles) > 0 {
		title = p.Titles[0]
	}
	topSkills := p.Skills
	if len(topSkills) > 3 {
		topSkills = topSkills[:3]
	}

	queries := []string{
		fmt.Sprintf("%s jobs%s", title, loc),
		fmt.Sprintf("%s developer jobs%s", strings.Join(topSkills, " "), loc),
	}
	if len(p.Titles) > 1 {
		queries = append(queries, fmt.Sprintf("%s hiring%s", p.Titles[1], loc))
	} else if p.ExperienceYears >= 5 {
		queries = append(queries, fmt.Sprintf("senior %s hiring%s", title, loc))
	} else {
		queries = append(queries, fmt.Sprintf("%s openings%s", title, loc))
	}
	if r := strings.TrimSpace(refinement); r != "" {
		queries = append(queries, fmt.Sprintf("%s %s", title, limitWords(r, 8)))
	}
	for i, q := range queries {
		queries[i] = strings.Join(strings.Fields(q), " ")
	}
	return queries
}

// FilterCandidates drops candidates that contradict the preferences.
// Unknown locations are kept.
func FilterCandidates(cands []Candidate, prefs Preferences) []Candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if prefs.LocationType != "" && prefs.LocationType != LocationAny &&
			c.LocationClass != LocationUnknown && c.LocationClass != "" && c.LocationClass != prefs.LocationType {
			continue
		}
		if excluded(c.Org, prefs.ExcludedOrgs) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func excluded(org string, list []string) bool {
	o := strings.ToLower(org)
	if o == "" {
		return false
	}
	for _, x := range list {
		x = strings.ToLower(strings.TrimSpace(x))
		if x != "" && strings.Contains(o, x) {
			return true
		}
	}
	return false
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func dedupeKey(c Candidate) string {
	norm := func(s string) string {
		return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
	}
	return norm(c.Title) + "|" + norm(c.Org)
}

// DedupeCandidates collapses entries with the same normalized title and
// organisation, keeping the higher score. First-seen order is preserved.
func DedupeCandidates(cands []Candidate) []Candidate {
	idx := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		k := dedupeKey(c)
		if i, ok := idx[k]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}

// SortCandidates orders by score, highest first. Ties keep their order.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
}

// FormatCandidates renders a result list for the chat transcript.
func FormatCandidates(cands []Candidate) string {
	if len(cands) == 0 {
		return "I couldn't find any matching jobs this time. Try broadening your preferences."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "I found %d jobs that match your profile:\n\n", len(cands))
	for i, c := range cands {
		org := c.Org
		if org == "" {
			org = "Unknown company"
		}
		fmt.Fprintf(&sb, "%d. %s at %s (%d%%) - %s\n", i+1, c.Title, org, c.Score, c.Reason)
	}
	sb.WriteString("\nSelect any jobs you'd like more details on.")
	return sb.String()
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
