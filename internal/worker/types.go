package worker

import (
	"strings"

	"github.com/zulandar/jobscout/internal/llm"
)

// Location classes.
const (
	LocationRemote  = "remote"
	LocationHybrid  = "hybrid"
	LocationOnsite  = "onsite"
	LocationUnknown = "unknown"
	LocationAny     = "any"
)

// Input is the structured input shared by all workers. Each worker reads
// the fields it needs.
type Input struct {
	Text        string        `json:"text,omitempty"`
	Document    string        `json:"document,omitempty"`
	Profile     *Profile      `json:"profile,omitempty"`
	Preferences *Preferences  `json:"preferences,omitempty"`
	Candidates  []Candidate   `json:"candidates,omitempty"`
	Locators    []string      `json:"locators,omitempty"`
	History     []llm.Message `json:"history,omitempty"`
}

// Profile is the structured summary of a CV.
type Profile struct {
	Skills          []string `json:"skills"`
	ExperienceYears int      `json:"experience_years"`
	Titles          []string `json:"titles"`
	Summary         string   `json:"summary"`
	Location        string   `json:"location,omitempty"`
}

// Normalize enforces the profile's size limits.
func (p Profile) Normalize() Profile {
	p.Skills = dedupeStrings(p.Skills, 10)
	p.Titles = dedupeStrings(p.Titles, 3)
	p.Summary = limitWords(strings.TrimSpace(p.Summary), 30)
	if p.ExperienceYears < 0 {
		p.ExperienceYears = 0
	}
	if p.Location != "" {
		p.Location = NormalizeLocation(p.Location)
	}
	return p
}

// Preferences narrow a search.
type Preferences struct {
	LocationType string   `json:"location_type"` // any, remote, hybrid, onsite
	TargetRoles  []string `json:"target_roles,omitempty"`
	ExcludedOrgs []string `json:"excluded_orgs,omitempty"`
	MinSalary    int      `json:"min_salary,omitempty"`
}

// DefaultPreferences returns preferences that filter nothing.
func DefaultPreferences() Preferences {
	return Preferences{LocationType: LocationAny}
}

// Candidate is one ranked search result.
type Candidate struct {
	Title         string   `json:"title"`
	Org           string   `json:"company"`
	Score         int      `json:"score"`
	Reason        string   `json:"reason"`
	Locator       string   `json:"url"`
	LocationClass string   `json:"location"`
	Details       *Details `json:"details,omitempty"`
}

// Details are the enriched fields of a posting.
type Details struct {
	Salary       string   `json:"salary"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
	Benefits     []string `json:"benefits"`
	ApplyLocator string   `json:"apply_url"`
}

func dedupeStrings(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
