// Package router classifies a user turn into an intent and picks the
// worker that handles it. Classification is a pure function of the text
// and a little session context; it never fails.
package router

import (
	"regexp"
	"strings"
)

// Intent is what the user wants from a turn.
type Intent string

// Intents.
const (
	Upload Intent = "UPLOAD"
	Search Intent = "SEARCH"
	Refine Intent = "REFINE"
	Chat   Intent = "CHAT"
)

// Worker names selected for each intent.
const (
	WorkerProfile    = "profile"
	WorkerQuickMatch = "quickmatch"
	WorkerDetail     = "detail"
	WorkerChat       = "chat"
)

// Context is the session state the router may look at.
type Context struct {
	HasProfile  bool
	HasResults  bool
	HasDocument bool
}

// Decision is the router's answer. Matched is false when nothing matched
// and the intent fell back to Chat.
type Decision struct {
	Intent  Intent
	Matched bool
	Rule    string
}

type rule struct {
	name   string
	intent Intent
	match  func(text string) bool
}

var (
	// Filter words that read as a refinement on their own.
	strongFilter = regexp.MustCompile(`(?i)\b(only|exclude|excluding|except|filter|narrow|remote|hybrid|on-?site|in[- ]office|more senior|more junior)\b`)
	// Everyday words that refine only when aimed at the results.
	weakFilter = regexp.MustCompile(`(?i)\b(without|skip|instead|salary|at least)\b`)
	jobsNoun   = regexp.MustCompile(`(?i)\b(ones|jobs?|roles?|positions?|openings?|results?|listings?|postings?|companies|matches)\b`)
	imperative = regexp.MustCompile(`(?i)^(please\s+)?(only|just|show|give|skip|drop|remove|hide|filter|exclude|narrow|keep|make|no)\b`)
	question   = regexp.MustCompile(`(?i)(^(what|how|why|when|where|who|which|should|would|could|can|is|are|do|does|did)\b|\?\s*$)`)

	refineMore = regexp.MustCompile(`(?i)\b(more like (this|these)|show (me )?more|different (ones|roles|jobs)|other (ones|roles|jobs))\b`)
	searchVerb = regexp.MustCompile(`(?i)\b(find|search|look(ing)? for|hunt|match|recommend|suggest)\b.*\b(jobs?|roles?|positions?|openings?|work|opportunit(y|ies)|vacanc(y|ies)|me)\b`)
	searchNoun = regexp.MustCompile(`(?i)\b(job search|any (jobs|openings|roles)|who('s| is) hiring|hiring now|job matches|matching jobs)\b`)
)

// refineFilter matches text that narrows the current results: a filter
// word aimed at the results or phrased as a command. A question that
// merely mentions salary or remote work is not a refinement.
func refineFilter(t string) bool {
	strong := strongFilter.MatchString(t)
	if !strong && !weakFilter.MatchString(t) {
		return false
	}
	if jobsNoun.MatchString(t) || imperative.MatchString(t) {
		return true
	}
	return strong && !question.MatchString(t)
}

func isSearch(t string) bool {
	return searchVerb.MatchString(t) || searchNoun.MatchString(t)
}

// Rules are checked in order; refine comes first so that "only remote
// ones" after a search is not read as a new search.
var rules = []rule{
	{"refine-filter", Refine, refineFilter},
	{"refine-more", Refine, refineMore.MatchString},
	{"search-verb", Search, searchVerb.MatchString},
	{"search-noun", Search, searchNoun.MatchString},
}

// Classify decides the intent of a turn.
func Classify(text string, ctx Context) Decision {
	if ctx.HasDocument {
		return Decision{Intent: Upload, Matched: true, Rule: "document"}
	}
	t := strings.TrimSpace(text)
	if t == "" {
		return Decision{Intent: Chat}
	}
	for _, r := range rules {
		if !r.match(t) {
			continue
		}
		intent := r.intent
		if intent == Refine && !ctx.HasResults {
			// Nothing to refine yet; refinement-looking text is a
			// search with constraints only when it names jobs.
			if !isSearch(t) {
				continue
			}
			intent = Search
		}
		return Decision{Intent: intent, Matched: true, Rule: r.name}
	}
	return Decision{Intent: Chat}
}

// Select returns the worker name for an intent.
func Select(intent Intent) string {
	switch intent {
	case Upload:
		return WorkerProfile
	case Search, Refine:
		return WorkerQuickMatch
	default:
		return WorkerChat
	}
}
