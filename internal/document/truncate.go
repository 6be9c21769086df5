package document

import (
	"strings"
	"unicode/utf8"
)

// TruncatedMarker is appended when text was cut.
const TruncatedMarker = "\n[truncated]"

var keepSections = []string{"skill", "experience", "employment", "work history", "education", "summary", "profile", "project"}
var dropSections = []string{"reference", "declaration", "certif", "hobbies", "interests"}

// Truncate shortens a CV to roughly maxChars, preferring the sections that
// matter for matching. Section headings are detected as short lines; lines
// under a dropped heading are skipped first, then the rest is cut in order.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	var kept []string
	skipping := false
	for _, line := range strings.Split(text, "\n") {
		if heading := sectionHeading(line); heading != "" {
			skipping = matchesAny(heading, dropSections) && !matchesAny(heading, keepSections)
		}
		if !skipping {
			kept = append(kept, line)
		}
	}

	out := strings.Join(kept, "\n")
	if utf8.RuneCountInString(out) <= maxChars {
		return out + TruncatedMarker
	}
	return string([]rune(out)[:maxChars]) + TruncatedMarker
}

// sectionHeading returns the lowercased line if it looks like a heading.
func sectionHeading(line string) string {
	t := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ":"))
	if t == "" || len(t) > 40 || strings.Count(t, " ") > 3 {
		return ""
	}
	lower := strings.ToLower(t)
	if matchesAny(lower, keepSections) || matchesAny(lower, dropSections) {
		return lower
	}
	return ""
}

func matchesAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
