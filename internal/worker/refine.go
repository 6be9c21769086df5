package worker

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	excludePattern = regexp.MustCompile(`(?i)\b(?:exclude|excluding|except|skip|not at|no jobs at|without)\s+([^.;!?]+)`)
	salaryPattern  = regexp.MustCompile(`(?i)\b(?:at least|min(?:imum)?|over|above|more than)\s*\$?\s*(\d+(?:[.,]\d+)?)\s*(k|000)?\b`)
	listSplit      = regexp.MustCompile(`\s*(?:,|\band\b|\bor\b|/)\s*`)
)

// RefinePreferences applies a refinement request such as "remote only,
// exclude Acme and Initech" to prefs and returns the result.
func RefinePreferences(prefs Preferences, text string) Preferences {
	out := prefs
	out.TargetRoles = append([]string(nil), prefs.TargetRoles...)
	out.ExcludedOrgs = append([]string(nil), prefs.ExcludedOrgs...)
	if out.LocationType == "" {
		out.LocationType = LocationAny
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "any location"), strings.Contains(lower, "anywhere is fine"):
		out.LocationType = LocationAny
	default:
		if loc := NormalizeLocation(lower); loc != LocationUnknown {
			out.LocationType = loc
		}
	}

	for _, m := range excludePattern.FindAllStringSubmatch(text, -1) {
		for _, org := range listSplit.Split(m[1], -1) {
			org = strings.TrimSpace(org)
			if org == "" || NormalizeLocation(org) != LocationUnknown {
				continue
			}
			if !containsFold(out.ExcludedOrgs, org) {
				out.ExcludedOrgs = append(out.ExcludedOrgs, org)
			}
		}
	}

	if m := salaryPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil {
			if strings.EqualFold(m[2], "k") || m[2] == "000" {
				n *= 1000
			}
			if n >= 1000 {
				out.MinSalary = int(n)
			}
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
