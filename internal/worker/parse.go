package worker

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var errNoJSON = errors.New("worker: no JSON found in model output")

var fenceJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
var fenceAny = regexp.MustCompile("(?s)```\\w*\\s*(.*?)```")

// ExtractJSON pulls the first JSON value out of model output. It tries, in
// order: the whole text, a ```json fence, any fence, the first balanced
// object or array, then each line on its own.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errNoJSON
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	for _, re := range []*regexp.Regexp{fenceJSON, fenceAny} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if c := strings.TrimSpace(m[1]); json.Valid([]byte(c)) {
				return json.RawMessage(c), nil
			}
		}
	}
	if c, ok := balanced(text); ok {
		return json.RawMessage(c), nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if (strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[")) && json.Valid([]byte(line)) {
			return json.RawMessage(line), nil
		}
	}
	return nil, errNoJSON
}

// DecodeJSON extracts JSON from model output and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// balanced returns the first bracket-balanced object or array that parses.
func balanced(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		open := text[start]
		if open != '{' && open != '[' {
			continue
		}
		if end := matchClose(text, start); end > 0 {
			c := text[start : end+1]
			if json.Valid([]byte(c)) {
				return c, true
			}
		}
	}
	return "", false
}

func matchClose(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// NormalizeLocation maps free-form location text to a location class.
func NormalizeLocation(s string) string {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "hybrid"):
		return LocationHybrid
	case strings.Contains(l, "remote"), strings.Contains(l, "anywhere"), strings.Contains(l, "work from home"), strings.Contains(l, "wfh"):
		return LocationRemote
	case strings.Contains(l, "onsite"), strings.Contains(l, "on-site"), strings.Contains(l, "on site"), strings.Contains(l, "in office"), strings.Contains(l, "in-office"), strings.Contains(l, "office"):
		return LocationOnsite
	case l == LocationAny:
		return LocationAny
	default:
		return LocationUnknown
	}
}
