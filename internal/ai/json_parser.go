package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Matches ```json\n[...]\n```, ```[...]```, ``` json[...]```
	codeFenceRegex = regexp.MustCompile("(?s)`{3}(?:json|javascript|js|markdown)?\\s*\\n?(.*?)\\n?`{3}")

	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)

	// Greedy so nested arrays are captured whole
	arrayRegex = regexp.MustCompile(`(?s)\[.*\]`)

	// Conversational lead-ins models put before the answer
	leadInRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:here'?s|here is) (?:a|an|the) [^:\n]*:\s*`),
		regexp.MustCompile(`(?i)^(?:sure|certainly|of course)[,!]\s*`),
	}
)

// ParseJSON decodes model output into T, tolerating code fences, trailing
// commas and prose around the JSON.
//
// Strategy sequence:
//  1. Direct parse
//  2. Strip code fences and retry
//  3. Remove trailing commas and retry
//  4. Extract the outermost array and retry
func ParseJSON[T any](text string) (T, error) {
	var out T
	text = strings.TrimSpace(text)
	if text == "" {
		return out, fmt.Errorf("empty response")
	}

	candidates := []string{text}
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	for _, c := range append([]string(nil), candidates...) {
		candidates = append(candidates, trailingCommaRegex.ReplaceAllString(c, "$1"))
	}
	if m := arrayRegex.FindString(text); m != "" {
		candidates = append(candidates, m, trailingCommaRegex.ReplaceAllString(m, "$1"))
	}

	var firstErr error
	for _, c := range candidates {
		var v T
		err := json.Unmarshal([]byte(c), &v)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return out, fmt.Errorf("failed to parse JSON from response: %w", firstErr)
}

// ParseStringList extracts a JSON array of strings from model output.
// Blank entries are dropped; an empty list is an error.
func ParseStringList(text string) ([]string, error) {
	raw, err := ParseJSON[[]string](text)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("response contained no entries")
	}
	return out, nil
}

// SanitizeResponse strips code fences and conversational lead-ins from a draft
func SanitizeResponse(content string) string {
	content = codeFenceRegex.ReplaceAllString(content, "$1")
	content = strings.TrimSpace(content)
	for _, re := range leadInRegexes {
		content = re.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}
