// Package relevance scores free text against a project's keyword set.
//
// Two independent tests are applied and OR'd together by Matches:
//   - Score: strict whole-word / whole-phrase matching, 10 points per hit.
//     This is the ranking signal stored on feed items.
//   - IsRelevant: loose substring presence of every token of a keyword phrase.
//     Catches phrases split by punctuation or inflected ("automating" for
//     "automat") that the strict test misses.
//
// Collapsing the two into one test changes which posts are captured.
package relevance

import (
	"regexp"
	"strings"
	"sync"
)

// PointsPerMatch is the weight of a single whole-word keyword occurrence
const PointsPerMatch = 10

// MinKeywordLength is the shortest token ExtractKeywords keeps
const MinKeywordLength = 4

var (
	// keywordPatterns caches compiled word-boundary patterns keyed by lower-cased keyword
	keywordPatterns sync.Map

	nonWordRegex = regexp.MustCompile(`[^\w\s]`)
)

// stopWords are dropped by ExtractKeywords
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "to": true, "of": true,
	"in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "up": true, "about": true, "into": true, "through": true,
	"during": true, "and": true, "or": true, "but": true, "not": true, "so": true,
	"than": true, "that": true, "this": true, "these": true, "those": true,
}

func patternFor(keyword string) *regexp.Regexp {
	if cached, ok := keywordPatterns.Load(keyword); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(keyword) + `\b`)
	keywordPatterns.Store(keyword, re)
	return re
}

// Score counts whole-word occurrences of every keyword in text.
// Each non-overlapping match is worth PointsPerMatch. Matching is
// case-insensitive; a keyword embedded in a larger word does not count.
func Score(text string, keywords []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		matches := patternFor(kw).FindAllStringIndex(lower, -1)
		score += len(matches) * PointsPerMatch
	}
	return score
}

// MatchedKeywords returns the keywords that contributed to Score, for logging
func MatchedKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if patternFor(kw).MatchString(lower) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// IsRelevant reports whether every whitespace-separated token of at least one
// keyword phrase appears somewhere in text as a substring.
// Empty keywords never match.
func IsRelevant(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		tokens := strings.Fields(strings.ToLower(kw))
		if len(tokens) == 0 {
			continue
		}
		all := true
		for _, tok := range tokens {
			if !strings.Contains(lower, tok) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Matches applies both tests. The returned score is always the strict Score,
// so an item accepted only by IsRelevant is stored with relevance 0.
func Matches(text string, keywords []string) (int, bool) {
	score := Score(text, keywords)
	return score, score > 0 || IsRelevant(text, keywords)
}

// ExtractKeywords derives keywords from a free-text description when no
// explicit list exists: lower-case, strip punctuation, split on whitespace,
// drop short tokens and stop words, dedupe preserving first-seen order.
func ExtractKeywords(description string) []string {
	cleaned := nonWordRegex.ReplaceAllString(strings.ToLower(description), " ")

	seen := make(map[string]bool)
	keywords := []string{}
	for _, word := range strings.Fields(cleaned) {
		if len(word) < MinKeywordLength || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}
