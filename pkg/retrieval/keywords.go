package retrieval

import (
	"regexp"
	"sort"
	"strings"
)

var wordPattern = regexp.MustCompile(`\b[a-z]{3,}\b`)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "will": {}, "with": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "why": {}, "how": {}, "this": {}, "these": {}, "those": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "my": {}, "your": {}, "his": {},
	"her": {}, "our": {}, "their": {}, "me": {}, "him": {}, "us": {}, "them": {},
}

// ExtractKeywords lowercases the text, keeps alphabetic tokens of three or
// more characters that are not stop words, and returns the topN most
// frequent. Ties keep first-appearance order.
func ExtractKeywords(text string, topN int) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	freq := map[string]int{}
	var order []string
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})

	if topN > 0 && len(order) > topN {
		order = order[:topN]
	}
	return order
}
