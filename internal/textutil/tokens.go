package textutil

import (
	"regexp"
	"strings"
)

var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

// stopwords are dropped from token streams so retrieval scores track the
// substantive terms of a clause rather than its glue words.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"are": {}, "was": {}, "shall": {}, "will": {}, "any": {}, "all": {},
	"its": {}, "not": {}, "but": {}, "has": {}, "have": {}, "from": {},
	"such": {}, "which": {}, "into": {}, "upon": {}, "been": {}, "being": {},
	"you": {}, "your": {}, "our": {}, "their": {}, "there": {}, "than": {},
}

// Tokenize splits text into lowercase tokens, dropping single characters and
// common stopwords.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if len(token) < 2 {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// Truncate returns at most limit runes of text.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
