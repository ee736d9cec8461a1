package privacy

import (
	"maps"
	"sort"
	"strings"
)

// Map is the bijective original <-> token mapping of one document.
type Map struct {
	toToken    map[string]string
	toOriginal map[string]string
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{toToken: map[string]string{}, toOriginal: map[string]string{}}
}

// MapFromTokens rebuilds a map from its token -> original form.
func MapFromTokens(tokens map[string]string) *Map {
	m := NewMap()
	for token, original := range tokens {
		m.toOriginal[token] = original
		m.toToken[original] = token
	}
	return m
}

// Len returns the number of distinct tokens.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.toOriginal)
}

// Token returns the token assigned to original.
func (m *Map) Token(original string) (string, bool) {
	if m == nil {
		return "", false
	}
	token, ok := m.toToken[original]
	return token, ok
}

// Original returns the span a token stands for.
func (m *Map) Original(token string) (string, bool) {
	if m == nil {
		return "", false
	}
	original, ok := m.toOriginal[token]
	return original, ok
}

// Tokens returns a copy of the token -> original mapping.
func (m *Map) Tokens() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m.toOriginal)
}

func (m *Map) add(original, token string) {
	m.toToken[original] = token
	m.toOriginal[token] = original
}

// Restore replaces every token in text with its original span.
func (m *Map) Restore(text string) string {
	if m.Len() == 0 || text == "" {
		return text
	}
	tokens := make([]string, 0, len(m.toOriginal))
	for token := range m.toOriginal {
		tokens = append(tokens, token)
	}
	// longest first so no token shadows a longer one sharing its prefix
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	pairs := make([]string, 0, len(tokens)*2)
	for _, token := range tokens {
		pairs = append(pairs, token, m.toOriginal[token])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Apply replaces every known original span in text with its token. It is
// used for follow-up input (chat messages) that may repeat spans already
// anonymized in the document; spans the map has never seen pass through.
func (m *Map) Apply(text string) string {
	if m.Len() == 0 || text == "" {
		return text
	}
	originals := make([]string, 0, len(m.toToken))
	for original := range m.toToken {
		if original != "" {
			originals = append(originals, original)
		}
	}
	sort.Slice(originals, func(i, j int) bool {
		if len(originals[i]) != len(originals[j]) {
			return len(originals[i]) > len(originals[j])
		}
		return originals[i] < originals[j]
	})
	pairs := make([]string, 0, len(originals)*2)
	for _, original := range originals {
		pairs = append(pairs, original, m.toToken[original])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
