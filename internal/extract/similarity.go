package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"counsel/internal/textutil"
)

// Similarity scores two normalized labels in [0, 1].
type Similarity func(a, b string) float64

// DefaultThreshold is the acceptance threshold for fuzzy label resolution.
const DefaultThreshold = 0.8

// EditSimilarity is one minus the Levenshtein distance normalized by the
// longer label's rune count.
func EditSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// TokenSimilarity is the cosine similarity of the labels' token vectors.
func TokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return textutil.Cosine(textutil.NewVector(a), textutil.NewVector(b))
}

// HybridSimilarity takes the better of edit and token similarity, so both
// typos ("recomendations") and reordered or padded labels ("level of risk")
// can resolve.
func HybridSimilarity(a, b string) float64 {
	return max(EditSimilarity(a, b), TokenSimilarity(a, b))
}

// ParseSimilarity resolves a configured similarity name.
func ParseSimilarity(name string) (Similarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "edit", "levenshtein":
		return EditSimilarity, nil
	case "token", "cosine":
		return TokenSimilarity, nil
	case "hybrid":
		return HybridSimilarity, nil
	default:
		return nil, fmt.Errorf("unknown similarity %q (want edit, token, or hybrid)", name)
	}
}

// resolution is the outcome of matching one candidate label.
type resolution struct {
	field Field
	score float64
	fuzzy bool
	ok    bool
}

func resolveLabel(labels LabelSet, sim Similarity, threshold float64, raw string) resolution {
	label := NormalizeLabel(raw)
	if label == "" {
		return resolution{}
	}
	if field, ok := labels.exact[label]; ok {
		return resolution{field: field, score: 1, ok: true}
	}
	best := resolution{}
	for _, field := range Fields {
		for _, synonym := range labels.synonyms[field] {
			score := sim(label, synonym)
			if score > best.score {
				best = resolution{field: field, score: score}
			}
		}
	}
	if best.score >= threshold && best.score > 0 {
		best.ok = true
		best.fuzzy = true
	}
	return best
}
