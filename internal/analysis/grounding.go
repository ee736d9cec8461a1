package analysis

import "strings"

// VerifyGrounding reports whether clauseRef occurs in text, ignoring case and
// whitespace differences. An empty reference is never grounded.
func VerifyGrounding(text, clauseRef string) bool {
	ref := strings.ToLower(collapseSpace(clauseRef))
	if ref == "" {
		return false
	}
	return strings.Contains(strings.ToLower(collapseSpace(text)), ref)
}

// Ground marks each risk whose clause reference can be found in text and
// returns how many risks were not grounded.
func Ground(record *Record, text string) int {
	if record == nil {
		return 0
	}
	normalized := strings.ToLower(collapseSpace(text))
	var ungrounded int
	for i := range record.Risks {
		ref := strings.ToLower(collapseSpace(record.Risks[i].ClauseReference))
		record.Risks[i].Grounded = ref != "" && strings.Contains(normalized, ref)
		if !record.Risks[i].Grounded {
			ungrounded++
		}
	}
	return ungrounded
}
