package analysis

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Canonical risk levels.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

// Canonical verdicts.
const (
	VerdictSign      = "Sign"
	VerdictNegotiate = "Negotiate"
	VerdictWalk      = "Walk"
)

// RiskItem is one risk identified in the document.
type RiskItem struct {
	Category        string `json:"category"`
	Severity        string `json:"severity"`
	ClauseReference string `json:"clause_reference"`
	Explanation     string `json:"explanation"`
	Suggestion      string `json:"suggestion"`
	Grounded        bool   `json:"grounded,omitempty"`
}

// Empty reports whether the item carries no content.
func (r RiskItem) Empty() bool {
	return r.Category == "" && r.Severity == "" && r.ClauseReference == "" &&
		r.Explanation == "" && r.Suggestion == ""
}

// GlossaryTerm defines a piece of jargon in plain language.
type GlossaryTerm struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// Record is the canonical structured analysis of one document.
type Record struct {
	DocumentType    string         `json:"document_type"`
	RiskLevel       string         `json:"risk_level"`
	Risks           []RiskItem     `json:"risks"`
	Recommendations []string       `json:"recommendations"`
	Confidence      float64        `json:"confidence"`
	Degraded        bool           `json:"degraded"`
	Rejected        bool           `json:"rejected"`
	Verdict         string         `json:"verdict"`
	Glossary        []GlossaryTerm `json:"glossary"`
	CoachTip        string         `json:"coach_tip"`
}

// Empty returns a record with every field at its empty value.
func Empty() Record {
	return Record{
		Risks:           []RiskItem{},
		Recommendations: []string{},
		Glossary:        []GlossaryTerm{},
	}
}

// Valid reports whether the record carries the fields a consumer needs to
// present an analysis.
func (r Record) Valid() bool {
	return !r.Degraded && r.DocumentType != "" && r.RiskLevel != ""
}

// Normalized returns a copy with trimmed text, canonical casing for
// enumerated values, clamped confidence, and non-nil slices.
func (r Record) Normalized() Record {
	out := r
	out.DocumentType = collapseSpace(r.DocumentType)
	out.RiskLevel = CanonicalRiskLevel(r.RiskLevel)
	out.Verdict = CanonicalVerdict(r.Verdict)
	out.CoachTip = strings.TrimSpace(r.CoachTip)
	out.Confidence = ClampConfidence(r.Confidence)

	out.Risks = make([]RiskItem, 0, len(r.Risks))
	for _, item := range r.Risks {
		item.Category = collapseSpace(item.Category)
		item.Severity = CanonicalRiskLevel(item.Severity)
		item.ClauseReference = strings.TrimSpace(item.ClauseReference)
		item.Explanation = strings.TrimSpace(item.Explanation)
		item.Suggestion = strings.TrimSpace(item.Suggestion)
		if item.Empty() {
			continue
		}
		out.Risks = append(out.Risks, item)
	}

	out.Recommendations = make([]string, 0, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		if rec = strings.TrimSpace(rec); rec != "" {
			out.Recommendations = append(out.Recommendations, rec)
		}
	}

	out.Glossary = make([]GlossaryTerm, 0, len(r.Glossary))
	for _, term := range r.Glossary {
		term.Term = strings.TrimSpace(term.Term)
		term.Definition = strings.TrimSpace(term.Definition)
		if term.Term == "" && term.Definition == "" {
			continue
		}
		out.Glossary = append(out.Glossary, term)
	}
	return out
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Risks = append([]RiskItem{}, r.Risks...)
	out.Recommendations = append([]string{}, r.Recommendations...)
	out.Glossary = append([]GlossaryTerm{}, r.Glossary...)
	return out
}

// MapText applies fn to every free-text field and returns the result. Used to
// restore anonymization placeholders before a record leaves the service.
func (r Record) MapText(fn func(string) string) Record {
	out := r.Clone()
	out.DocumentType = fn(out.DocumentType)
	out.CoachTip = fn(out.CoachTip)
	for i := range out.Risks {
		out.Risks[i].Category = fn(out.Risks[i].Category)
		out.Risks[i].ClauseReference = fn(out.Risks[i].ClauseReference)
		out.Risks[i].Explanation = fn(out.Risks[i].Explanation)
		out.Risks[i].Suggestion = fn(out.Risks[i].Suggestion)
	}
	for i := range out.Recommendations {
		out.Recommendations[i] = fn(out.Recommendations[i])
	}
	for i := range out.Glossary {
		out.Glossary[i].Definition = fn(out.Glossary[i].Definition)
	}
	return out
}

var riskLevelAliases = map[string]string{
	"low":      RiskLow,
	"minor":    RiskLow,
	"medium":   RiskMedium,
	"moderate": RiskMedium,
	"high":     RiskHigh,
	"severe":   RiskHigh,
	"critical": RiskCritical,
}

// CanonicalRiskLevel maps free-form severity text onto the canonical levels.
// Unrecognized values are returned title-cased.
func CanonicalRiskLevel(value string) string {
	return canonicalWord(value, riskLevelAliases)
}

var verdictAliases = map[string]string{
	"sign":      VerdictSign,
	"accept":    VerdictSign,
	"negotiate": VerdictNegotiate,
	"walk":      VerdictWalk,
	"reject":    VerdictWalk,
	"decline":   VerdictWalk,
}

// CanonicalVerdict maps free-form verdict text onto Sign, Negotiate or Walk.
func CanonicalVerdict(value string) string {
	return canonicalWord(value, verdictAliases)
}

func canonicalWord(value string, aliases map[string]string) string {
	trimmed := strings.Trim(strings.TrimSpace(value), "*_`\"'.!")
	if trimmed == "" {
		return ""
	}
	words := strings.FieldsFunc(strings.ToLower(trimmed), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, word := range words {
		if canonical, ok := aliases[word]; ok {
			return canonical
		}
	}
	return cases.Title(language.English).String(collapseSpace(trimmed))
}

// ClampConfidence bounds a confidence score to [0, 1].
func ClampConfidence(value float64) float64 {
	switch {
	case value != value, value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

func collapseSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
