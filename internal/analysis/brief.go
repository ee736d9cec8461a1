package analysis

import (
	"fmt"
	"strings"
	"unicode"
)

// structuralReplacer strips characters from model-supplied text before it is woven into
// the brief so the conversational model never sees JSON-like punctuation.
var structuralReplacer = strings.NewReplacer("{", "", "}", "", "[", "", "]", "", "\"", "", "`", "")

// RenderBrief turns a record into plain narrative prose. The brief is the only
// analysis context handed to the conversational model.
func RenderBrief(r Record) string {
	r = r.Normalized()
	var paragraphs []string

	intro := "You are discussing a document that has already been reviewed."
	if docType := clean(r.DocumentType); docType != "" {
		intro = fmt.Sprintf("You are discussing a document identified as %s that has already been reviewed.", docType)
	}
	if r.RiskLevel != "" {
		intro += fmt.Sprintf(" Overall it carries %s risk.", strings.ToLower(r.RiskLevel))
	}
	switch r.Verdict {
	case VerdictSign:
		intro += " The review concluded it is reasonable to sign as written."
	case VerdictNegotiate:
		intro += " The review concluded it is worth negotiating before signing."
	case VerdictWalk:
		intro += " The review concluded the terms are poor enough to consider walking away."
	}
	paragraphs = append(paragraphs, intro)

	if len(r.Risks) > 0 {
		var b strings.Builder
		b.WriteString(riskLead(len(r.Risks)))
		for i, risk := range r.Risks {
			b.WriteString(" ")
			b.WriteString(describeRisk(i, risk))
		}
		paragraphs = append(paragraphs, b.String())
	} else {
		paragraphs = append(paragraphs, "No specific risky clauses were identified.")
	}

	if len(r.Recommendations) > 0 {
		items := make([]string, 0, len(r.Recommendations))
		for _, rec := range r.Recommendations {
			if text := strings.TrimRight(clean(rec), "."); text != "" {
				items = append(items, lowerFirst(text))
			}
		}
		if len(items) > 0 {
			paragraphs = append(paragraphs, "The suggested next steps are to "+joinPhrases(items)+".")
		}
	}

	if len(r.Glossary) > 0 {
		terms := make([]string, 0, len(r.Glossary))
		for _, term := range r.Glossary {
			if name := clean(term.Term); name != "" {
				terms = append(terms, name)
			}
		}
		if len(terms) > 0 {
			paragraphs = append(paragraphs, "Terms the reader may want explained include "+joinPhrases(terms)+".")
		}
	}

	if tip := clean(r.CoachTip); tip != "" {
		paragraphs = append(paragraphs, "The closing advice from the review was that "+ensureSentence(lowerFirst(tip)))
	}

	var caveats []string
	if r.Degraded {
		caveats = append(caveats, "parts of the review could not be recovered cleanly, so treat specific details with some caution")
	}
	if ungrounded := countUngrounded(r.Risks); ungrounded > 0 {
		caveats = append(caveats, fmt.Sprintf("%d of the cited clauses could not be located in the document text and deserve a second look", ungrounded))
	}
	if len(caveats) > 0 {
		paragraphs = append(paragraphs, "Keep in mind that "+strings.Join(caveats, ", and ")+".")
	}

	paragraphs = append(paragraphs, "Answer questions conversationally in plain sentences. Do not reproduce this summary as a list or as structured data.")
	return strings.Join(paragraphs, "\n\n")
}

func riskLead(n int) string {
	if n == 1 {
		return "One concern stood out."
	}
	return fmt.Sprintf("%d concerns stood out.", n)
}

func describeRisk(i int, risk RiskItem) string {
	ordinal := []string{"First", "Second", "Third", "Fourth", "Fifth"}
	lead := "Another"
	if i < len(ordinal) {
		lead = ordinal[i]
	}
	subject := clean(risk.Category)
	if subject == "" {
		subject = "a clause"
	}
	sentence := fmt.Sprintf("%s, %s", lead, lowerFirst(subject))
	if risk.Severity != "" {
		sentence += fmt.Sprintf(", rated %s", strings.ToLower(risk.Severity))
	}
	if ref := clean(risk.ClauseReference); ref != "" {
		sentence += fmt.Sprintf(", found in the part about %s", ref)
	}
	sentence += "."
	if explanation := clean(risk.Explanation); explanation != "" {
		sentence += " " + ensureSentence(explanation)
	}
	if suggestion := clean(risk.Suggestion); suggestion != "" {
		sentence += " The review suggests to " + ensureSentence(lowerFirst(suggestion))
	}
	return sentence
}

func countUngrounded(risks []RiskItem) int {
	var n int
	for _, risk := range risks {
		if risk.ClauseReference != "" && !risk.Grounded {
			n++
		}
	}
	return n
}

func clean(value string) string {
	return collapseSpace(structuralReplacer.Replace(value))
}

func ensureSentence(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	switch value[len(value)-1] {
	case '.', '!', '?':
		return value
	}
	return value + "."
}

func lowerFirst(value string) string {
	runes := []rune(value)
	if len(runes) == 0 {
		return value
	}
	// Keep acronyms such as "NDA" intact.
	if len(runes) > 1 && unicode.IsUpper(runes[0]) && unicode.IsUpper(runes[1]) {
		return value
	}
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func joinPhrases(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
