package analysis

import (
	"strings"

	"counsel/internal/textutil"
)

// DefaultMaxInputChars bounds how much document text is sent for analysis.
const DefaultMaxInputChars = 15000

// Prompt is the system/user pair for the single analysis call.
type Prompt struct {
	System string
	User   string
}

const masterInstruction = `You are a senior legal counsel and career coach reviewing a document for a founder or early-career professional.
In a single pass:
1. VALIDATE: decide whether the text is a legal document (contract, agreement, policy, terms). Set is_legal accordingly.
2. DISCOVER: find complex jargon and define each term in plain language (glossary).
3. ANALYZE: apply this risk playbook and list each risk found:
   - Non-compete restrictions longer than 6 months are High risk.
   - Notice periods longer than 3 months are Medium risk.
   - IP assignment that reaches moral rights or work outside the engagement is High risk.
   - Indemnities running from the employee or contractor to the company are High risk.
   Quote the clause heading or a short exact phrase from the document in clause_reference.
4. COACH: give a verdict of Sign, Negotiate, or Walk, concrete recommendations, and one supportive insider tip.

Respond with one JSON object and nothing else. Keys:
  is_legal (boolean), document_type (string), risk_level (Low|Medium|High|Critical),
  risks (array of {category, severity, clause_reference, explanation, suggestion}),
  recommendations (array of strings), confidence (number between 0 and 1),
  verdict (Sign|Negotiate|Walk), glossary (array of {term, definition}), coach_tip (string).
Do not wrap the object in markdown fences. Do not add commentary before or after it.`

// BuildPrompt assembles the analysis prompt for the supplied (already
// anonymized) text, truncating it to maxChars runes.
func BuildPrompt(text string, maxChars int) Prompt {
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	body := textutil.Truncate(strings.TrimSpace(text), maxChars)
	return Prompt{
		System: masterInstruction,
		User:   "Contract content:\n" + body,
	}
}
