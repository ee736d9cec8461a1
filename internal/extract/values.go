package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"counsel/internal/analysis"
)

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	bulletPattern = regexp.MustCompile(`^(?:[-*+•●▪–]|\d{1,3}[.)])\s+`)
	// "Category (High)" or "Category [High]"
	severitySuffix = regexp.MustCompile(`\s*[(\[]([^()\[\]]+)[)\]]\s*$`)
)

var noneValues = map[string]struct{}{
	"none": {}, "n/a": {}, "na": {}, "nil": {}, "null": {}, "no": {}, "none identified": {},
	"none found": {}, "not applicable": {}, "-": {},
}

func isNone(value string) bool {
	_, ok := noneValues[strings.ToLower(strings.Trim(strings.TrimSpace(value), ".*_"))]
	return ok
}

// cleanValue trims whitespace, markdown emphasis and wrapping quotes.
func cleanValue(value string) string {
	value = strings.TrimSpace(value)
	for {
		trimmed := strings.TrimSpace(strings.Trim(value, "*_`"))
		if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
			trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		}
		if trimmed == value {
			return value
		}
		value = trimmed
	}
}

func stripBullet(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if loc := bulletPattern.FindStringIndex(trimmed); loc != nil {
		return strings.TrimSpace(trimmed[loc[1]:]), true
	}
	return trimmed, false
}

// ParseConfidence reads "0.85", "85%", "85/100" or "high (0.9)" style values
// and returns a score clamped to [0, 1].
func ParseConfidence(value string) (float64, bool) {
	match := numberPattern.FindString(value)
	if match == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	if strings.Contains(value, "%") || n > 1 {
		n /= 100
	}
	return analysis.ClampConfidence(n), true
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(cleanValue(strings.TrimRight(value, "."))) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}

// splitInline splits a single-line list value ("a; b; c").
func splitInline(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if part = cleanValue(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseRiskText turns "Non-compete (High): 24 months is excessive" into a
// RiskItem.
func parseRiskText(text string) analysis.RiskItem {
	text = cleanValue(text)
	head, body, found := strings.Cut(text, ":")
	if !found {
		head, body, found = cutDash(text)
	}
	if !found {
		return analysis.RiskItem{Explanation: text}
	}
	item := analysis.RiskItem{Explanation: cleanValue(body)}
	head = cleanValue(head)
	if m := severitySuffix.FindStringSubmatch(head); m != nil {
		item.Severity = m[1]
		head = strings.TrimSpace(head[:len(head)-len(m[0])])
	}
	item.Category = head
	return item
}

// cutDash splits on a spaced dash, the other common "term - definition" form.
func cutDash(text string) (string, string, bool) {
	for _, sep := range []string{" - ", " – ", " — "} {
		if before, after, ok := strings.Cut(text, sep); ok {
			return before, after, true
		}
	}
	return "", "", false
}

func parseGlossaryText(text string) (analysis.GlossaryTerm, bool) {
	text = cleanValue(text)
	term, def, found := strings.Cut(text, ":")
	if !found {
		term, def, found = cutDash(text)
	}
	if !found {
		return analysis.GlossaryTerm{}, false
	}
	term, def = cleanValue(term), cleanValue(def)
	if term == "" || def == "" {
		return analysis.GlossaryTerm{}, false
	}
	return analysis.GlossaryTerm{Term: term, Definition: def}, true
}

var riskKeySynonyms = map[string]string{
	"category":         "category",
	"type":             "category",
	"risk":             "category",
	"title":            "category",
	"name":             "category",
	"area":             "category",
	"severity":         "severity",
	"level":            "severity",
	"risk level":       "severity",
	"rating":           "severity",
	"clause reference": "clause_reference",
	"clause":           "clause_reference",
	"reference":        "clause_reference",
	"section":          "clause_reference",
	"quote":            "clause_reference",
	"explanation":      "explanation",
	"description":      "explanation",
	"details":          "explanation",
	"reason":           "explanation",
	"issue":            "explanation",
	"why":              "explanation",
	"suggestion":       "suggestion",
	"recommendation":   "suggestion",
	"mitigation":       "suggestion",
	"fix":              "suggestion",
	"action":           "suggestion",
	"grounded":         "grounded",
}

func riskAttribute(label string) (string, bool) {
	attr, ok := riskKeySynonyms[NormalizeLabel(label)]
	return attr, ok
}

func setRiskAttribute(item *analysis.RiskItem, attr, value string) bool {
	value = cleanValue(value)
	var slot *string
	switch attr {
	case "category":
		slot = &item.Category
	case "severity":
		slot = &item.Severity
	case "clause_reference":
		slot = &item.ClauseReference
	case "explanation":
		slot = &item.Explanation
	case "suggestion":
		slot = &item.Suggestion
	default:
		return false
	}
	if *slot != "" {
		return false
	}
	*slot = value
	return true
}

// coerce converts a decoded JSON value into the Go type field expects.
func coerce(field Field, raw any) (any, bool) {
	switch field.kind() {
	case kindText:
		text, ok := scalarText(raw)
		return text, ok && text != ""
	case kindNumber:
		switch v := raw.(type) {
		case float64:
			return analysis.ClampConfidence(v), true
		case string:
			return ParseConfidence(v)
		}
	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			return parseBool(v)
		}
	case kindList:
		items := coerceStrings(raw)
		return items, items != nil
	case kindRisks:
		return coerceRisks(raw)
	case kindGlossary:
		return coerceGlossary(raw)
	}
	return nil, false
}

func scalarText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return cleanValue(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case map[string]any:
		// {"level": "High", "reason": "..."} style wrappers
		for _, key := range sortedKeys(v) {
			if text, ok := scalarText(v[key]); ok && text != "" {
				return text, true
			}
		}
	}
	return "", false
}

func coerceStrings(raw any) []string {
	switch v := raw.(type) {
	case string:
		if isNone(v) {
			return []string{}
		}
		lines := strings.Split(v, "\n")
		if len(lines) == 1 {
			return splitInline(v)
		}
		out := []string{}
		for _, line := range lines {
			if text, _ := stripBullet(line); text != "" {
				out = append(out, cleanValue(text))
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if text, ok := scalarText(item); ok && text != "" {
				out = append(out, text)
			}
		}
		return out
	}
	return nil
}

func coerceRisks(raw any) (any, bool) {
	switch v := raw.(type) {
	case string:
		if isNone(v) {
			return []analysis.RiskItem{}, true
		}
		var out []analysis.RiskItem
		for _, line := range strings.Split(v, "\n") {
			if text, _ := stripBullet(line); text != "" {
				out = append(out, parseRiskText(text))
			}
		}
		return out, len(out) > 0
	case []any:
		out := make([]analysis.RiskItem, 0, len(v))
		for _, entry := range v {
			switch item := entry.(type) {
			case string:
				if strings.TrimSpace(item) != "" {
					out = append(out, parseRiskText(item))
				}
			case map[string]any:
				var risk analysis.RiskItem
				for _, key := range sortedKeys(item) {
					attr, ok := riskAttribute(key)
					if !ok {
						continue
					}
					if attr == "grounded" {
						risk.Grounded, _ = item[key].(bool)
						continue
					}
					if text, ok := scalarText(item[key]); ok {
						setRiskAttribute(&risk, attr, text)
					}
				}
				if !risk.Empty() {
					out = append(out, risk)
				}
			}
		}
		return out, true
	case map[string]any:
		// {"Non-compete": "24 months", ...}
		out := make([]analysis.RiskItem, 0, len(v))
		for _, key := range sortedKeys(v) {
			text, _ := scalarText(v[key])
			out = append(out, analysis.RiskItem{Category: cleanValue(key), Explanation: text})
		}
		return out, true
	}
	return nil, false
}

func coerceGlossary(raw any) (any, bool) {
	switch v := raw.(type) {
	case []any:
		out := make([]analysis.GlossaryTerm, 0, len(v))
		for _, entry := range v {
			switch item := entry.(type) {
			case string:
				if term, ok := parseGlossaryText(item); ok {
					out = append(out, term)
				}
			case map[string]any:
				var term analysis.GlossaryTerm
				for _, key := range sortedKeys(item) {
					text, _ := scalarText(item[key])
					switch NormalizeLabel(key) {
					case "term", "word", "name", "phrase":
						term.Term = text
					case "definition", "meaning", "explanation", "plain english", "description":
						term.Definition = text
					}
				}
				if term.Term != "" || term.Definition != "" {
					out = append(out, term)
				}
			}
		}
		return out, true
	case map[string]any:
		out := make([]analysis.GlossaryTerm, 0, len(v))
		for _, key := range sortedKeys(v) {
			text, _ := scalarText(v[key])
			out = append(out, analysis.GlossaryTerm{Term: cleanValue(key), Definition: text})
		}
		return out, true
	case string:
		if isNone(v) {
			return []analysis.GlossaryTerm{}, true
		}
		var out []analysis.GlossaryTerm
		for _, line := range strings.Split(v, "\n") {
			text, _ := stripBullet(line)
			if term, ok := parseGlossaryText(text); ok {
				out = append(out, term)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
