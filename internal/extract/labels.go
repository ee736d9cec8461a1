package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// LabelSet maps canonical fields to the surface forms a model is known to use
// for them. Synonyms are stored normalized (see NormalizeLabel).
type LabelSet struct {
	synonyms map[Field][]string
	exact    map[string]Field
}

// labelFile is the on-disk YAML shape:
//
//	fields:
//	  risk_level: ["Risk Level", "overall risk"]
//	  recommendations: ["next steps"]
type labelFile struct {
	Fields  map[string][]string `yaml:"fields"`
	Replace bool                `yaml:"replace"`
}

var defaultSynonyms = map[Field][]string{
	FieldDocumentType:    {"document type", "type of document", "doc type", "document", "contract type", "agreement type", "document classification", "classification"},
	FieldRiskLevel:       {"risk level", "risk", "overall risk", "overall risk level", "risk rating", "risk score", "risk assessment"},
	FieldRisks:           {"risks", "key risks", "identified risks", "risk factors", "risk items", "risky clauses", "red flags", "concerns", "issues"},
	FieldRecommendations: {"recommendations", "recommendation", "recommended actions", "next steps", "suggestions", "action items"},
	FieldConfidence:      {"confidence", "confidence score", "confidence level", "certainty"},
	FieldIsLegal:         {"is legal", "legal document", "is legal document", "is a legal document"},
	FieldVerdict:         {"verdict", "final verdict", "overall verdict", "decision", "bottom line"},
	FieldGlossary:        {"glossary", "key terms", "definitions", "jargon", "legal terms", "terms explained"},
	FieldCoachTip:        {"coach tip", "coaching tip", "insider tip", "pro tip", "tip", "coach"},
}

// DefaultLabels returns the built-in synonym table.
func DefaultLabels() LabelSet {
	return newLabelSet(defaultSynonyms)
}

// LoadLabels reads a YAML synonym table. Entries extend the defaults unless
// the file sets replace: true.
func LoadLabels(path string) (LabelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LabelSet{}, fmt.Errorf("read label file: %w", err)
	}
	return ParseLabels(data)
}

// ParseLabels decodes a YAML synonym table.
func ParseLabels(data []byte) (LabelSet, error) {
	var file labelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return LabelSet{}, fmt.Errorf("decode label file: %w", err)
	}
	if len(file.Fields) == 0 {
		return LabelSet{}, errors.New("label file defines no fields")
	}

	merged := make(map[Field][]string, len(Fields))
	if !file.Replace {
		for field, synonyms := range defaultSynonyms {
			merged[field] = append([]string(nil), synonyms...)
		}
	}
	for key, synonyms := range file.Fields {
		field := Field(NormalizeKey(key))
		if !field.Valid() {
			return LabelSet{}, fmt.Errorf("label file: unknown field %q", key)
		}
		merged[field] = append(merged[field], synonyms...)
	}
	return newLabelSet(merged), nil
}

func newLabelSet(source map[Field][]string) LabelSet {
	set := LabelSet{
		synonyms: make(map[Field][]string, len(source)),
		exact:    make(map[string]Field),
	}
	for _, field := range Fields {
		forms := append([]string{string(field)}, source[field]...)
		seen := make(map[string]struct{}, len(forms))
		for _, form := range forms {
			label := NormalizeLabel(form)
			if label == "" {
				continue
			}
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			set.synonyms[field] = append(set.synonyms[field], label)
			// first field to claim a surface form keeps it
			if _, taken := set.exact[label]; !taken {
				set.exact[label] = field
			}
		}
	}
	return set
}

// Synonyms returns the normalized surface forms for field.
func (s LabelSet) Synonyms(field Field) []string {
	return append([]string(nil), s.synonyms[field]...)
}

// Lookup returns the field whose synonym list contains label verbatim.
func (s LabelSet) Lookup(label string) (Field, bool) {
	field, ok := s.exact[NormalizeLabel(label)]
	return field, ok
}

func (s LabelSet) empty() bool {
	return len(s.exact) == 0
}

// NormalizeLabel folds a surface label to its comparison form: NFKC, lower
// case, markdown markers and trailing punctuation removed, underscores and
// hyphens as spaces, a trailing parenthetical dropped.
func NormalizeLabel(label string) string {
	label = norm.NFKC.String(label)
	label = strings.ToLower(label)
	label = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-':
			return ' '
		case '*', '#', '`', '"', '\'', '>':
			return -1
		}
		return r
	}, label)
	label = strings.TrimSpace(label)
	if open := strings.LastIndex(label, "("); open > 0 && strings.HasSuffix(label, ")") {
		label = label[:open]
	}
	label = strings.TrimRightFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	label = strings.TrimLeftFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	return strings.Join(strings.Fields(label), " ")
}

// NormalizeKey renders a label in wire-key form ("Risk Level" -> "risk_level").
func NormalizeKey(label string) string {
	return strings.ReplaceAll(NormalizeLabel(label), " ", "_")
}
