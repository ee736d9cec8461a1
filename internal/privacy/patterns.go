package privacy

import (
	"context"
	"regexp"
	"slices"
	"unicode/utf8"
)

var detectorPatterns = map[string]*regexp.Regexp{
	"EMAIL_ADDRESS": regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	"PHONE_NUMBER":  regexp.MustCompile(`\+?\(?\d{1,4}\)?[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`),
	"IBAN_CODE":     regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){3,7}\b`),
}

// PatternDetector finds a fixed set of entities with regular expressions. It
// does not detect names or places and exists for development setups without
// an analyzer service.
type PatternDetector struct {
	entities []string
}

// NewPatternDetector limits detection to the given entity types; an empty
// list enables every supported pattern.
func NewPatternDetector(entities ...string) *PatternDetector {
	return &PatternDetector{entities: entities}
}

// Detect implements Detector.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]Span, error) {
	var spans []Span
	for entity, pattern := range detectorPatterns {
		if len(d.entities) > 0 && !slices.Contains(d.entities, entity) {
			continue
		}
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{
				Entity: entity,
				Start:  utf8.RuneCountInString(text[:loc[0]]),
				End:    utf8.RuneCountInString(text[:loc[1]]),
				Score:  0.9,
			})
		}
	}
	return spans, nil
}
