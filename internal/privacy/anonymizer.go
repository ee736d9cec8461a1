package privacy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"counsel/internal/logging"
	"counsel/internal/services"
)

// Span is one detected sensitive region, in rune offsets [Start, End).
type Span struct {
	Entity string
	Start  int
	End    int
	Score  float64
}

// Detector finds sensitive spans in text.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Span, error)
}

// Result is an anonymized text and the map that reverses it.
type Result struct {
	Text     string
	Map      *Map
	Entities map[string]int
}

// Anonymizer turns detector spans into placeholder tokens.
type Anonymizer struct {
	detector Detector
	minScore float64
	logger   *slog.Logger
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithMinScore drops spans scored below min.
func WithMinScore(min float64) Option {
	return func(a *Anonymizer) {
		a.minScore = min
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Anonymizer) {
		a.logger = logging.NewComponentLogger(logger, "privacy")
	}
}

// NewAnonymizer wraps a detector. A nil detector yields passthrough mode,
// which returns text unchanged and should only be used in development.
func NewAnonymizer(detector Detector, opts ...Option) *Anonymizer {
	a := &Anonymizer{detector: detector, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Passthrough reports whether the anonymizer leaves text untouched.
func (a *Anonymizer) Passthrough() bool { return a.detector == nil }

// Anonymize detects sensitive spans and replaces them with tokens. Identical
// spans share a token. Errors carry services.ErrPrivacy.
func (a *Anonymizer) Anonymize(ctx context.Context, text string) (Result, error) {
	if a.detector == nil {
		return Result{Text: text, Map: NewMap(), Entities: map[string]int{}}, nil
	}
	spans, err := a.detector.Detect(ctx, text)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPrivacy, "anonymizing", "detect entities", "", err)
	}
	result, err := apply(text, a.selectSpans(spans, len([]rune(text))))
	if err != nil {
		return Result{}, services.Wrap(services.ErrPrivacy, "anonymizing", "apply tokens", "", err)
	}
	if restored := result.Map.Restore(result.Text); restored != text {
		return Result{}, services.Wrap(services.ErrPrivacy, "anonymizing", "verify reversal", "anonymized text does not restore to the original", nil)
	}
	a.logger.Debug("document anonymized",
		logging.String(logging.FieldEventType, "anonymized"),
		logging.Int("spans", len(spans)),
		logging.Int("tokens", result.Map.Len()),
	)
	return result, nil
}

// selectSpans drops low-score and invalid spans and resolves overlaps,
// preferring the earlier span, then the longer, then the higher score.
func (a *Anonymizer) selectSpans(spans []Span, length int) []Span {
	valid := make([]Span, 0, len(spans))
	for _, span := range spans {
		if span.Start < 0 || span.End > length || span.Start >= span.End {
			continue
		}
		if span.Score < a.minScore {
			continue
		}
		span.Entity = strings.ToUpper(strings.TrimSpace(span.Entity))
		if span.Entity == "" {
			span.Entity = "ENTITY"
		}
		valid = append(valid, span)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		if li, lj := valid[i].End-valid[i].Start, valid[j].End-valid[j].Start; li != lj {
			return li > lj
		}
		return valid[i].Score > valid[j].Score
	})
	out := valid[:0]
	end := -1
	for _, span := range valid {
		if span.Start < end {
			continue
		}
		out = append(out, span)
		end = span.End
	}
	return out
}

func apply(text string, spans []Span) (Result, error) {
	runes := []rune(text)
	m := NewMap()
	counters := map[string]int{}
	entities := map[string]int{}
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, span := range spans {
		original := string(runes[span.Start:span.End])
		token, ok := m.Token(original)
		if !ok {
			token = nextToken(text, span.Entity, counters, m)
			m.add(original, token)
			entities[span.Entity]++
		}
		b.WriteString(string(runes[cursor:span.Start]))
		b.WriteString(token)
		cursor = span.End
	}
	if cursor > len(runes) {
		return Result{}, fmt.Errorf("span beyond text end")
	}
	b.WriteString(string(runes[cursor:]))
	return Result{Text: b.String(), Map: m, Entities: entities}, nil
}

// nextToken returns the next unused token for entity that does not already
// occur in the source text.
func nextToken(text, entity string, counters map[string]int, m *Map) string {
	for {
		counters[entity]++
		token := fmt.Sprintf("<%s_%d>", entity, counters[entity])
		if _, taken := m.Original(token); taken {
			continue
		}
		if strings.Contains(text, token) {
			continue
		}
		return token
	}
}
