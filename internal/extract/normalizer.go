package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"counsel/internal/analysis"
	"counsel/internal/logging"
)

// ConflictPolicy decides which value survives when a field is labelled more
// than once.
type ConflictPolicy string

const (
	// ConflictFirst keeps the first non-empty value in document order.
	ConflictFirst ConflictPolicy = "first"
	// ConflictLast keeps the last non-empty value.
	ConflictLast ConflictPolicy = "last"
	// ConflictMerge concatenates list fields and keeps the first scalar.
	ConflictMerge ConflictPolicy = "merge"
)

// ParseConflictPolicy resolves a configured policy name.
func ParseConflictPolicy(name string) (ConflictPolicy, error) {
	switch policy := ConflictPolicy(strings.ToLower(strings.TrimSpace(name))); policy {
	case "":
		return ConflictFirst, nil
	case ConflictFirst, ConflictLast, ConflictMerge:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want first, last, or merge)", name)
	}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLabels replaces the synonym table.
func WithLabels(labels LabelSet) Option {
	return func(n *Normalizer) {
		if !labels.empty() {
			n.labels = labels
		}
	}
}

// WithThreshold sets the minimum similarity for fuzzy label resolution.
func WithThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		if threshold > 0 && threshold <= 1 {
			n.threshold = threshold
		}
	}
}

// WithSimilarity sets the fuzzy similarity function.
func WithSimilarity(sim Similarity) Option {
	return func(n *Normalizer) {
		if sim != nil {
			n.similarity = sim
		}
	}
}

// WithConflictPolicy sets the duplicate-label policy.
func WithConflictPolicy(policy ConflictPolicy) Option {
	return func(n *Normalizer) {
		if policy != "" {
			n.policy = policy
		}
	}
}

// WithLogger routes drift and conflict diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logging.NewComponentLogger(logger, "extract")
	}
}

// WithObserver registers a callback invoked as each field is recovered.
// The callback runs synchronously on the normalizing goroutine.
func WithObserver(fn func(field Field, value any)) Option {
	return func(n *Normalizer) {
		n.observer = fn
	}
}

// Normalizer turns raw model output into an analysis.Record. A Normalizer is
// immutable after construction and safe for concurrent use.
type Normalizer struct {
	labels     LabelSet
	similarity Similarity
	threshold  float64
	policy     ConflictPolicy
	logger     *slog.Logger
	observer   func(Field, any)
}

// NewNormalizer constructs a normalizer with default labels, edit-distance
// similarity, DefaultThreshold and the first-wins conflict policy.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		labels:     DefaultLabels(),
		similarity: EditSimilarity,
		threshold:  DefaultThreshold,
		policy:     ConflictFirst,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// With returns a copy of n with opts applied.
func (n *Normalizer) With(opts ...Option) *Normalizer {
	clone := *n
	for _, opt := range opts {
		opt(&clone)
	}
	return &clone
}

// Threshold returns the fuzzy acceptance threshold.
func (n *Normalizer) Threshold() float64 { return n.threshold }

var defaultNormalizer = NewNormalizer()

// Normalize converts raw output with the default normalizer.
func Normalize(raw string) analysis.Record {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts raw output into a record. It never fails: output with
// nothing recognizable yields an empty, degraded record.
func (n *Normalizer) Normalize(raw string) analysis.Record {
	result, _ := n.Attempt(raw)
	return n.Reduce(result)
}

// Attempt runs strict parsing and, if that fails, fallback extraction. The
// returned Attempt describes how the result was obtained.
func (n *Normalizer) Attempt(raw string) (ParseResult, Attempt) {
	attempt := Attempt{RawOutput: raw}

	record, err := analysis.DecodeStrict(raw)
	if err == nil {
		attempt.ParseMode = ModeStrict
		attempt.RecoveredFields = fieldsOf(record)
		for _, field := range Fields {
			if rec, ok := attempt.RecoveredFields[field]; ok && n.observer != nil {
				n.observer(field, rec.Value)
			}
		}
		return Strict{Record: record}, attempt
	}
	attempt.ParseMode = ModeFallback
	attempt.ParseError = err

	c := newCollector(n)
	// invalid bytes would otherwise split labels from their values
	clean := strings.ToValidUTF8(raw, "")
	text := clean
	if span := c.scanJSON(clean); span != "" {
		text = strings.Replace(clean, span, "", 1)
	}
	c.scanLabels(text)

	flags := c.flags()
	attempt.RecoveredFields = c.fields
	attempt.Unparsed = len(c.fields) == 0
	attempt.Drift = flags.Drift
	attempt.Conflicts = flags.Conflicts

	n.logger.Debug("fallback extraction",
		logging.String(logging.FieldEventType, "fallback_extraction"),
		logging.Int("raw_length", len(raw)),
		logging.Int("recovered", len(c.fields)),
		logging.Int("fuzzy", attempt.FuzzyCount()),
		logging.Int("drift", len(flags.Drift)),
		logging.Int("conflicts", len(flags.Conflicts)),
		logging.Bool("embedded_json", flags.EmbeddedJSON),
	)
	return Fallback{Fields: c.fields, Flags: flags}, attempt
}

// Reduce collapses a ParseResult into one record. Strict results are returned
// as-is. Fallback results are degraded when a required field is empty or any
// core field was not recovered.
func (n *Normalizer) Reduce(result ParseResult) analysis.Record {
	switch r := result.(type) {
	case Strict:
		record := r.Record.Normalized()
		record.Degraded = false
		return record
	case Fallback:
		return assemble(r.Fields)
	default:
		record := analysis.Empty()
		record.Degraded = true
		return record
	}
}

func assemble(fields map[Field]Recovered) analysis.Record {
	record := analysis.Empty()
	for field, rec := range fields {
		switch field {
		case FieldDocumentType:
			record.DocumentType, _ = rec.Value.(string)
		case FieldRiskLevel:
			record.RiskLevel, _ = rec.Value.(string)
		case FieldVerdict:
			record.Verdict, _ = rec.Value.(string)
		case FieldCoachTip:
			record.CoachTip, _ = rec.Value.(string)
		case FieldRisks:
			if v, ok := rec.Value.([]analysis.RiskItem); ok {
				record.Risks = append([]analysis.RiskItem{}, v...)
			}
		case FieldRecommendations:
			if v, ok := rec.Value.([]string); ok {
				record.Recommendations = append([]string{}, v...)
			}
		case FieldGlossary:
			if v, ok := rec.Value.([]analysis.GlossaryTerm); ok {
				record.Glossary = append([]analysis.GlossaryTerm{}, v...)
			}
		case FieldConfidence:
			record.Confidence, _ = rec.Value.(float64)
		case FieldIsLegal:
			if legal, ok := rec.Value.(bool); ok {
				record.Rejected = !legal
			}
		}
	}
	record = record.Normalized()

	for _, field := range CoreFields {
		if _, ok := fields[field]; !ok {
			record.Degraded = true
		}
	}
	if record.DocumentType == "" || record.RiskLevel == "" {
		record.Degraded = true
	}
	return record
}

// fieldsOf lists the non-empty fields of a strictly parsed record.
func fieldsOf(r analysis.Record) map[Field]Recovered {
	out := make(map[Field]Recovered, len(Fields))
	add := func(field Field, value any) {
		if !isEmptyValue(value) {
			out[field] = Recovered{Value: value, Label: string(field)}
		}
	}
	add(FieldDocumentType, r.DocumentType)
	add(FieldRiskLevel, r.RiskLevel)
	add(FieldRisks, r.Risks)
	add(FieldRecommendations, r.Recommendations)
	out[FieldConfidence] = Recovered{Value: r.Confidence, Label: string(FieldConfidence)}
	out[FieldIsLegal] = Recovered{Value: !r.Rejected, Label: string(FieldIsLegal)}
	add(FieldVerdict, r.Verdict)
	add(FieldGlossary, r.Glossary)
	add(FieldCoachTip, r.CoachTip)
	return out
}
