package extract

import "counsel/internal/analysis"

// ParseMode records which path produced a result.
type ParseMode string

const (
	ModeStrict   ParseMode = "strict"
	ModeFallback ParseMode = "fallback"
)

// ParseResult is either Strict or Fallback. Normalizer.Reduce collapses it to
// one record.
type ParseResult interface {
	Mode() ParseMode
	parseResult()
}

// Strict carries a record that matched the canonical schema exactly.
type Strict struct {
	Record analysis.Record
}

func (Strict) Mode() ParseMode { return ModeStrict }
func (Strict) parseResult()    {}

// Fallback carries whatever fields best-effort extraction recovered.
type Fallback struct {
	Fields map[Field]Recovered
	Flags  Flags
}

func (Fallback) Mode() ParseMode { return ModeFallback }
func (Fallback) parseResult()    {}

// Recovered is one field value and whether its label was matched fuzzily.
// Value holds string, []string, []analysis.RiskItem, []analysis.GlossaryTerm,
// float64 or bool depending on the field.
type Recovered struct {
	Value    any
	WasFuzzy bool
	Label    string
}

// Flags summarize how a fallback extraction went.
type Flags struct {
	// EmbeddedJSON is set when a JSON object inside the output supplied keys.
	EmbeddedJSON bool
	// Drift lists labels that resolved to no canonical field.
	Drift []string
	// Conflicts lists fields that were labelled more than once.
	Conflicts []Conflict
}

// Conflict records a duplicate label and which occurrence was kept.
type Conflict struct {
	Field  Field
	Labels []string
	Policy ConflictPolicy
}

// Attempt is the transient bookkeeping for one normalization. It is returned
// for diagnostics and calibration and is never retained by the pipeline.
type Attempt struct {
	RawOutput       string
	ParseMode       ParseMode
	ParseError      error
	RecoveredFields map[Field]Recovered
	// Unparsed is set when nothing at all could be recovered.
	Unparsed  bool
	Drift     []string
	Conflicts []Conflict
}

// FuzzyCount returns how many recovered fields needed fuzzy resolution.
func (a Attempt) FuzzyCount() int {
	var n int
	for _, rec := range a.RecoveredFields {
		if rec.WasFuzzy {
			n++
		}
	}
	return n
}
