package extract

import (
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"counsel/internal/analysis"
)

// GoldenCase is one labelled model output from the calibration corpus.
type GoldenCase struct {
	Name   string       `yaml:"name"`
	Raw    string       `yaml:"raw"`
	Expect GoldenExpect `yaml:"expect"`
}

// GoldenExpect lists the values a case must normalize to. Nil entries are not
// checked.
type GoldenExpect struct {
	DocumentType    *string  `yaml:"document_type"`
	RiskLevel       *string  `yaml:"risk_level"`
	RiskCount       *int     `yaml:"risk_count"`
	Recommendations []string `yaml:"recommendations"`
	Confidence      *float64 `yaml:"confidence"`
	Rejected        *bool    `yaml:"rejected"`
	Degraded        *bool    `yaml:"degraded"`
}

type goldenFile struct {
	Cases []GoldenCase `yaml:"cases"`
}

// LoadGolden reads a YAML golden set.
func LoadGolden(path string) ([]GoldenCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read golden set: %w", err)
	}
	var file goldenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode golden set: %w", err)
	}
	if len(file.Cases) == 0 {
		return nil, fmt.Errorf("golden set %s has no cases", path)
	}
	return file.Cases, nil
}

// Score summarizes a golden-set run at one threshold.
type Score struct {
	Threshold     float64
	Cases         int
	Checks        int
	Passed        int
	FieldAccuracy float64
	// DegradedRate is the share of cases normalized to a degraded record.
	DegradedRate float64
	FuzzyMatches int
	Drift        int
	Failures     []string
}

// Evaluate normalizes every case at each threshold and scores the results.
func Evaluate(cases []GoldenCase, thresholds []float64, opts ...Option) []Score {
	if len(thresholds) == 0 {
		thresholds = []float64{DefaultThreshold}
	}
	scores := make([]Score, 0, len(thresholds))
	for _, threshold := range thresholds {
		n := NewNormalizer(append(slices.Clone(opts), WithThreshold(threshold))...)
		score := Score{Threshold: threshold, Cases: len(cases)}
		var degraded int
		for _, tc := range cases {
			result, attempt := n.Attempt(tc.Raw)
			record := n.Reduce(result)
			if record.Degraded {
				degraded++
			}
			score.FuzzyMatches += attempt.FuzzyCount()
			score.Drift += len(attempt.Drift)
			for _, failure := range tc.check(record) {
				score.Failures = append(score.Failures, tc.Name+": "+failure)
			}
			score.Checks += tc.Expect.count()
		}
		score.Passed = score.Checks - len(score.Failures)
		if score.Checks > 0 {
			score.FieldAccuracy = float64(score.Passed) / float64(score.Checks)
		}
		if score.Cases > 0 {
			score.DegradedRate = float64(degraded) / float64(score.Cases)
		}
		scores = append(scores, score)
	}
	return scores
}

func (e GoldenExpect) count() int {
	n := 0
	for _, set := range []bool{
		e.DocumentType != nil, e.RiskLevel != nil, e.RiskCount != nil, e.Recommendations != nil,
		e.Confidence != nil, e.Rejected != nil, e.Degraded != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (tc GoldenCase) check(r analysis.Record) []string {
	var failures []string
	e := tc.Expect
	if e.DocumentType != nil && r.DocumentType != *e.DocumentType {
		failures = append(failures, fmt.Sprintf("document_type %q, want %q", r.DocumentType, *e.DocumentType))
	}
	if e.RiskLevel != nil && r.RiskLevel != *e.RiskLevel {
		failures = append(failures, fmt.Sprintf("risk_level %q, want %q", r.RiskLevel, *e.RiskLevel))
	}
	if e.RiskCount != nil && len(r.Risks) != *e.RiskCount {
		failures = append(failures, fmt.Sprintf("%d risks, want %d", len(r.Risks), *e.RiskCount))
	}
	if e.Recommendations != nil && !slices.Equal(r.Recommendations, e.Recommendations) {
		failures = append(failures, fmt.Sprintf("recommendations %q, want %q", r.Recommendations, e.Recommendations))
	}
	if e.Confidence != nil && math.Abs(r.Confidence-*e.Confidence) > 1e-9 {
		failures = append(failures, fmt.Sprintf("confidence %v, want %v", r.Confidence, *e.Confidence))
	}
	if e.Rejected != nil && r.Rejected != *e.Rejected {
		failures = append(failures, fmt.Sprintf("rejected %v, want %v", r.Rejected, *e.Rejected))
	}
	if e.Degraded != nil && r.Degraded != *e.Degraded {
		failures = append(failures, fmt.Sprintf("degraded %v, want %v", r.Degraded, *e.Degraded))
	}
	return failures
}
