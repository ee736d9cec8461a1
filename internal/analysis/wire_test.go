package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		DocumentType: "Employment Agreement",
		RiskLevel:    RiskHigh,
		Risks: []RiskItem{{
			Category:        "Non-compete",
			Severity:        RiskHigh,
			ClauseReference: "Clause 9",
			Explanation:     "Restricts work for 24 months.",
			Suggestion:      "Reduce to 6 months.",
			Grounded:        true,
		}},
		Recommendations: []string{"Negotiate the non-compete <b>term</b>"},
		Confidence:      0.85,
		Verdict:         VerdictNegotiate,
		Glossary:        []GlossaryTerm{{Term: "Garden leave", Definition: "Paid time away before leaving."}},
		CoachTip:        "Employers expect a counter-offer.",
	}.Normalized()
}

func TestSerializeDecodeStrictRoundTrip(t *testing.T) {
	r := sampleRecord()
	decoded, err := DecodeStrict(r.Serialize())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestSerializeRoundTripEmpty(t *testing.T) {
	r := Empty()
	decoded, err := DecodeStrict(r.Serialize())
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestSerializeKeepsRejection(t *testing.T) {
	r := Empty()
	r.Rejected = true
	payload := r.Serialize()
	assert.Contains(t, payload, `"is_legal":false`)
	decoded, err := DecodeStrict(payload)
	require.NoError(t, err)
	assert.True(t, decoded.Rejected)
}

func TestSerializeDoesNotEscapeHTML(t *testing.T) {
	assert.Contains(t, sampleRecord().Serialize(), "<b>term</b>")
}

func TestReportCarriesDegradedFlag(t *testing.T) {
	r := sampleRecord()
	r.Degraded = true

	var decoded Record
	require.NoError(t, json.Unmarshal(r.Report(), &decoded))
	assert.True(t, decoded.Degraded)
	assert.Equal(t, r.DocumentType, decoded.DocumentType)
	assert.NotContains(t, r.Serialize(), "degraded")

	clean := sampleRecord()
	assert.Contains(t, string(clean.Report()), `"degraded":false`)
}

func TestDecodeStrictRejectsNonCanonicalPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"prose", "Sure! Here is the analysis."},
		{"missing key", `{"document_type":"NDA","risk_level":"Low","risks":[],"recommendations":[]}`},
		{"unknown key", `{"document_type":"NDA","risk_level":"Low","risks":[],"recommendations":[],"confidence":0.5,"mood":"calm"}`},
		{"wrong type", `{"document_type":"NDA","risk_level":"Low","risks":"none","recommendations":[],"confidence":0.5}`},
		{"trailing data", `{"document_type":"NDA","risk_level":"Low","risks":[],"recommendations":[],"confidence":0.5} thanks`},
		{"null required", `{"document_type":null,"risk_level":"Low","risks":[],"recommendations":[],"confidence":0.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := DecodeStrict(tt.payload)
			require.ErrorIs(t, err, ErrSchemaMismatch)
			assert.Equal(t, Empty(), record)
		})
	}
}

func TestDecodeStrictNormalizesValues(t *testing.T) {
	record, err := DecodeStrict(`{"document_type":" NDA ","risk_level":"moderate","risks":[],"recommendations":["  sign "],"confidence":7}`)
	require.NoError(t, err)
	assert.Equal(t, "NDA", record.DocumentType)
	assert.Equal(t, RiskMedium, record.RiskLevel)
	assert.Equal(t, []string{"sign"}, record.Recommendations)
	assert.Equal(t, 1.0, record.Confidence)
	assert.False(t, record.Rejected)
}
