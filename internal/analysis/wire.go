package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrSchemaMismatch is returned by DecodeStrict when the payload is not an
// exact canonical object.
var ErrSchemaMismatch = errors.New("payload does not match canonical schema")

// wireRecord is the JSON object the model is asked to emit. Required keys are
// pointers so absence and zero values stay distinguishable.
type wireRecord struct {
	IsLegal         *bool          `json:"is_legal,omitempty"`
	DocumentType    *string        `json:"document_type"`
	RiskLevel       *string        `json:"risk_level"`
	Risks           *[]RiskItem    `json:"risks"`
	Recommendations *[]string      `json:"recommendations"`
	Confidence      *float64       `json:"confidence"`
	Verdict         string         `json:"verdict,omitempty"`
	Glossary        []GlossaryTerm `json:"glossary,omitempty"`
	CoachTip        string         `json:"coach_tip,omitempty"`
}

// RequiredKeys lists the keys a strict payload must carry.
var RequiredKeys = []string{"document_type", "risk_level", "risks", "recommendations", "confidence"}

// Serialize renders the record as its canonical JSON object. Degraded is a
// property of how a record was recovered and is not part of the model's
// schema; Report carries it for clients.
func (r Record) Serialize() string {
	return encodeWire(r.wire())
}

// Report renders the canonical object plus the degraded flag, the form
// handed to clients.
func (r Record) Report() json.RawMessage {
	n := r.Normalized()
	return json.RawMessage(encodeWire(struct {
		wireRecord
		Degraded bool `json:"degraded"`
	}{wireRecord: n.wire(), Degraded: n.Degraded}))
}

func (r Record) wire() wireRecord {
	n := r.Normalized()
	legal := !n.Rejected
	return wireRecord{
		IsLegal:         &legal,
		DocumentType:    &n.DocumentType,
		RiskLevel:       &n.RiskLevel,
		Risks:           &n.Risks,
		Recommendations: &n.Recommendations,
		Confidence:      &n.Confidence,
		Verdict:         n.Verdict,
		Glossary:        n.Glossary,
		CoachTip:        n.CoachTip,
	}
}

func encodeWire(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}

// DecodeStrict parses payload as exactly one canonical object: every required
// key present with the right type, no unknown keys, nothing trailing.
func DecodeStrict(payload string) (Record, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(payload)))
	dec.DisallowUnknownFields()

	var wire wireRecord
	if err := dec.Decode(&wire); err != nil {
		return Empty(), fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Empty(), fmt.Errorf("%w: trailing data after object", ErrSchemaMismatch)
	}
	var missing []string
	if wire.DocumentType == nil {
		missing = append(missing, "document_type")
	}
	if wire.RiskLevel == nil {
		missing = append(missing, "risk_level")
	}
	if wire.Risks == nil {
		missing = append(missing, "risks")
	}
	if wire.Recommendations == nil {
		missing = append(missing, "recommendations")
	}
	if wire.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return Empty(), fmt.Errorf("%w: missing %s", ErrSchemaMismatch, strings.Join(missing, ", "))
	}

	record := Record{
		DocumentType:    *wire.DocumentType,
		RiskLevel:       *wire.RiskLevel,
		Risks:           *wire.Risks,
		Recommendations: *wire.Recommendations,
		Confidence:      *wire.Confidence,
		Rejected:        wire.IsLegal != nil && !*wire.IsLegal,
		Verdict:         wire.Verdict,
		Glossary:        wire.Glossary,
		CoachTip:        wire.CoachTip,
	}
	return record.Normalized(), nil
}
