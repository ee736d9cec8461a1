package privacy_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/internal/privacy"
	"counsel/internal/services"
)

type stubDetector struct {
	spans []privacy.Span
	err   error
	calls int
}

func (s *stubDetector) Detect(context.Context, string) ([]privacy.Span, error) {
	s.calls++
	return s.spans, s.err
}

// spansFor locates each needle in text and returns rune-offset spans.
func spansFor(text string, entity string, needles ...string) []privacy.Span {
	var spans []privacy.Span
	for _, needle := range needles {
		from := 0
		for {
			idx := strings.Index(text[from:], needle)
			if idx < 0 {
				break
			}
			byteStart := from + idx
			start := utf8.RuneCountInString(text[:byteStart])
			spans = append(spans, privacy.Span{
				Entity: entity,
				Start:  start,
				End:    start + utf8.RuneCountInString(needle),
				Score:  0.85,
			})
			from = byteStart + len(needle)
		}
	}
	return spans
}

func TestAnonymizeAndRestore(t *testing.T) {
	text := "This Agreement is between Zoë Müller and Acme Ltd. Zoë Müller may be reached at zoe@example.com."
	spans := append(spansFor(text, "PERSON", "Zoë Müller"), spansFor(text, "EMAIL_ADDRESS", "zoe@example.com")...)
	anonymizer := privacy.NewAnonymizer(&stubDetector{spans: spans})

	result, err := anonymizer.Anonymize(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, "This Agreement is between <PERSON_1> and Acme Ltd. <PERSON_1> may be reached at <EMAIL_ADDRESS_1>.", result.Text)
	assert.Equal(t, 2, result.Map.Len())
	assert.Equal(t, 1, result.Entities["PERSON"])
	assert.Equal(t, text, result.Map.Restore(result.Text))

	original, ok := result.Map.Original("<PERSON_1>")
	require.True(t, ok)
	assert.Equal(t, "Zoë Müller", original)
}

func TestAnonymizeDistinctSpansGetDistinctTokens(t *testing.T) {
	text := "Signed by Ann Lee and Bob Ray in Paris."
	spans := append(spansFor(text, "person", "Ann Lee", "Bob Ray"), spansFor(text, "LOCATION", "Paris")...)
	result, err := privacy.NewAnonymizer(&stubDetector{spans: spans}).Anonymize(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "Signed by <PERSON_1> and <PERSON_2> in <LOCATION_1>.", result.Text)
	assert.Equal(t, text, result.Map.Restore(result.Text))
}

func TestAnonymizeAvoidsTokensPresentInText(t *testing.T) {
	text := "Template placeholder <PERSON_1> is replaced by Jane Roe."
	result, err := privacy.NewAnonymizer(&stubDetector{spans: spansFor(text, "PERSON", "Jane Roe")}).
		Anonymize(context.Background(), text)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "<PERSON_2>")
	assert.Equal(t, text, result.Map.Restore(result.Text))
}

func TestAnonymizeResolvesOverlapsAndFiltersScores(t *testing.T) {
	text := "Contact John Smith Jr at the office."
	start := strings.Index(text, "John")
	spans := []privacy.Span{
		{Entity: "PERSON", Start: start, End: start + 4, Score: 0.9},
		{Entity: "PERSON", Start: start, End: start + len("John Smith Jr"), Score: 0.7},
		{Entity: "LOCATION", Start: start + 5, End: start + 10, Score: 0.95},
		{Entity: "LOCATION", Start: strings.Index(text, "office"), End: strings.Index(text, "office") + 6, Score: 0.1},
		{Entity: "PERSON", Start: 40, End: 50, Score: 1},
	}
	result, err := privacy.NewAnonymizer(&stubDetector{spans: spans}, privacy.WithMinScore(0.5)).
		Anonymize(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "Contact <PERSON_1> at the office.", result.Text)
	assert.Equal(t, text, result.Map.Restore(result.Text))
}

func TestAnonymizeDetectorFailureIsPrivacyError(t *testing.T) {
	anonymizer := privacy.NewAnonymizer(&stubDetector{err: errors.New("connection refused")})
	_, err := anonymizer.Anonymize(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrPrivacy)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPassthrough(t *testing.T) {
	anonymizer := privacy.NewAnonymizer(nil)
	assert.True(t, anonymizer.Passthrough())
	result, err := anonymizer.Anonymize(context.Background(), "Jane Roe")
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", result.Text)
	assert.Zero(t, result.Map.Len())
}

func TestMapFromTokensRoundTrip(t *testing.T) {
	m := privacy.MapFromTokens(map[string]string{"<PERSON_1>": "Ann", "<PERSON_10>": "Bob"})
	assert.Equal(t, "Ann met Bob", m.Restore("<PERSON_1> met <PERSON_10>"))
	token, ok := m.Token("Bob")
	require.True(t, ok)
	assert.Equal(t, "<PERSON_10>", token)

	tokens := m.Tokens()
	tokens["<PERSON_1>"] = "changed"
	assert.Equal(t, "Ann", m.Tokens()["<PERSON_1>"])

	var nilMap *privacy.Map
	assert.Equal(t, "<PERSON_1>", nilMap.Restore("<PERSON_1>"))
}

func TestMapApplyTokenizesKnownSpans(t *testing.T) {
	m := privacy.MapFromTokens(map[string]string{"<PERSON_1>": "Ann", "<PERSON_2>": "Ann Lee"})
	assert.Equal(t, "Is <PERSON_2> bound, or <PERSON_1>? Ask Bob.", m.Apply("Is Ann Lee bound, or Ann? Ask Bob."))

	var nilMap *privacy.Map
	assert.Equal(t, "Ann", nilMap.Apply("Ann"))
}

func TestPatternDetector(t *testing.T) {
	text := "Write to légal@example.org or call +44 20 7946 0958. IBAN GB82 WEST 1234 5698 7654 32."
	detector := privacy.NewPatternDetector()
	spans, err := detector.Detect(context.Background(), text)
	require.NoError(t, err)

	result, err := privacy.NewAnonymizer(detector).Anonymize(context.Background(), text)
	require.NoError(t, err)
	assert.NotEmpty(t, spans)
	assert.NotContains(t, result.Text, "example.org")
	assert.NotContains(t, result.Text, "7946")
	assert.Equal(t, text, result.Map.Restore(result.Text))

	emailOnly, err := privacy.NewPatternDetector("EMAIL_ADDRESS").Detect(context.Background(), text)
	require.NoError(t, err)
	for _, span := range emailOnly {
		assert.Equal(t, "EMAIL_ADDRESS", span.Entity)
	}
}
