package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counsel/internal/analysis"
)

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"**Risk Level**:":       "risk level",
		"RISK_LEVEL":            "risk level",
		"## Key-Risks":          "key risks",
		"Confidence (0-1)":      "confidence",
		"  `document_type`  ":   "document type",
		"Ｒｉｓｋ　Ｌｅｖｅｌ": "risk level",
	}
	for input, want := range tests {
		assert.Equal(t, want, NormalizeLabel(input), "input %q", input)
	}
	assert.Equal(t, "risk_level", NormalizeKey("Risk Level"))
}

func TestDefaultLabelsIncludeCanonicalNames(t *testing.T) {
	labels := DefaultLabels()
	for _, field := range Fields {
		got, ok := labels.Lookup(string(field))
		require.True(t, ok, "field %s", field)
		assert.Equal(t, field, got)
	}
	field, ok := labels.Lookup("**RISK:**")
	require.True(t, ok)
	assert.Equal(t, FieldRiskLevel, field)
}

func TestLoadLabelsExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  verdict: [\"The Call\"]\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Contains(t, labels.Synonyms(FieldVerdict), "the call")
	assert.Contains(t, labels.Synonyms(FieldRiskLevel), "risk level")

	record := NewNormalizer(WithLabels(labels)).Normalize("The Call: walk away")
	assert.Equal(t, analysis.VerdictWalk, record.Verdict)
}

func TestParseLabelsReplace(t *testing.T) {
	labels, err := ParseLabels([]byte("replace: true\nfields:\n  risk_level: [\"danger\"]\n"))
	require.NoError(t, err)
	_, ok := labels.Lookup("risk")
	assert.False(t, ok)
	field, ok := labels.Lookup("Danger")
	require.True(t, ok)
	assert.Equal(t, FieldRiskLevel, field)
}

func TestParseLabelsRejectsUnknownField(t *testing.T) {
	_, err := ParseLabels([]byte("fields:\n  mood: [\"vibe\"]\n"))
	assert.Error(t, err)
	_, err = ParseLabels([]byte("fields: {}\n"))
	assert.Error(t, err)
}

func TestSimilarityFunctions(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("risk level", "risk level"))
	assert.InDelta(t, 0.9, EditSimilarity("risk lvel", "risk level"), 1e-9)
	assert.Less(t, EditSimilarity("mood", "risk level"), 0.5)

	assert.InDelta(t, 1.0, TokenSimilarity("level risk", "risk level"), 1e-9)
	assert.Zero(t, TokenSimilarity("mood", "risk level"))

	assert.InDelta(t, 1.0, HybridSimilarity("level risk", "risk level"), 1e-9)

	for _, name := range []string{"edit", "token", "hybrid", ""} {
		sim, err := ParseSimilarity(name)
		require.NoError(t, err, name)
		assert.NotNil(t, sim)
	}
	_, err := ParseSimilarity("jaccard")
	assert.Error(t, err)
}
