package extract

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadGoldenSet(t *testing.T) []GoldenCase {
	t.Helper()
	cases, err := LoadGolden(filepath.Join("testdata", "golden.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, cases)
	return cases
}

func TestGoldenSetAtDefaultThreshold(t *testing.T) {
	cases := loadGoldenSet(t)
	scores := Evaluate(cases, nil)
	require.Len(t, scores, 1)

	score := scores[0]
	assert.Equal(t, DefaultThreshold, score.Threshold)
	assert.Empty(t, score.Failures)
	assert.Equal(t, 1.0, score.FieldAccuracy)
	assert.Equal(t, len(cases), score.Cases)
	assert.Positive(t, score.FuzzyMatches)
	assert.Greater(t, score.DegradedRate, 0.0)
	assert.Less(t, score.DegradedRate, 1.0)
}

func TestGoldenSweepPenalizesStrictThreshold(t *testing.T) {
	scores := Evaluate(loadGoldenSet(t), []float64{DefaultThreshold, 0.95})
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0].FieldAccuracy, scores[1].FieldAccuracy)
	assert.Greater(t, scores[1].DegradedRate, scores[0].DegradedRate)
	assert.NotEmpty(t, scores[1].Failures)
}

func TestGoldenSetWithHybridSimilarity(t *testing.T) {
	scores := Evaluate(loadGoldenSet(t), nil, WithSimilarity(HybridSimilarity))
	require.Len(t, scores, 1)
	assert.Empty(t, scores[0].Failures)
}

func TestLoadGoldenMissingFile(t *testing.T) {
	_, err := LoadGolden(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
