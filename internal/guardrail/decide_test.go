package guardrail_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/guardrail/internal/chunker"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
)

func thresholds(t *testing.T, safeFloor, unsafeCeiling float64) guardrail.ThresholdConfig {
	t.Helper()
	cfg, err := guardrail.NewThresholdConfig(1, safeFloor, unsafeCeiling)
	require.NoError(t, err)
	return cfg
}

func result(index int, label string, score float64) guardrail.Result {
	return guardrail.Result{
		Window:     chunker.Window{Index: index, Text: "window text"},
		Prediction: guardrail.Prediction{Label: label, Score: score},
	}
}

func TestDecide_Empty(t *testing.T) {
	t.Parallel()

	d := guardrail.Decide(nil, guardrail.GenericConfig)
	assert.True(t, d.Safe)
	assert.NotNil(t, d.Detailed)
	assert.Empty(t, d.Detailed)
}

func TestDecide_Rules(t *testing.T) {
	t.Parallel()

	cfg := thresholds(t, 0.5, 0.7)
	tests := []struct {
		name          string
		label         string
		score         float64
		wantSafe      bool
		wantViolation bool
	}{
		{"confident safe", "SAFE", 0.91, true, false},
		{"safe at floor is kept", "safe", 0.5, true, false},
		{"low confidence safe", "Safe", 0.3, true, true},
		{"unsafe above ceiling", "unsafe", 0.82, false, true},
		{"unsafe at ceiling is tolerated", "unsafe", 0.7, false, false},
		{"weak unsafe", "toxic", 0.6, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := guardrail.Decide([]guardrail.Result{result(0, tt.label, tt.score)}, cfg)
			require.Len(t, d.Detailed, 1)
			assert.Equal(t, tt.wantSafe, d.Detailed[0].Safe)
			assert.Equal(t, tt.wantViolation, d.Detailed[0].Violation)
			assert.Equal(t, !tt.wantViolation, d.Safe)
		})
	}
}

func TestDecide_OneViolationIsEnough(t *testing.T) {
	t.Parallel()

	results := []guardrail.Result{
		result(0, "safe", 0.99),
		result(1, "unsafe", 0.95),
		result(0, "safe", 0.99),
	}

	d := guardrail.Decide(results, guardrail.SojkaConfig)
	assert.False(t, d.Safe)
	assert.Len(t, d.Detailed, 3)
	assert.Equal(t, 1, d.Violations())
	assert.Equal(t, []int{0, 1, 0}, []int{d.Detailed[0].ChunkIndex, d.Detailed[1].ChunkIndex, d.Detailed[2].ChunkIndex})
}

func TestDecide_ComparesUnroundedScore(t *testing.T) {
	t.Parallel()

	// 0.49996 reports as 0.5 but is still below the floor.
	d := guardrail.Decide([]guardrail.Result{result(0, "safe", 0.49996)}, thresholds(t, 0.5, 0.5))
	assert.False(t, d.Safe)
	assert.InDelta(t, 0.5, d.Detailed[0].Score, 1e-12)

	// 0.70004 reports as 0.7 but is above the ceiling.
	d = guardrail.Decide([]guardrail.Result{result(0, "unsafe", 0.70004)}, thresholds(t, 0.5, 0.7))
	assert.False(t, d.Safe)
	assert.InDelta(t, 0.7, d.Detailed[0].Score, 1e-12)
}

func TestRoundScore(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.1235, guardrail.RoundScore(0.12345678), 1e-12)
	assert.InDelta(t, 0.91, guardrail.RoundScore(0.91), 1e-12)
	assert.InDelta(t, 1.0, guardrail.RoundScore(0.99996), 1e-12)
	assert.InDelta(t, 0.0, guardrail.RoundScore(0.00004), 1e-12)
}

func TestIsViolation_Monotonic(t *testing.T) {
	t.Parallel()

	scores := []float64{0, 0.1, 0.25, 0.5, 0.5001, 0.7, 0.9, 1}
	levels := []float64{0, 0.2, 0.5, 0.7, 1}

	for _, score := range scores {
		for i := 1; i < len(levels); i++ {
			lo, hi := levels[i-1], levels[i]

			// Raising the safe floor can only add violations for safe windows.
			if guardrail.IsViolation(true, score, thresholds(t, lo, 0.5)) {
				assert.True(t, guardrail.IsViolation(true, score, thresholds(t, hi, 0.5)), "score %v floor %v->%v", score, lo, hi)
			}
			// Lowering the unsafe ceiling can only add violations for unsafe windows.
			if guardrail.IsViolation(false, score, thresholds(t, 0.5, hi)) {
				assert.True(t, guardrail.IsViolation(false, score, thresholds(t, 0.5, lo)), "score %v ceiling %v->%v", score, hi, lo)
			}
		}
	}
}

func TestDecision_JSONShape(t *testing.T) {
	t.Parallel()

	d := guardrail.Decide([]guardrail.Result{result(0, "unsafe", 0.912345)}, thresholds(t, 0.5, 0.5))
	require.True(t, d.Detailed[0].Violation)

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded struct {
		Safe     bool             `json:"safe"`
		Detailed []map[string]any `json:"detailed"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.False(t, decoded.Safe)
	require.Len(t, decoded.Detailed, 1)

	keys := make([]string, 0, len(decoded.Detailed[0]))
	for k := range decoded.Detailed[0] {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"chunk_index", "chunk_text", "label", "score", "safe"}, keys)
	assert.InDelta(t, 0.9123, decoded.Detailed[0]["score"], 1e-9)
}
