package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testHarness(t *testing.T) *Harness {
	t.Helper()

	matcher, err := matching.NewMatcher(testLogger(), []models.MatchRule{
		{Name: "exact-email", RequiredFeatures: []string{models.FeatureEmailExact}},
	}, models.ScorerConfig{
		ModelID: "weighted-logistic-v1",
		Weights: []models.FeatureWeight{
			{Feature: models.FeatureEmailExact, Weight: 3},
			{Feature: models.FeaturePhoneExact, Weight: 2.5},
			{Feature: models.FeatureNameSim, Weight: 2},
		},
		ImputedValue:         0.3,
		GeoScaleKM:           25,
		TimeScaleHours:       72,
		CalibrationMidpoint:  0.5,
		CalibrationSteepness: 8,
	})
	require.NoError(t, err)

	engine, err := decision.NewEngine(testLogger(), models.Thresholds{ReviewLow: 0.6, MergeHigh: 0.85, TopFactors: 3})
	require.NoError(t, err)

	return NewHarness(testLogger(), features.NewExtractor(nil), matcher, engine)
}

func labeled(idA, idB string, label bool, fieldsA, fieldsB models.Record) LabeledPair {
	fieldsA.ID = idA
	fieldsB.ID = idB
	return LabeledPair{RecordA: fieldsA, RecordB: fieldsB, Label: label}
}

func goldenPairs() []LabeledPair {
	return []LabeledPair{
		labeled("p1a", "p1b", true,
			models.Record{Name: "Maria Garcia", Email: "maria@example.com", Phone: "5551234567"},
			models.Record{Name: "Maria Garcia", Email: "maria@example.com", Phone: "5551234567"}),
		labeled("p2a", "p2b", true,
			models.Record{Name: "John Smith", Phone: "5559876543"},
			models.Record{Name: "Jon Smith", Phone: "5559876543"}),
		labeled("n1a", "n1b", false,
			models.Record{Name: "Alice Brown", Email: "alice@example.com"},
			models.Record{Name: "Zachary Quinn", Email: "zq@example.com"}),
		labeled("n2a", "n2b", false,
			models.Record{Name: "Bob White", Phone: "5550000001"},
			models.Record{Name: "Carol Green", Phone: "5550000002"}),
	}
}

func TestReadDataset(t *testing.T) {
	t.Run("valid lines", func(t *testing.T) {
		input := `{"record_a": {"id": "b1"}, "record_b": {"id": "a1"}, "label": true}

{"record_a": {"id": "a2"}, "record_b": {"id": "b2"}, "label": false}`

		pairs, err := ReadDataset(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, pairs, 2)

		// Sorted by canonical pair id regardless of file order.
		assert.Equal(t, "b1", pairs[0].RecordA.ID)
		assert.True(t, pairs[0].Label)
		assert.Equal(t, "a2", pairs[1].RecordA.ID)
	})

	t.Run("bad json names the line", func(t *testing.T) {
		input := `{"record_a": {"id": "a1"}, "record_b": {"id": "b1"}, "label": true}
{not json`
		_, err := ReadDataset(strings.NewReader(input))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("missing record id", func(t *testing.T) {
		input := `{"record_a": {"id": ""}, "record_b": {"id": "b1"}, "label": true}`
		_, err := ReadDataset(strings.NewReader(input))
		require.Error(t, err)
	})
}

func TestHarnessRun(t *testing.T) {
	h := testHarness(t)

	metrics, err := h.Run(context.Background(), "golden", goldenPairs())
	require.NoError(t, err)

	assert.Equal(t, 4, metrics.Pairs)
	assert.Equal(t, 2, metrics.Positives)
	assert.Equal(t, 2, metrics.Negatives)

	// The golden pairs are cleanly separable, so ranking metrics are perfect.
	assert.Equal(t, 1.0, metrics.ROCAUC)
	assert.Equal(t, 1.0, metrics.AveragePrecision)
}

func TestHarnessRun_Deterministic(t *testing.T) {
	h := testHarness(t)

	first, err := h.Run(context.Background(), "golden", goldenPairs())
	require.NoError(t, err)
	second, err := h.Run(context.Background(), "golden", goldenPairs())
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
}

func TestHarnessRun_Cancelled(t *testing.T) {
	h := testHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics, err := h.Run(ctx, "golden", goldenPairs())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, metrics, "a cancelled run must not expose partial metrics")
}

func TestComputeMetrics(t *testing.T) {
	t.Run("precision and recall", func(t *testing.T) {
		pairs := []scoredPair{
			{key: "a", score: 0.9, label: true, predicted: true},
			{key: "b", score: 0.8, label: false, predicted: true},
			{key: "c", score: 0.3, label: true, predicted: false},
			{key: "d", score: 0.1, label: false, predicted: false},
		}

		m := computeMetrics(pairs)
		assert.Equal(t, 0.5, m.Precision)
		assert.Equal(t, 0.5, m.Recall)
	})

	t.Run("perfect separation", func(t *testing.T) {
		pairs := []scoredPair{
			{key: "a", score: 0.9, label: true, predicted: true},
			{key: "b", score: 0.8, label: true, predicted: true},
			{key: "c", score: 0.2, label: false, predicted: false},
			{key: "d", score: 0.1, label: false, predicted: false},
		}

		m := computeMetrics(pairs)
		assert.Equal(t, 1.0, m.ROCAUC)
		assert.Equal(t, 1.0, m.AveragePrecision)
	})

	t.Run("inverted ranking", func(t *testing.T) {
		pairs := []scoredPair{
			{key: "a", score: 0.9, label: false, predicted: true},
			{key: "b", score: 0.1, label: true, predicted: false},
		}

		m := computeMetrics(pairs)
		assert.Equal(t, 0.0, m.ROCAUC)
	})

	t.Run("tied scores contribute a diagonal segment", func(t *testing.T) {
		pairs := []scoredPair{
			{key: "a", score: 0.5, label: true},
			{key: "b", score: 0.5, label: false},
		}

		m := computeMetrics(pairs)
		assert.Equal(t, 0.5, m.ROCAUC)
	})

	t.Run("single class yields zero ranking metrics", func(t *testing.T) {
		pairs := []scoredPair{
			{key: "a", score: 0.9, label: true, predicted: true},
			{key: "b", score: 0.8, label: true, predicted: true},
		}

		m := computeMetrics(pairs)
		assert.Equal(t, 0.0, m.ROCAUC)
		assert.Equal(t, 0.0, m.AveragePrecision)
		assert.Equal(t, 1.0, m.Recall)
	})

	t.Run("empty input", func(t *testing.T) {
		m := computeMetrics(nil)
		assert.Zero(t, m.Pairs)
		assert.Zero(t, m.Precision)
	})
}

func TestGateCheck(t *testing.T) {
	metrics := Metrics{ROCAUC: 0.9, AveragePrecision: 0.85, Precision: 0.8, Recall: 0.7}

	t.Run("passing", func(t *testing.T) {
		gate := Gate{MinROCAUC: 0.8, MinAveragePrecision: 0.8}
		assert.NoError(t, gate.Check(metrics))
	})

	t.Run("zero floors disable checks", func(t *testing.T) {
		assert.NoError(t, Gate{}.Check(Metrics{}))
	})

	t.Run("failure names every failing metric", func(t *testing.T) {
		gate := Gate{MinROCAUC: 0.95, MinRecall: 0.9}
		err := gate.Check(metrics)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "roc_auc")
		assert.Contains(t, err.Error(), "recall")
	})
}
