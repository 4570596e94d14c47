package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Gate is the minimum-metric policy applied after a run. Zero values
// disable the corresponding check.
type Gate struct {
	MinROCAUC           float64 `json:"min_roc_auc"`
	MinAveragePrecision float64 `json:"min_average_precision"`
	MinPrecision        float64 `json:"min_precision"`
	MinRecall           float64 `json:"min_recall"`
}

// Check returns an error naming every metric below its configured floor.
func (g Gate) Check(m Metrics) error {
	var failures []string
	if g.MinROCAUC > 0 && m.ROCAUC < g.MinROCAUC {
		failures = append(failures, fmt.Sprintf("roc_auc %.4f < %.4f", m.ROCAUC, g.MinROCAUC))
	}
	if g.MinAveragePrecision > 0 && m.AveragePrecision < g.MinAveragePrecision {
		failures = append(failures, fmt.Sprintf("average_precision %.4f < %.4f", m.AveragePrecision, g.MinAveragePrecision))
	}
	if g.MinPrecision > 0 && m.Precision < g.MinPrecision {
		failures = append(failures, fmt.Sprintf("precision %.4f < %.4f", m.Precision, g.MinPrecision))
	}
	if g.MinRecall > 0 && m.Recall < g.MinRecall {
		failures = append(failures, fmt.Sprintf("recall %.4f < %.4f", m.Recall, g.MinRecall))
	}
	if len(failures) > 0 {
		return fmt.Errorf("evaluation gate failed: %v", failures)
	}
	return nil
}

// Harness replays labeled pairs through extraction, matching, and
// decisioning. Blocking is bypassed: every labeled pair is scored.
type Harness struct {
	logger    ectologger.Logger
	extractor *features.Extractor
	matcher   *matching.Matcher
	engine    *decision.Engine
}

// NewHarness creates an evaluation harness over the given scoring stack.
func NewHarness(logger ectologger.Logger, extractor *features.Extractor, matcher *matching.Matcher, engine *decision.Engine) *Harness {
	return &Harness{
		logger:    logger,
		extractor: extractor,
		matcher:   matcher,
		engine:    engine,
	}
}

// Run scores every labeled pair and computes metrics. The run is
// cancellable; a cancelled run returns the context error and no metrics,
// so partial results are never observed.
func (h *Harness) Run(ctx context.Context, tenantID string, pairs []LabeledPair) (*Metrics, error) {
	ctx, span := tracing.StartSpan(ctx, "evaluation.Harness.Run")
	defer span.End()

	start := time.Now()
	scored := make([]scoredPair, 0, len(pairs))

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := models.NewCandidatePair(pair.RecordA.ID, pair.RecordB.ID, "golden", time.Time{})
		vec, _ := h.extractor.Extract(&pair.RecordA, &pair.RecordB)
		score := h.matcher.Score(ctx, candidate, vec)
		verdict := h.engine.Decide(ctx, tenantID, candidate, score)

		scored = append(scored, scoredPair{
			key:       candidate.Key(),
			score:     score.CalibratedScore,
			label:     pair.Label,
			predicted: verdict.Decision == models.DecisionMerge,
		})
	}

	metrics := computeMetrics(scored)

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"pairs":             metrics.Pairs,
		"positives":         metrics.Positives,
		"roc_auc":           metrics.ROCAUC,
		"average_precision": metrics.AveragePrecision,
		"precision":         metrics.Precision,
		"recall":            metrics.Recall,
		"duration_ms":       time.Since(start).Milliseconds(),
	}).Info("Evaluation run complete")

	return &metrics, nil
}
