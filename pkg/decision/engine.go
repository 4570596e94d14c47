// Package decision maps calibrated match scores onto the three-way
// {NO_MERGE, REVIEW, MERGE} outcome and produces a ranked explanation.
package decision

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Engine applies decision thresholds. Regions are disjoint and exhaustive:
// score < review_low is NO_MERGE, [review_low, merge_high) is REVIEW, and
// >= merge_high is MERGE.
type Engine struct {
	logger     ectologger.Logger
	thresholds models.Thresholds
}

// NewEngine creates a decision engine. Inverted thresholds are a fatal
// configuration error.
func NewEngine(logger ectologger.Logger, thresholds models.Thresholds) (*Engine, error) {
	if thresholds.ReviewLow > thresholds.MergeHigh {
		return nil, &models.ConfigError{Field: "thresholds", Reason: "review_low must not exceed merge_high"}
	}
	if thresholds.TopFactors <= 0 {
		thresholds.TopFactors = 3
	}
	return &Engine{logger: logger, thresholds: thresholds}, nil
}

// Decide converts a match score into a persisted-shape MatchDecision. A
// deterministic rule firing always yields MERGE regardless of thresholds; a
// low-confidence score always lands in REVIEW rather than silently dropping.
func (e *Engine) Decide(ctx context.Context, tenantID string, pair models.CandidatePair, score models.MatchScore) models.MatchDecision {
	_, span := tracing.StartSpan(ctx, "decision.Engine.Decide")
	defer span.End()

	outcome := e.classify(score)

	factors := score.Contributions
	if len(factors) > e.thresholds.TopFactors {
		factors = factors[:e.thresholds.TopFactors]
	}

	return models.MatchDecision{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		RecordA:         pair.RecordA,
		RecordB:         pair.RecordB,
		RawScore:        score.RawScore,
		CalibratedScore: score.CalibratedScore,
		Decision:        outcome,
		RuleID:          score.RuleID,
		ModelID:         score.ModelID,
		LowConfidence:   score.LowConfidence,
		Factors:         factors,
		Status:          models.DecisionStatusPending,
		DecidedAt:       time.Now().UTC(),
	}
}

func (e *Engine) classify(score models.MatchScore) models.Decision {
	if score.RuleFired() {
		return models.DecisionMerge
	}
	if score.LowConfidence {
		return models.DecisionReview
	}
	switch {
	case score.CalibratedScore < e.thresholds.ReviewLow:
		return models.DecisionNoMerge
	case score.CalibratedScore < e.thresholds.MergeHigh:
		return models.DecisionReview
	default:
		return models.DecisionMerge
	}
}
