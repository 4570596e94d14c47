// Package events handles event emission for resolution lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter handles event emission for Fern
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitEntityMerged emits an entity.merged event with the merge provenance
func (e *Emitter) EmitEntityMerged(ctx context.Context, event *models.MergeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityMerged")
	defer span.End()

	data := map[string]any{
		"schema_version":  SchemaVersion,
		"decision_id":     event.DecisionID,
		"strategy":        event.Strategy,
		"idempotency_key": event.IdempotencyKey,
		"redundant":       event.Redundant,
	}
	if len(event.Conflicts) > 0 {
		data["conflicts"] = event.Conflicts
	}
	dataJSON, _ := json.Marshal(data)

	out := &kafka.ResolutionEvent{
		EventType: "entity.merged",
		TenantID:  event.TenantID,
		ClusterID: event.ClusterID,
		RecordIDs: event.MergedIDs,
		Data:      dataJSON,
		Timestamp: event.Timestamp,
	}

	if err := e.producer.PublishResolutionEvent(ctx, out); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.merged event")
		return err
	}

	return nil
}

// EmitReviewQueued emits a pair.review_queued event so external adjudicators
// can pick up the pair
func (e *Emitter) EmitReviewQueued(ctx context.Context, decision *models.MatchDecision) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitReviewQueued")
	defer span.End()

	data := map[string]any{
		"schema_version":   SchemaVersion,
		"decision_id":      decision.ID,
		"raw_score":        decision.RawScore,
		"calibrated_score": decision.CalibratedScore,
		"low_confidence":   decision.LowConfidence,
	}
	if len(decision.Factors) > 0 {
		data["factors"] = decision.Factors
	}
	dataJSON, _ := json.Marshal(data)

	out := &kafka.ResolutionEvent{
		EventType: "pair.review_queued",
		TenantID:  decision.TenantID,
		RecordIDs: []string{decision.RecordA, decision.RecordB},
		Data:      dataJSON,
		Timestamp: decision.DecidedAt,
	}

	if err := e.producer.PublishResolutionEvent(ctx, out); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit pair.review_queued event")
		return err
	}

	return nil
}
