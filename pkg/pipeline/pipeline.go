// Package pipeline orchestrates one resolution batch: validation, candidate
// generation, parallel scoring, decisioning, and merge commits.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// DecisionStore persists the decisions produced by a batch.
type DecisionStore interface {
	CreateBatch(ctx context.Context, decisions []*models.MatchDecision) error
}

// Emitter publishes batch outcomes for downstream consumers.
type Emitter interface {
	EmitEntityMerged(ctx context.Context, event *models.MergeEvent) error
	EmitReviewQueued(ctx context.Context, decision *models.MatchDecision) error
}

// Pipeline runs resolution batches. Extraction and scoring are pure and run
// across a worker pool; only the resolver holds shared mutable state.
type Pipeline struct {
	logger    ectologger.Logger
	generator *blocking.Generator
	extractor *features.Extractor
	matcher   *matching.Matcher
	engine    *decision.Engine
	resolver  *resolver.Resolver
	decisions DecisionStore
	emitter   Emitter
	workers   int
}

// NewPipeline wires a resolution pipeline. decisions and emitter may be nil
// for advisory-only runs.
func NewPipeline(
	logger ectologger.Logger,
	generator *blocking.Generator,
	extractor *features.Extractor,
	matcher *matching.Matcher,
	engine *decision.Engine,
	res *resolver.Resolver,
	decisions DecisionStore,
	emitter Emitter,
	workers int,
) *Pipeline {
	if workers < 1 {
		workers = 4
	}
	return &Pipeline{
		logger:    logger,
		generator: generator,
		extractor: extractor,
		matcher:   matcher,
		engine:    engine,
		resolver:  res,
		decisions: decisions,
		emitter:   emitter,
		workers:   workers,
	}
}

// Run processes one batch of records through the full resolution flow.
// Per-record and per-pair failures are counted in the summary and never
// abort the batch; only an exhausted storage retry budget marks it failed.
func (p *Pipeline) Run(ctx context.Context, tenantID string, records []*models.Record) (*models.BatchSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Run")
	defer span.End()

	summary := models.NewBatchSummary(tenantID, time.Now().UTC())
	summary.RecordsIn = len(records)

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": tenantID,
		"records":   len(records),
	})

	valid, byID := p.validate(records, summary)

	gen, err := p.generator.Generate(ctx, valid)
	if err != nil {
		return summary, err
	}
	summary.Deferred = len(gen.Deferred)
	summary.Errors.Blocking = len(gen.Errors)

	scored := p.scoreAll(ctx, gen.Candidates, byID, summary)
	summary.CandidatesScored = len(scored)

	for i := range scored {
		d := &scored[i]
		if d.Decision != models.DecisionMerge {
			continue
		}
		if summary.Failed {
			break
		}
		p.commit(ctx, d, byID, summary)
	}

	for i := range scored {
		d := &scored[i]
		summary.Decisions[d.Decision]++
		if d.Decision == models.DecisionReview {
			summary.ReviewQueued++
			if p.emitter != nil {
				if err := p.emitter.EmitReviewQueued(ctx, d); err != nil {
					log.WithError(err).Warn("Failed to emit review event")
				}
			}
		}
	}

	if p.decisions != nil && len(scored) > 0 {
		persist := make([]*models.MatchDecision, len(scored))
		for i := range scored {
			persist[i] = &scored[i]
		}
		if err := p.decisions.CreateBatch(ctx, persist); err != nil {
			summary.Errors.Storage++
			summary.Failed = true
			summary.FailureReason = "failed to persist decisions"
			log.WithError(err).Error("Failed to persist batch decisions")
		}
	}

	summary.CompletedAt = time.Now().UTC()
	log.WithFields(map[string]any{
		"scored":  summary.CandidatesScored,
		"merges":  summary.MergesCommitted,
		"reviews": summary.ReviewQueued,
		"failed":  summary.Failed,
	}).Info("Batch complete")

	return summary, nil
}

// validate drops records without an id and indexes the rest.
func (p *Pipeline) validate(records []*models.Record, summary *models.BatchSummary) ([]*models.Record, map[string]*models.Record) {
	valid := make([]*models.Record, 0, len(records))
	byID := make(map[string]*models.Record, len(records))
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			summary.RecordsExcluded++
			summary.Errors.Validation++
			continue
		}
		valid = append(valid, rec)
		byID[rec.ID] = rec
	}
	return valid, byID
}

// scoreAll fans candidate pairs across the worker pool. Results are written
// by index, so output order matches candidate order regardless of worker
// interleaving.
func (p *Pipeline) scoreAll(ctx context.Context, candidates []models.CandidatePair, byID map[string]*models.Record, summary *models.BatchSummary) []models.MatchDecision {
	decisions := make([]models.MatchDecision, len(candidates))
	jobs := make(chan int)

	var extractionErrs sync.Map
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				pair := candidates[i]
				a, b := byID[pair.RecordA], byID[pair.RecordB]

				vec, errs := p.extractor.Extract(a, b)
				if len(errs) > 0 {
					extractionErrs.Store(i, len(errs))
				}

				score := p.matcher.Score(ctx, pair, vec)
				decisions[i] = p.engine.Decide(ctx, summary.TenantID, pair, score)
			}
		}()
	}

	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	extractionErrs.Range(func(_, count any) bool {
		summary.Errors.FeatureExtraction += count.(int)
		return true
	})

	return decisions
}

// commit applies one MERGE decision. A merge conflict demotes the decision
// to REVIEW; a storage failure marks the batch failed-and-replayable.
func (p *Pipeline) commit(ctx context.Context, d *models.MatchDecision, byID map[string]*models.Record, summary *models.BatchSummary) {
	event, err := p.resolver.Commit(ctx, d, byID[d.RecordA], byID[d.RecordB])
	if err != nil {
		var conflict *models.MergeConflictError
		var storage *models.StorageError
		switch {
		case errors.As(err, &conflict):
			d.Decision = models.DecisionReview
			summary.Errors.MergeConflict++
		case errors.As(err, &storage):
			summary.Errors.Storage++
			summary.Failed = true
			summary.FailureReason = err.Error()
		default:
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"decision_id": d.ID,
			}).Error("Failed to commit merge")
			summary.Failed = true
			summary.FailureReason = err.Error()
		}
		return
	}

	d.Status = models.DecisionStatusApplied
	summary.MergesCommitted++

	if p.emitter != nil {
		if err := p.emitter.EmitEntityMerged(ctx, event); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to emit merge event")
		}
	}
}
