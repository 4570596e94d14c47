package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/cluster"
	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// memDecisions collects persisted decisions in memory.
type memDecisions struct {
	mu        sync.Mutex
	decisions []*models.MatchDecision
	fail      bool
}

func (m *memDecisions) CreateBatch(_ context.Context, decisions []*models.MatchDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("connection reset")
	}
	m.decisions = append(m.decisions, decisions...)
	return nil
}

// memEmitter records emitted events.
type memEmitter struct {
	mu     sync.Mutex
	merged []*models.MergeEvent
	queued []*models.MatchDecision
}

func (m *memEmitter) EmitEntityMerged(_ context.Context, event *models.MergeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged = append(m.merged, event)
	return nil
}

func (m *memEmitter) EmitReviewQueued(_ context.Context, d *models.MatchDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, d)
	return nil
}

func testPipeline(t *testing.T, policy models.MergePolicy, workers int) (*Pipeline, *memDecisions, *memEmitter) {
	t.Helper()

	matcher, err := matching.NewMatcher(testLogger(), []models.MatchRule{
		{Name: "exact-email", RequiredFeatures: []string{models.FeatureEmailExact}},
		{Name: "exact-gov-id", RequiredFeatures: []string{models.FeatureGovIDExact}},
	}, models.ScorerConfig{
		ModelID: "weighted-logistic-v1",
		Weights: []models.FeatureWeight{
			{Feature: models.FeatureEmailExact, Weight: 3},
			{Feature: models.FeaturePhoneExact, Weight: 2.5},
			{Feature: models.FeatureGovIDExact, Weight: 3},
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

	res := resolver.NewResolver(testLogger(), cluster.NewMemoryRepository(), policy)
	generator := blocking.NewGenerator(testLogger(), blocking.DefaultConfig())

	decisions := &memDecisions{}
	emitter := &memEmitter{}
	p := NewPipeline(testLogger(), generator, features.NewExtractor(nil), matcher, engine, res, decisions, emitter, workers)
	return p, decisions, emitter
}

func TestRun_ExactEmailMerges(t *testing.T) {
	p, decisions, emitter := testPipeline(t, models.MergePolicy{}, 4)

	records := []*models.Record{
		{ID: "r1", TenantID: "tenant-1", Name: "Maria Garcia", Email: "maria@example.com"},
		{ID: "r2", TenantID: "tenant-1", Name: "Maria G", Email: "maria@example.com"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.RecordsIn)
	assert.Equal(t, 1, summary.CandidatesScored)
	assert.Equal(t, 1, summary.Decisions[models.DecisionMerge])
	assert.Equal(t, 1, summary.MergesCommitted)
	assert.False(t, summary.Failed)

	require.Len(t, emitter.merged, 1)
	assert.ElementsMatch(t, []string{"r1", "r2"}, emitter.merged[0].MergedIDs)

	require.Len(t, decisions.decisions, 1)
	assert.Equal(t, models.DecisionStatusApplied, decisions.decisions[0].Status)
}

func TestRun_InvalidRecordsExcluded(t *testing.T) {
	p, _, _ := testPipeline(t, models.MergePolicy{}, 4)

	records := []*models.Record{
		{ID: "", TenantID: "tenant-1", Email: "x@example.com"},
		nil,
		{ID: "r1", TenantID: "tenant-1", Email: "x@example.com"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.RecordsIn)
	assert.Equal(t, 2, summary.RecordsExcluded)
	assert.Equal(t, 2, summary.Errors.Validation)
	assert.Zero(t, summary.CandidatesScored)
	assert.False(t, summary.Failed)
}

func TestRun_ReviewQueued(t *testing.T) {
	p, _, emitter := testPipeline(t, models.MergePolicy{}, 4)

	// Shared phone blocks the pair; with no exact-email evidence the model
	// score lands in the review band.
	records := []*models.Record{
		{ID: "r1", TenantID: "tenant-1", Name: "John Smith", Phone: "5551234567"},
		{ID: "r2", TenantID: "tenant-1", Name: "Jon Smith", Phone: "5551234567"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CandidatesScored)
	assert.Equal(t, 1, summary.Decisions[models.DecisionReview])
	assert.Equal(t, 1, summary.ReviewQueued)
	assert.Zero(t, summary.MergesCommitted)
	assert.Len(t, emitter.queued, 1)
}

func TestRun_ConflictDemotesToReview(t *testing.T) {
	policy := models.MergePolicy{
		DefaultStrategy: models.MergeStrategyMostRecent,
		FieldStrategies: []models.FieldMergeStrategy{
			{Field: "name", Strategy: models.MergeStrategyNone},
		},
	}
	p, decisions, _ := testPipeline(t, policy, 4)

	records := []*models.Record{
		{ID: "r1", TenantID: "tenant-1", Name: "Maria Garcia", Email: "maria@example.com"},
		{ID: "r2", TenantID: "tenant-1", Name: "Maria G Lopez", Email: "maria@example.com"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors.MergeConflict)
	assert.Equal(t, 1, summary.Decisions[models.DecisionReview])
	assert.Zero(t, summary.MergesCommitted)
	assert.False(t, summary.Failed)

	require.Len(t, decisions.decisions, 1)
	assert.Equal(t, models.DecisionReview, decisions.decisions[0].Decision)
}

func TestRun_DecisionPersistFailureMarksBatch(t *testing.T) {
	p, decisions, _ := testPipeline(t, models.MergePolicy{}, 4)
	decisions.fail = true

	records := []*models.Record{
		{ID: "r1", TenantID: "tenant-1", Email: "x@example.com"},
		{ID: "r2", TenantID: "tenant-1", Email: "x@example.com"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	assert.True(t, summary.Failed)
	assert.Equal(t, 1, summary.Errors.Storage)
	assert.NotEmpty(t, summary.FailureReason)
}

func TestRun_TransitiveBatch(t *testing.T) {
	p, _, _ := testPipeline(t, models.MergePolicy{}, 4)

	records := []*models.Record{
		{ID: "r1", TenantID: "tenant-1", Email: "x@example.com", GovID: "AB1", Phone: "5551234567"},
		{ID: "r2", TenantID: "tenant-1", Email: "x@example.com"},
		{ID: "r3", TenantID: "tenant-1", GovID: "AB1", Phone: "5551234567"},
	}

	summary, err := p.Run(context.Background(), "tenant-1", records)
	require.NoError(t, err)

	// r1-r2 merge on exact email, r1-r3 on exact gov id; all three converge.
	assert.Equal(t, 2, summary.MergesCommitted)
	assert.False(t, summary.Failed)
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	records := func() []*models.Record {
		return []*models.Record{
			{ID: "r1", TenantID: "tenant-1", Name: "Maria Garcia", Email: "maria@example.com"},
			{ID: "r2", TenantID: "tenant-1", Name: "Maria G", Email: "maria@example.com"},
			{ID: "r3", TenantID: "tenant-1", Name: "John Smith", Phone: "5551234567"},
			{ID: "r4", TenantID: "tenant-1", Name: "Jon Smith", Phone: "5551234567"},
			{ID: "r5", TenantID: "tenant-1", Name: "Unrelated Person"},
		}
	}

	p1, d1, _ := testPipeline(t, models.MergePolicy{}, 1)
	p8, d8, _ := testPipeline(t, models.MergePolicy{}, 8)

	s1, err := p1.Run(context.Background(), "tenant-1", records())
	require.NoError(t, err)
	s8, err := p8.Run(context.Background(), "tenant-1", records())
	require.NoError(t, err)

	assert.Equal(t, s1.CandidatesScored, s8.CandidatesScored)
	assert.Equal(t, s1.Decisions, s8.Decisions)
	assert.Equal(t, s1.MergesCommitted, s8.MergesCommitted)

	require.Equal(t, len(d1.decisions), len(d8.decisions))
	for i := range d1.decisions {
		assert.Equal(t, d1.decisions[i].RecordA, d8.decisions[i].RecordA)
		assert.Equal(t, d1.decisions[i].RecordB, d8.decisions[i].RecordB)
		assert.Equal(t, d1.decisions[i].CalibratedScore, d8.decisions[i].CalibratedScore)
		assert.Equal(t, d1.decisions[i].Decision, d8.decisions[i].Decision)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	p, _, _ := testPipeline(t, models.MergePolicy{}, 4)

	summary, err := p.Run(context.Background(), "tenant-1", nil)
	require.NoError(t, err)
	assert.Zero(t, summary.RecordsIn)
	assert.Zero(t, summary.CandidatesScored)
	assert.False(t, summary.Failed)
}
