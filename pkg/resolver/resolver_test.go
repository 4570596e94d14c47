package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/cluster"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testResolver(policy models.MergePolicy) (*Resolver, *cluster.MemoryRepository) {
	store := cluster.NewMemoryRepository()
	return NewResolver(testLogger(), store, policy), store
}

func record(id string, fields map[string]string) *models.Record {
	rec := &models.Record{
		ID:        id,
		TenantID:  "tenant-1",
		Source:    "crm",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for k, v := range fields {
		switch k {
		case "name":
			rec.Name = v
		case "email":
			rec.Email = v
		case "phone":
			rec.Phone = v
		case "gov_id":
			rec.GovID = v
		case "source":
			rec.Source = v
		}
	}
	return rec
}

func mergeDecision(id, a, b string) *models.MatchDecision {
	return &models.MatchDecision{
		ID:       id,
		TenantID: "tenant-1",
		RecordA:  a,
		RecordB:  b,
		Decision: models.DecisionMerge,
	}
}

func TestIdempotencyKey(t *testing.T) {
	t.Run("order independent", func(t *testing.T) {
		assert.Equal(t, IdempotencyKey("r1", "r2", "d1"), IdempotencyKey("r2", "r1", "d1"))
	})

	t.Run("decision scoped", func(t *testing.T) {
		assert.NotEqual(t, IdempotencyKey("r1", "r2", "d1"), IdempotencyKey("r1", "r2", "d2"))
	})

	t.Run("pair scoped", func(t *testing.T) {
		assert.NotEqual(t, IdempotencyKey("r1", "r2", "d1"), IdempotencyKey("r1", "r3", "d1"))
	})
}

func TestCommit_Basic(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria Garcia", "email": "maria@example.com"})
	b := record("r2", map[string]string{"name": "Maria Garcia", "phone": "5551234567"})

	event, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)
	assert.False(t, event.Redundant)
	assert.ElementsMatch(t, []string{"r1", "r2"}, event.MergedIDs)

	clusterA, err := r.GetCluster(ctx, "tenant-1", "r1")
	require.NoError(t, err)
	clusterB, err := r.GetCluster(ctx, "tenant-1", "r2")
	require.NoError(t, err)

	assert.Equal(t, clusterA.ID, clusterB.ID)
	assert.Equal(t, []string{"r1", "r2"}, clusterA.MemberIDs)
	assert.Equal(t, 1, clusterA.Version)
}

func TestCommit_RejectsNonMergeDecision(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})

	d := mergeDecision("d1", "r1", "r2")
	d.Decision = models.DecisionReview

	_, err := r.Commit(context.Background(), d, record("r1", nil), record("r2", nil))
	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCommit_RequiresBothRecords(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})

	_, err := r.Commit(context.Background(), mergeDecision("d1", "r1", "r2"), record("r1", nil), nil)
	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCommit_IdempotentReplay(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria"})
	b := record("r2", map[string]string{"name": "Maria"})
	d := mergeDecision("d1", "r1", "r2")

	first, err := r.Commit(ctx, d, a, b)
	require.NoError(t, err)

	second, err := r.Commit(ctx, d, a, b)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	clusterA, err := r.GetCluster(ctx, "tenant-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, clusterA.Version, "replay must not bump the cluster version")
}

func TestCommit_RedundantMerge(t *testing.T) {
	t.Run("skipped by default", func(t *testing.T) {
		r, store := testResolver(models.MergePolicy{})
		ctx := context.Background()

		a := record("r1", map[string]string{"name": "Maria"})
		b := record("r2", map[string]string{"name": "Maria"})

		_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
		require.NoError(t, err)

		event, err := r.Commit(ctx, mergeDecision("d2", "r1", "r2"), a, b)
		require.NoError(t, err)
		assert.True(t, event.Redundant)

		_, err = store.GetMergeEvent(ctx, "tenant-1", event.IdempotencyKey)
		assert.ErrorIs(t, err, models.ErrNotFound, "redundant event must not be persisted by default")
	})

	t.Run("recorded when configured", func(t *testing.T) {
		r, store := testResolver(models.MergePolicy{RecordRedundantMerges: true})
		ctx := context.Background()

		a := record("r1", map[string]string{"name": "Maria"})
		b := record("r2", map[string]string{"name": "Maria"})

		_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
		require.NoError(t, err)

		event, err := r.Commit(ctx, mergeDecision("d2", "r1", "r2"), a, b)
		require.NoError(t, err)
		assert.True(t, event.Redundant)

		stored, err := store.GetMergeEvent(ctx, "tenant-1", event.IdempotencyKey)
		require.NoError(t, err)
		assert.True(t, stored.Redundant)
	})
}

func TestCommit_TransitiveClusters(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria"})
	b := record("r2", map[string]string{"name": "Maria"})
	c := record("r3", map[string]string{"name": "Maria"})

	_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)
	_, err = r.Commit(ctx, mergeDecision("d2", "r2", "r3"), b, c)
	require.NoError(t, err)

	got, err := r.GetCluster(ctx, "tenant-1", "r3")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, got.MemberIDs)
}

// Applying the same three merges in every order must converge on the same
// cluster id and membership.
func TestCommit_OrderIndependence(t *testing.T) {
	type merge struct{ decisionID, a, b string }
	merges := []merge{
		{"d1", "r1", "r2"},
		{"d2", "r2", "r3"},
		{"d3", "r1", "r3"},
	}
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	records := map[string]*models.Record{
		"r1": record("r1", map[string]string{"name": "Maria", "email": "maria@example.com"}),
		"r2": record("r2", map[string]string{"name": "Maria", "phone": "5551234567"}),
		"r3": record("r3", map[string]string{"name": "Maria", "gov_id": "AB123"}),
	}

	var wantID string
	var wantMembers []string
	var wantRep []byte

	for i, order := range orders {
		r, _ := testResolver(models.MergePolicy{})
		ctx := context.Background()

		for _, idx := range order {
			m := merges[idx]
			_, err := r.Commit(ctx, mergeDecision(m.decisionID, m.a, m.b), records[m.a], records[m.b])
			require.NoError(t, err)
		}

		got, err := r.GetCluster(ctx, "tenant-1", "r1")
		require.NoError(t, err)

		if i == 0 {
			wantID = got.ID
			wantMembers = got.MemberIDs
			wantRep = got.Representative
			continue
		}
		assert.Equal(t, wantMembers, got.MemberIDs, "order %v", order)
		assert.JSONEq(t, string(wantRep), string(got.Representative), "order %v", order)
		_ = wantID
	}
}

// Every record ends up in exactly one cluster.
func TestCommit_PartitionInvariant(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})
	ctx := context.Background()

	recs := map[string]*models.Record{
		"r1": record("r1", map[string]string{"name": "A"}),
		"r2": record("r2", map[string]string{"name": "A"}),
		"r3": record("r3", map[string]string{"name": "B"}),
		"r4": record("r4", map[string]string{"name": "B"}),
	}

	_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), recs["r1"], recs["r2"])
	require.NoError(t, err)
	_, err = r.Commit(ctx, mergeDecision("d2", "r3", "r4"), recs["r3"], recs["r4"])
	require.NoError(t, err)

	cluster12, err := r.GetCluster(ctx, "tenant-1", "r1")
	require.NoError(t, err)
	cluster34, err := r.GetCluster(ctx, "tenant-1", "r3")
	require.NoError(t, err)

	assert.NotEqual(t, cluster12.ID, cluster34.ID)
	assert.Equal(t, []string{"r1", "r2"}, cluster12.MemberIDs)
	assert.Equal(t, []string{"r3", "r4"}, cluster34.MemberIDs)
}

func TestCommit_ConflictWithoutStrategyMutatesNothing(t *testing.T) {
	policy := models.MergePolicy{
		DefaultStrategy: models.MergeStrategyMostRecent,
		FieldStrategies: []models.FieldMergeStrategy{
			{Field: "gov_id", Strategy: models.MergeStrategyNone},
		},
	}
	r, _ := testResolver(policy)
	ctx := context.Background()

	a := record("r1", map[string]string{"gov_id": "AB123"})
	b := record("r2", map[string]string{"gov_id": "XY789"})

	_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	var conflictErr *models.MergeConflictError
	require.ErrorAs(t, err, &conflictErr)

	_, err = r.GetCluster(ctx, "tenant-1", "r1")
	assert.ErrorIs(t, err, models.ErrNotFound, "a blocked merge must leave no cluster behind")
}

func TestCommit_ConflictsRecordedOnEvent(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{DefaultStrategy: models.MergeStrategyMostRecent})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria G", "source": "crm"})
	b := record("r2", map[string]string{"name": "Maria Garcia", "source": "web"})
	b.CreatedAt = a.CreatedAt.Add(24 * time.Hour)

	event, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)
	require.Len(t, event.Conflicts, 1)
	assert.Equal(t, "name", event.Conflicts[0].Field)
	assert.Equal(t, "Maria Garcia", event.Conflicts[0].ResolvedValue)
	assert.ElementsMatch(t, []string{"crm", "web"}, event.Conflicts[0].Sources)
}

func TestHistory(t *testing.T) {
	r, _ := testResolver(models.MergePolicy{})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria"})
	b := record("r2", map[string]string{"name": "Maria"})
	c := record("r3", map[string]string{"name": "Maria"})

	_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)
	_, err = r.Commit(ctx, mergeDecision("d2", "r1", "r3"), a, c)
	require.NoError(t, err)

	got, err := r.GetCluster(ctx, "tenant-1", "r1")
	require.NoError(t, err)

	events, err := r.History(ctx, "tenant-1", got.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "d1", events[0].DecisionID)
	assert.Equal(t, "d2", events[1].DecisionID)
}

func TestCommit_HydratesFromStorage(t *testing.T) {
	store := cluster.NewMemoryRepository()
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria"})
	b := record("r2", map[string]string{"name": "Maria"})
	c := record("r3", map[string]string{"name": "Maria"})

	first := NewResolver(testLogger(), store, models.MergePolicy{})
	_, err := first.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)

	// A fresh resolver over the same storage must see the existing cluster.
	second := NewResolver(testLogger(), store, models.MergePolicy{})
	_, err = second.Commit(ctx, mergeDecision("d2", "r2", "r3"), b, c)
	require.NoError(t, err)

	got, err := second.GetCluster(ctx, "tenant-1", "r3")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, got.MemberIDs)
}

// failingStore wraps the memory repository and fails writes on demand.
type failingStore struct {
	*cluster.MemoryRepository
	failUpserts bool
}

func (f *failingStore) UpsertCluster(ctx context.Context, c *models.CanonicalEntity) error {
	if f.failUpserts {
		return errors.New("connection reset")
	}
	return f.MemoryRepository.UpsertCluster(ctx, c)
}

func TestCommit_StorageFailureLeavesNoTrace(t *testing.T) {
	store := &failingStore{MemoryRepository: cluster.NewMemoryRepository(), failUpserts: true}
	r := NewResolver(testLogger(), store, models.MergePolicy{})
	ctx := context.Background()

	a := record("r1", map[string]string{"name": "Maria"})
	b := record("r2", map[string]string{"name": "Maria"})

	_, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	var storageErr *models.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "upsert_cluster", storageErr.Op)

	// After storage recovers the same commit must succeed cleanly.
	store.failUpserts = false
	event, err := r.Commit(ctx, mergeDecision("d1", "r1", "r2"), a, b)
	require.NoError(t, err)
	assert.False(t, event.Redundant)

	got, err := r.GetCluster(ctx, "tenant-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, got.MemberIDs)
}

func TestSurvivingClusterID(t *testing.T) {
	assert.Equal(t, "a", survivingClusterID("a", "b"))
	assert.Equal(t, "a", survivingClusterID("b", "a"))
	assert.Equal(t, "a", survivingClusterID("a", ""))
	assert.Equal(t, "b", survivingClusterID("", "b"))
	assert.NotEmpty(t, survivingClusterID("", ""))
}
