// Package resolver applies MERGE decisions to cluster state. Clusters are
// tracked with a union-find over record ids; every commit is idempotent and
// the final cluster state is independent of the order merges are applied.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	storageRetries   = 3
	storageRetryBase = 50 * time.Millisecond
)

// Resolver folds MERGE decisions into canonical entities. A single mutex
// serializes commits; the in-memory arena is only mutated after the storage
// writes for a commit have succeeded, so a failed commit leaves no trace.
type Resolver struct {
	logger ectologger.Logger
	store  Storage
	policy models.MergePolicy

	mu    sync.Mutex
	arena *arena
}

// NewResolver creates a resolver over the given storage and merge policy.
func NewResolver(logger ectologger.Logger, store Storage, policy models.MergePolicy) *Resolver {
	if policy.DefaultStrategy == "" {
		policy.DefaultStrategy = models.MergeStrategyMostRecent
	}
	return &Resolver{
		logger: logger,
		store:  store,
		policy: policy,
		arena:  newArena(),
	}
}

// IdempotencyKey derives the replay key for a merge: the same unordered pair
// under the same decision always produces the same key.
func IdempotencyKey(recordA, recordB, decisionID string) string {
	if recordB < recordA {
		recordA, recordB = recordB, recordA
	}
	sum := sha256.Sum256([]byte(recordA + "|" + recordB + "|" + decisionID))
	return hex.EncodeToString(sum[:])
}

// Commit applies a MERGE decision to the two records. Replaying a commit
// with the same decision is a no-op returning the original event; merging
// records that already share a cluster yields a redundant-flagged event.
// A field conflict with no configured strategy returns MergeConflictError
// without mutating any state, so the caller can escalate the pair to REVIEW.
func (r *Resolver) Commit(ctx context.Context, decision *models.MatchDecision, recordA, recordB *models.Record) (*models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.Commit")
	defer span.End()

	if decision.Decision != models.DecisionMerge {
		return nil, &models.ValidationError{RecordID: decision.ID, Reason: fmt.Sprintf("cannot commit a %s decision", decision.Decision)}
	}
	if recordA == nil || recordB == nil {
		return nil, &models.ValidationError{RecordID: decision.ID, Reason: "merge requires both records"}
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   decision.TenantID,
		"decision_id": decision.ID,
		"record_a":    recordA.ID,
		"record_b":    recordB.ID,
	})

	idemKey := IdempotencyKey(recordA.ID, recordB.ID, decision.ID)
	existing, err := r.getMergeEvent(ctx, decision.TenantID, idemKey)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		log.Debug("Merge already applied; returning recorded event")
		return existing, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	slotA, clusterA, err := r.hydrate(ctx, decision.TenantID, recordA)
	if err != nil {
		return nil, err
	}
	slotB, clusterB, err := r.hydrate(ctx, decision.TenantID, recordB)
	if err != nil {
		return nil, err
	}

	rootA, rootB := r.arena.find(slotA), r.arena.find(slotB)
	if rootA == rootB {
		return r.commitRedundant(ctx, log, decision, recordA, recordB, idemKey, rootA)
	}

	repA, err := r.representative(clusterA, recordA)
	if err != nil {
		return nil, err
	}
	repB, err := r.representative(clusterB, recordB)
	if err != nil {
		return nil, err
	}

	merged, conflicts, err := mergeReps(repA, repB, r.policy)
	if err != nil {
		log.WithError(err).Info("Merge blocked by unresolvable field conflict")
		return nil, err
	}

	clusterID := survivingClusterID(r.arena.clusterIDs[rootA], r.arena.clusterIDs[rootB])
	raw, err := merged.encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode representative values: %w", err)
	}

	now := time.Now().UTC()
	memberIDs := unionMembers(r.arena, decision.TenantID, rootA, rootB)

	cluster := &models.CanonicalEntity{
		ID:             clusterID,
		TenantID:       decision.TenantID,
		MemberIDs:      memberIDs,
		Representative: raw,
		Version:        clusterVersion(clusterA, clusterB) + 1,
		CreatedAt:      clusterCreatedAt(clusterA, clusterB, now),
		UpdatedAt:      now,
	}

	event := &models.MergeEvent{
		ID:             uuid.NewString(),
		TenantID:       decision.TenantID,
		ClusterID:      clusterID,
		MergedIDs:      []string{recordA.ID, recordB.ID},
		DecisionID:     decision.ID,
		Strategy:       string(r.policy.DefaultStrategy),
		Conflicts:      conflicts,
		IdempotencyKey: idemKey,
		Timestamp:      now,
	}

	// Persist before touching the arena: a storage failure must leave the
	// in-memory state exactly as it was.
	if err := r.withRetry(ctx, "upsert_cluster", func(ctx context.Context) error {
		return r.store.UpsertCluster(ctx, cluster)
	}); err != nil {
		return nil, err
	}
	if err := r.withRetry(ctx, "append_merge_event", func(ctx context.Context) error {
		return r.store.AppendMergeEvent(ctx, event)
	}); err != nil {
		return nil, err
	}

	root := r.arena.union(rootA, rootB)
	r.arena.setClusterID(root, clusterID)

	log.WithFields(map[string]any{
		"cluster_id": clusterID,
		"members":    len(memberIDs),
		"conflicts":  len(conflicts),
	}).Info("Committed merge")

	return event, nil
}

// commitRedundant handles a merge whose records already share a cluster.
// The union-find state is already correct; the policy decides whether the
// event is still appended for audit.
func (r *Resolver) commitRedundant(ctx context.Context, log ectologger.Logger, decision *models.MatchDecision, recordA, recordB *models.Record, idemKey string, root int) (*models.MergeEvent, error) {
	event := &models.MergeEvent{
		ID:             uuid.NewString(),
		TenantID:       decision.TenantID,
		ClusterID:      r.arena.clusterIDs[root],
		MergedIDs:      []string{recordA.ID, recordB.ID},
		DecisionID:     decision.ID,
		Strategy:       string(r.policy.DefaultStrategy),
		IdempotencyKey: idemKey,
		Redundant:      true,
		Timestamp:      time.Now().UTC(),
	}

	if r.policy.RecordRedundantMerges {
		if err := r.withRetry(ctx, "append_merge_event", func(ctx context.Context) error {
			return r.store.AppendMergeEvent(ctx, event)
		}); err != nil {
			return nil, err
		}
	}

	log.WithFields(map[string]any{"cluster_id": event.ClusterID}).Debug("Records already share a cluster; merge is redundant")
	return event, nil
}

// GetCluster returns the canonical entity containing recordID.
func (r *Resolver) GetCluster(ctx context.Context, tenantID, recordID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.GetCluster")
	defer span.End()

	var cluster *models.CanonicalEntity
	err := r.withRetry(ctx, "get_cluster", func(ctx context.Context) error {
		var err error
		cluster, err = r.store.GetCluster(ctx, tenantID, recordID)
		return err
	})
	return cluster, err
}

// History returns the merge audit trail for a cluster, oldest first.
func (r *Resolver) History(ctx context.Context, tenantID, clusterID string) ([]models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.History")
	defer span.End()

	var events []models.MergeEvent
	err := r.withRetry(ctx, "list_merge_events", func(ctx context.Context) error {
		var err error
		events, err = r.store.ListMergeEvents(ctx, tenantID, clusterID)
		return err
	})
	return events, err
}

// hydrate ensures the record has an arena slot, loading existing cluster
// membership from storage the first time a record is seen. Returns the slot
// and the stored cluster, if any.
func (r *Resolver) hydrate(ctx context.Context, tenantID string, rec *models.Record) (int, *models.CanonicalEntity, error) {
	key := arenaKey(tenantID, rec.ID)
	if slot, ok := r.arena.lookup(key); ok {
		root := r.arena.find(slot)
		if id := r.arena.clusterIDs[root]; id != "" {
			cluster, err := r.getClusterByRecord(ctx, tenantID, rec.ID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return 0, nil, err
			}
			return slot, cluster, nil
		}
		return slot, nil, nil
	}

	cluster, err := r.getClusterByRecord(ctx, tenantID, rec.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return r.arena.add(key), nil, nil
		}
		return 0, nil, err
	}

	// Replay the stored membership into the arena.
	slot := r.arena.add(key)
	root := slot
	for _, member := range cluster.MemberIDs {
		memberSlot := r.arena.add(arenaKey(tenantID, member))
		root = r.arena.union(r.arena.find(root), r.arena.find(memberSlot))
	}
	r.arena.setClusterID(root, cluster.ID)
	return slot, cluster, nil
}

func (r *Resolver) getClusterByRecord(ctx context.Context, tenantID, recordID string) (*models.CanonicalEntity, error) {
	var cluster *models.CanonicalEntity
	err := r.withRetry(ctx, "get_cluster", func(ctx context.Context) error {
		var err error
		cluster, err = r.store.GetCluster(ctx, tenantID, recordID)
		return err
	})
	return cluster, err
}

func (r *Resolver) getMergeEvent(ctx context.Context, tenantID, idemKey string) (*models.MergeEvent, error) {
	var event *models.MergeEvent
	err := r.withRetry(ctx, "get_merge_event", func(ctx context.Context) error {
		var err error
		event, err = r.store.GetMergeEvent(ctx, tenantID, idemKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// representative returns the cluster's stored representative, or a singleton
// representative built from the record when it has never been merged.
func (r *Resolver) representative(cluster *models.CanonicalEntity, rec *models.Record) (Representative, error) {
	if cluster == nil {
		return repFromRecord(rec), nil
	}
	return decodeRepresentative(cluster.Representative)
}

// withRetry runs a storage operation with exponential backoff. ErrNotFound
// is a result, not a failure, and is never retried.
func (r *Resolver) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < storageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &models.StorageError{Op: op, Err: ctx.Err()}
			case <-time.After(storageRetryBase << (attempt - 1)):
			}
		}
		if err = fn(ctx); err == nil || errors.Is(err, models.ErrNotFound) {
			return err
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"op":      op,
			"attempt": attempt + 1,
		}).Warn("Storage operation failed; retrying")
	}
	return &models.StorageError{Op: op, Err: err}
}

func arenaKey(tenantID, recordID string) string {
	return tenantID + "|" + recordID
}

// survivingClusterID keeps the lexicographically smaller existing id so the
// surviving id does not depend on merge order. A fresh id is minted only
// when neither side has ever been clustered.
func survivingClusterID(a, b string) string {
	switch {
	case a != "" && b != "":
		if a < b {
			return a
		}
		return b
	case a != "":
		return a
	case b != "":
		return b
	default:
		return uuid.NewString()
	}
}

func clusterVersion(a, b *models.CanonicalEntity) int {
	v := 0
	if a != nil && a.Version > v {
		v = a.Version
	}
	if b != nil && b.Version > v {
		v = b.Version
	}
	return v
}

func clusterCreatedAt(a, b *models.CanonicalEntity, fallback time.Time) time.Time {
	created := fallback
	if a != nil && a.CreatedAt.Before(created) {
		created = a.CreatedAt
	}
	if b != nil && b.CreatedAt.Before(created) {
		created = b.CreatedAt
	}
	return created
}

// unionMembers returns the sorted record ids of both sets, stripped of the
// tenant prefix used for arena keys.
func unionMembers(a *arena, tenantID string, rootA, rootB int) []string {
	prefix := tenantID + "|"
	keys := append(a.members(rootA), a.members(rootB)...)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(prefix):])
	}
	sort.Strings(out)
	return out
}
