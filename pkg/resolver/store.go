package resolver

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Storage is the persistence boundary for cluster state and merge
// provenance. Implementations must make UpsertCluster atomic with respect
// to readers: a caller of GetCluster never observes membership without the
// matching representative values.
type Storage interface {
	// GetCluster returns the canonical entity containing recordID, or
	// models.ErrNotFound when the record has never been merged.
	GetCluster(ctx context.Context, tenantID, recordID string) (*models.CanonicalEntity, error)
	// UpsertCluster writes a cluster and its full membership.
	UpsertCluster(ctx context.Context, cluster *models.CanonicalEntity) error
	// AppendMergeEvent appends a merge event. Appending a second event with
	// the same idempotency key must fail with no effect or be ignored.
	AppendMergeEvent(ctx context.Context, event *models.MergeEvent) error
	// GetMergeEvent returns the event with the given idempotency key, or
	// models.ErrNotFound.
	GetMergeEvent(ctx context.Context, tenantID, idempotencyKey string) (*models.MergeEvent, error)
	// ListMergeEvents returns the audit trail for a cluster, oldest first.
	ListMergeEvents(ctx context.Context, tenantID, clusterID string) ([]models.MergeEvent, error)
}
