// Package cluster persists canonical entities, their memberships, and the
// merge event audit trail.
package cluster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Repository handles cluster and merge event persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new cluster repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetCluster retrieves the canonical entity containing recordID. Returns
// models.ErrNotFound when the record has never been merged.
func (r *Repository) GetCluster(ctx context.Context, tenantID, recordID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.GetCluster")
	defer span.End()

	query := `
		SELECT e.id, e.tenant_id, e.representative, e.version, e.created_at, e.updated_at
		FROM canonical_entities e
		JOIN cluster_members m ON m.tenant_id = e.tenant_id AND m.cluster_id = e.id
		WHERE e.tenant_id = $1 AND m.record_id = $2
	`

	var entity models.CanonicalEntity
	if err := r.db.GetContext(ctx, &entity, query, tenantID, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record_id": recordID}).Error("Failed to get cluster")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get cluster")
	}

	members, err := r.listMembers(ctx, tenantID, entity.ID)
	if err != nil {
		return nil, err
	}
	entity.MemberIDs = members

	return &entity, nil
}

// UpsertCluster writes a cluster and replaces its full membership in one
// transaction, so readers never see membership without the matching
// representative values.
func (r *Repository) UpsertCluster(ctx context.Context, cluster *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.UpsertCluster")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO canonical_entities (id, tenant_id, representative, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			representative = EXCLUDED.representative,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, cluster.ID, cluster.TenantID, []byte(cluster.Representative), cluster.Version, cluster.CreatedAt, cluster.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cluster_id": cluster.ID}).Error("Failed to upsert canonical entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert canonical entity")
	}

	// Reassigning a record moves it between clusters, so membership is an
	// upsert on (tenant_id, record_id), not on the cluster.
	if len(cluster.MemberIDs) > 0 {
		sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
		sb.InsertInto("cluster_members")
		sb.Cols("tenant_id", "cluster_id", "record_id")
		for _, recordID := range cluster.MemberIDs {
			sb.Values(cluster.TenantID, cluster.ID, recordID)
		}
		memberQuery, args := sb.Build()
		memberQuery += " ON CONFLICT (tenant_id, record_id) DO UPDATE SET cluster_id = EXCLUDED.cluster_id"

		if _, err := tx.ExecContext(ctx, memberQuery, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cluster_id": cluster.ID}).Error("Failed to upsert cluster members")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert cluster members")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to commit cluster upsert")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit cluster upsert")
	}

	return nil
}

// AppendMergeEvent appends a merge event. A duplicate idempotency key is
// ignored, keeping replays side effect free.
func (r *Repository) AppendMergeEvent(ctx context.Context, event *models.MergeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.AppendMergeEvent")
	defer span.End()

	mergedIDs, err := json.Marshal(event.MergedIDs)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merged ids")
	}
	conflicts, err := json.Marshal(event.Conflicts)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode merge conflicts")
	}

	query := `
		INSERT INTO merge_events (id, tenant_id, cluster_id, merged_ids, decision_id, strategy, conflicts, idempotency_key, redundant, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, event.ID, event.TenantID, event.ClusterID, mergedIDs, event.DecisionID, event.Strategy, conflicts, event.IdempotencyKey, event.Redundant, event.Timestamp); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_id": event.ID}).Error("Failed to append merge event")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append merge event")
	}

	return nil
}

// GetMergeEvent retrieves a merge event by idempotency key, or
// models.ErrNotFound.
func (r *Repository) GetMergeEvent(ctx context.Context, tenantID, idempotencyKey string) (*models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.GetMergeEvent")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "cluster_id", "merged_ids", "decision_id", "strategy", "conflicts", "idempotency_key", "redundant", "timestamp")
	sb.From("merge_events")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("idempotency_key", idempotencyKey),
	)

	query, args := sb.Build()
	var row mergeEventRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge event")
	}

	return row.toModel()
}

// ListMergeEvents retrieves a cluster's audit trail, oldest first.
func (r *Repository) ListMergeEvents(ctx context.Context, tenantID, clusterID string) ([]models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Repository.ListMergeEvents")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "cluster_id", "merged_ids", "decision_id", "strategy", "conflicts", "idempotency_key", "redundant", "timestamp")
	sb.From("merge_events")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("cluster_id", clusterID),
	)
	sb.OrderBy("timestamp ASC", "id ASC")

	query, args := sb.Build()
	var rows []mergeEventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge events")
	}

	events := make([]models.MergeEvent, 0, len(rows))
	for _, row := range rows {
		event, err := row.toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	return events, nil
}

func (r *Repository) listMembers(ctx context.Context, tenantID, clusterID string) ([]string, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("record_id")
	sb.From("cluster_members")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("cluster_id", clusterID),
	)
	sb.OrderBy("record_id ASC")

	query, args := sb.Build()
	var members []string
	if err := r.db.SelectContext(ctx, &members, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"cluster_id": clusterID}).Error("Failed to list cluster members")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list cluster members")
	}

	return members, nil
}

type mergeEventRow struct {
	ID             string    `db:"id"`
	TenantID       string    `db:"tenant_id"`
	ClusterID      string    `db:"cluster_id"`
	MergedIDs      []byte    `db:"merged_ids"`
	DecisionID     string    `db:"decision_id"`
	Strategy       string    `db:"strategy"`
	Conflicts      []byte    `db:"conflicts"`
	IdempotencyKey string    `db:"idempotency_key"`
	Redundant      bool      `db:"redundant"`
	Timestamp      time.Time `db:"timestamp"`
}

func (row mergeEventRow) toModel() (*models.MergeEvent, error) {
	event := models.MergeEvent{
		ID:             row.ID,
		TenantID:       row.TenantID,
		ClusterID:      row.ClusterID,
		DecisionID:     row.DecisionID,
		Strategy:       row.Strategy,
		IdempotencyKey: row.IdempotencyKey,
		Redundant:      row.Redundant,
		Timestamp:      row.Timestamp,
	}
	if len(row.MergedIDs) > 0 {
		if err := json.Unmarshal(row.MergedIDs, &event.MergedIDs); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode merged ids")
		}
	}
	if len(row.Conflicts) > 0 {
		if err := json.Unmarshal(row.Conflicts, &event.Conflicts); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode merge conflicts")
		}
	}
	return &event, nil
}
