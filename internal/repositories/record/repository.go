// Package record persists ingested source records.
package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

const columns = "id, tenant_id, source, name, email, phone, gov_id, address, latitude, longitude, timestamp, attrs, created_at"

// Repository handles record persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new record repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch writes a batch of records. Records are immutable observations,
// so a conflicting id keeps the stored row.
func (r *Repository) UpsertBatch(ctx context.Context, records []*models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.UpsertBatch")
	defer span.End()

	// Ingestion payloads can carry null or id-less entries; those are
	// excluded downstream as validation failures, never written.
	rows := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("records")
	sb.Cols("id", "tenant_id", "source", "name", "email", "phone", "gov_id", "address", "latitude", "longitude", "timestamp", "attrs", "created_at")

	for _, rec := range rows {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		attrs := rec.Attrs
		if len(attrs) == 0 {
			attrs = []byte("{}")
		}
		sb.Values(rec.ID, rec.TenantID, rec.Source, rec.Name, rec.Email, rec.Phone, rec.GovID, rec.Address, rec.Latitude, rec.Longitude, rec.Timestamp, []byte(attrs), rec.CreatedAt)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (tenant_id, id) DO NOTHING"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert records batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert records")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(rows)}).Debug("Upserted records batch")
	return nil
}

// Get retrieves a record by ID.
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Get")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM records WHERE tenant_id = $1 AND id = $2", columns)

	var rec models.Record
	if err := r.db.GetContext(ctx, &rec, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("record %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record")
	}

	return &rec, nil
}

// ListByIDs retrieves the records with the given ids.
func (r *Repository) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "source", "name", "email", "phone", "gov_id", "address", "latitude", "longitude", "timestamp", "attrs", "created_at")
	sb.From("records")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.In("id", idsToAny(ids)...),
	)
	sb.OrderBy("id ASC")

	query, args := sb.Build()
	var records []models.Record
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list records by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list records")
	}

	return records, nil
}

// ListByTenant retrieves the most recently ingested records for a tenant.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListByTenant")
	defer span.End()

	if limit < 1 || limit > 10000 {
		limit = 1000
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "source", "name", "email", "phone", "gov_id", "address", "latitude", "longitude", "timestamp", "attrs", "created_at")
	sb.From("records")
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at DESC", "id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var records []models.Record
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list records by tenant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list records")
	}

	return records, nil
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
