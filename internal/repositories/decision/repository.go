// Package decision persists match decisions and backs the review queue.
package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/database"
	"github.com/Ramsey-B/stem/pkg/tracing"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/models"
)

const columns = "id, tenant_id, record_a, record_b, raw_score, calibrated_score, decision, rule_id, model_id, low_confidence, factors, status, decided_at"

// Repository handles match decision persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new decision repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new match decision.
func (r *Repository) Create(ctx context.Context, decision *models.MatchDecision) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.Create")
	defer span.End()

	if decision.ID == "" {
		decision.ID = uuid.New().String()
	}
	if decision.Status == "" {
		decision.Status = models.DecisionStatusPending
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	factors, err := json.Marshal(decision.Factors)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode decision factors")
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_decisions")
	sb.Cols("id", "tenant_id", "record_a", "record_b", "raw_score", "calibrated_score", "decision", "rule_id", "model_id", "low_confidence", "factors", "status", "decided_at")
	sb.Values(decision.ID, decision.TenantID, decision.RecordA, decision.RecordB, decision.RawScore, decision.CalibratedScore, decision.Decision, decision.RuleID, decision.ModelID, decision.LowConfidence, factors, decision.Status, decision.DecidedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"decision_id": decision.ID}).Error("Failed to create match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match decision")
	}

	return decision, nil
}

// CreateBatch persists multiple match decisions efficiently.
func (r *Repository) CreateBatch(ctx context.Context, decisions []*models.MatchDecision) error {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.CreateBatch")
	defer span.End()

	if len(decisions) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_decisions")
	sb.Cols("id", "tenant_id", "record_a", "record_b", "raw_score", "calibrated_score", "decision", "rule_id", "model_id", "low_confidence", "factors", "status", "decided_at")

	for _, d := range decisions {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.Status == "" {
			d.Status = models.DecisionStatusPending
		}
		if d.DecidedAt.IsZero() {
			d.DecidedAt = now
		}
		factors, err := json.Marshal(d.Factors)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode decision factors")
		}
		sb.Values(d.ID, d.TenantID, d.RecordA, d.RecordB, d.RawScore, d.CalibratedScore, d.Decision, d.RuleID, d.ModelID, d.LowConfidence, factors, d.Status, d.DecidedAt)
	}

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create match decisions batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match decisions")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(decisions)}).Debug("Created match decisions batch")
	return nil
}

// Get retrieves a match decision by ID.
func (r *Repository) Get(ctx context.Context, tenantID string, id string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.Get")
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM match_decisions WHERE tenant_id = $1 AND id = $2", columns)

	var row decisionRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("decision %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match decision")
	}

	return row.toModel()
}

// GetByPair retrieves the most recent decision for an unordered record pair.
func (r *Repository) GetByPair(ctx context.Context, tenantID string, recordA, recordB string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.GetByPair")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s FROM match_decisions
		WHERE tenant_id = $1
		AND ((record_a = $2 AND record_b = $3) OR (record_a = $3 AND record_b = $2))
		ORDER BY decided_at DESC
		LIMIT 1
	`, columns)

	var row decisionRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, recordA, recordB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no prior decision
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match decision by pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match decision")
	}

	return row.toModel()
}

// ListPending retrieves REVIEW decisions awaiting adjudication, highest
// score first.
func (r *Repository) ListPending(ctx context.Context, tenantID string, limit int) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.ListPending")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "record_a", "record_b", "raw_score", "calibrated_score", "decision", "rule_id", "model_id", "low_confidence", "factors", "status", "decided_at")
	sb.From("match_decisions")
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("decision", models.DecisionReview),
		sb.Equal("status", models.DecisionStatusPending),
	)
	sb.OrderBy("calibrated_score DESC", "decided_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []decisionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending decisions")
	}

	decisions := make([]models.MatchDecision, 0, len(rows))
	for _, row := range rows {
		d, err := row.toModel()
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}

	return decisions, nil
}

// UpdateStatus transitions a decision's review status.
func (r *Repository) UpdateStatus(ctx context.Context, tenantID string, id string, status string) error {
	ctx, span := tracing.StartSpan(ctx, "decision.Repository.UpdateStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_decisions")
	sb.Set(sb.Assign("status", status))
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update decision status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update decision status")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("decision %s not found", id))
	}

	return nil
}

type decisionRow struct {
	ID              string          `db:"id"`
	TenantID        string          `db:"tenant_id"`
	RecordA         string          `db:"record_a"`
	RecordB         string          `db:"record_b"`
	RawScore        float64         `db:"raw_score"`
	CalibratedScore float64         `db:"calibrated_score"`
	Decision        models.Decision `db:"decision"`
	RuleID          string          `db:"rule_id"`
	ModelID         string          `db:"model_id"`
	LowConfidence   bool            `db:"low_confidence"`
	Factors         []byte          `db:"factors"`
	Status          string          `db:"status"`
	DecidedAt       time.Time       `db:"decided_at"`
}

func (row decisionRow) toModel() (*models.MatchDecision, error) {
	d := models.MatchDecision{
		ID:              row.ID,
		TenantID:        row.TenantID,
		RecordA:         row.RecordA,
		RecordB:         row.RecordB,
		RawScore:        row.RawScore,
		CalibratedScore: row.CalibratedScore,
		Decision:        row.Decision,
		RuleID:          row.RuleID,
		ModelID:         row.ModelID,
		LowConfidence:   row.LowConfidence,
		Status:          row.Status,
		DecidedAt:       row.DecidedAt,
	}
	if len(row.Factors) > 0 {
		if err := json.Unmarshal(row.Factors, &d.Factors); err != nil {
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to decode decision factors")
		}
	}
	return &d, nil
}
