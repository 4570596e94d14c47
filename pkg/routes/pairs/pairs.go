// Package pairs exposes the pair scoring, resolve, and merge-commit
// endpoints. Scoring and resolve are idempotent reads; merge-commit is the
// only call with a durable side effect.
package pairs

import (
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	decisionrepo "github.com/Ramsey-B/fern/internal/repositories/decision"
	"github.com/Ramsey-B/fern/internal/repositories/record"
	"github.com/Ramsey-B/fern/pkg/decision"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

var validate = validator.New()

// Register registers pair routes
func Register(g *echo.Group) {
	g.POST("/score", ScorePairs)
	g.POST("/resolve", Resolve)
	g.POST("/merge", CommitMerge)
}

// ScorePairs scores a batch of record id pairs. Per-pair failures return a
// decision of "error" with a reason code; the rest of the batch is scored.
func ScorePairs(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.ScorePairRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, records, err := ectoinject.GetContext[*record.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, extractor, err := ectoinject.GetContext[*features.Extractor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, matcher, err := ectoinject.GetContext[*matching.Matcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, engine, err := ectoinject.GetContext[*decision.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	results := make([]models.ScorePairResult, 0, len(req.Pairs))
	for _, ref := range req.Pairs {
		if ref.RecordA == "" || ref.RecordB == "" {
			results = append(results, models.ScorePairResult{
				RecordA:    ref.RecordA,
				RecordB:    ref.RecordB,
				Decision:   "error",
				ReasonCode: "missing_record_id",
			})
			continue
		}

		a, err := records.Get(ctx, tenantID, ref.RecordA)
		if err != nil {
			results = append(results, models.ScorePairResult{
				RecordA:    ref.RecordA,
				RecordB:    ref.RecordB,
				Decision:   "error",
				ReasonCode: "record_not_found",
			})
			continue
		}
		b, err := records.Get(ctx, tenantID, ref.RecordB)
		if err != nil {
			results = append(results, models.ScorePairResult{
				RecordA:    ref.RecordA,
				RecordB:    ref.RecordB,
				Decision:   "error",
				ReasonCode: "record_not_found",
			})
			continue
		}

		results = append(results, scorePair(c, tenantID, extractor, matcher, engine, a, b))
	}

	return c.JSON(http.StatusOK, results)
}

// Resolve scores one record against explicit candidates and returns the best
// advisory outcome. Nothing is committed.
func Resolve(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Record.ID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "record id is required")
	}

	ctx, extractor, err := ectoinject.GetContext[*features.Extractor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, matcher, err := ectoinject.GetContext[*matching.Matcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, engine, err := ectoinject.GetContext[*decision.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result := models.ResolveResult{Decision: string(models.DecisionNoMerge)}
	best := -1.0

	for i := range req.Candidates {
		cand := &req.Candidates[i]
		if cand.ID == "" {
			result.Candidates = append(result.Candidates, models.ScorePairResult{
				RecordA:    req.Record.ID,
				Decision:   "error",
				ReasonCode: "missing_record_id",
			})
			continue
		}

		scored := scorePair(c, tenantID, extractor, matcher, engine, &req.Record, cand)
		result.Candidates = append(result.Candidates, scored)

		if scored.CalibratedScore > best {
			best = scored.CalibratedScore
			result.Decision = scored.Decision
			result.Score = scored.CalibratedScore
			result.Factors = scored.Factors
		}
	}

	return c.JSON(http.StatusOK, result)
}

// CommitMerge persists a MergeEvent and mutates cluster state. Safe to
// retry: replays are detected via the idempotency key.
func CommitMerge(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.MergeCommitRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DecisionID == "" && (req.RecordA == "" || req.RecordB == "") {
		return httperror.NewHTTPError(http.StatusBadRequest, "decision_id or both a_id and b_id are required")
	}

	ctx, decisions, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var matched *models.MatchDecision
	if req.DecisionID != "" {
		matched, err = decisions.Get(ctx, tenantID, req.DecisionID)
		if err != nil {
			return err
		}
	} else {
		matched, err = decisions.GetByPair(ctx, tenantID, req.RecordA, req.RecordB)
		if err != nil {
			return err
		}
		if matched == nil {
			return httperror.NewHTTPError(http.StatusNotFound, "no decision exists for the pair")
		}
	}

	if matched.Decision == models.DecisionNoMerge {
		return httperror.NewHTTPError(http.StatusConflict, "decision is NO_MERGE and cannot be committed")
	}
	// A REVIEW decision reaching this endpoint is an explicit adjudication.
	matched.Decision = models.DecisionMerge

	ctx, records, err := ectoinject.GetContext[*record.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	a, err := records.Get(ctx, tenantID, matched.RecordA)
	if err != nil {
		return err
	}
	b, err := records.Get(ctx, tenantID, matched.RecordB)
	if err != nil {
		return err
	}

	ctx, res, err := ectoinject.GetContext[*resolver.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	event, err := res.Commit(ctx, matched, a, b)
	if err != nil {
		var conflict *models.MergeConflictError
		if errors.As(err, &conflict) {
			return httperror.NewHTTPError(http.StatusConflict, conflict.Error())
		}
		return err
	}

	if err := decisions.UpdateStatus(ctx, tenantID, matched.ID, models.DecisionStatusApplied); err != nil {
		return err
	}

	ctx, emitter, _ := ectoinject.GetContext[*events.Emitter](ctx)
	if emitter != nil {
		if err := emitter.EmitEntityMerged(ctx, event); err != nil {
			ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
			if logger != nil {
				logger.WithContext(ctx).WithError(err).Warn("Failed to emit entity.merged event")
			}
		}
	}

	return c.JSON(http.StatusOK, event)
}

// scorePair runs one pair through extraction, matching, and decisioning.
func scorePair(c echo.Context, tenantID string, extractor *features.Extractor, matcher *matching.Matcher, engine *decision.Engine, a, b *models.Record) models.ScorePairResult {
	ctx := c.Request().Context()

	pair := models.NewCandidatePair(a.ID, b.ID, "api", time.Now().UTC())
	vec, _ := extractor.Extract(a, b)
	score := matcher.Score(ctx, pair, vec)
	verdict := engine.Decide(ctx, tenantID, pair, score)

	return models.ScorePairResult{
		RecordA:         a.ID,
		RecordB:         b.ID,
		RawScore:        score.RawScore,
		CalibratedScore: score.CalibratedScore,
		Decision:        string(verdict.Decision),
		Factors:         verdict.Factors,
	}
}
