// Package review exposes the adjudication queue for REVIEW decisions.
package review

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/labstack/echo/v4"

	decisionrepo "github.com/Ramsey-B/fern/internal/repositories/decision"
	"github.com/Ramsey-B/fern/internal/repositories/record"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// Register registers review queue routes
func Register(g *echo.Group) {
	g.GET("", ListReviews)
	g.POST("/:id/approve", ApproveReview)
	g.POST("/:id/reject", RejectReview)
	g.POST("/:id/defer", DeferReview)
}

// ListReviews lists pending REVIEW decisions, highest score first
func ListReviews(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decisions, err := repo.ListPending(ctx, tenantID, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, decisions)
}

// ApproveReview approves a REVIEW decision and commits the merge
func ApproveReview(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	matched, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if matched.Status != models.DecisionStatusPending && matched.Status != models.DecisionStatusDeferred {
		return httperror.NewHTTPError(http.StatusConflict, "decision has already been adjudicated")
	}

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

	// Approval is an explicit adjudication upgrading the pair to MERGE.
	matched.Decision = models.DecisionMerge
	event, err := res.Commit(ctx, matched, a, b)
	if err != nil {
		return err
	}

	if err := repo.UpdateStatus(ctx, tenantID, id, models.DecisionStatusApproved); err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"decision_id": id,
			"cluster_id":  event.ClusterID,
		}).Info("Approved review decision")
	}

	return c.JSON(http.StatusOK, event)
}

// RejectReview rejects a REVIEW decision; the records stay unmerged
func RejectReview(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.UpdateStatus(ctx, tenantID, id, models.DecisionStatusRejected); err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"decision_id": id}).Info("Rejected review decision")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.DecisionStatusRejected})
}

// DeferReview defers a REVIEW decision for later
func DeferReview(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*decisionrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.UpdateStatus(ctx, tenantID, id, models.DecisionStatusDeferred); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.DecisionStatusDeferred})
}
