// Package candidates exposes operational visibility into candidate
// generation. No side effects.
package candidates

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/record"
	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/models"
)

const maxSamplePairs = 10

// Register registers candidate routes
func Register(g *echo.Group) {
	g.GET("/stats", GetStats)
}

// GetStats runs candidate generation over the tenant's recent records and
// reports pair volume plus a sample, without scoring or persisting anything.
func GetStats(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	limit := 1000
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	ctx, records, err := ectoinject.GetContext[*record.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, generator, err := ectoinject.GetContext[*blocking.Generator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	stored, err := records.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return err
	}

	batch := make([]*models.Record, len(stored))
	for i := range stored {
		batch[i] = &stored[i]
	}

	result, err := generator.Generate(ctx, batch)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "candidate generation failed")
	}

	sample := result.Candidates
	if len(sample) > maxSamplePairs {
		sample = sample[:maxSamplePairs]
	}

	return c.JSON(http.StatusOK, models.CandidateStatsResponse{
		TenantID:        tenantID,
		CandidatesCount: len(result.Candidates),
		Deferred:        len(result.Deferred),
		SamplePairs:     sample,
	})
}
