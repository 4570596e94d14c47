// Package clusters exposes canonical entity reads and merge provenance.
package clusters

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Ramsey-B/stem/pkg/context"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolver"
)

// Register registers cluster routes
func Register(g *echo.Group) {
	g.GET("/by-record/:recordId", GetByRecord)
	g.GET("/:id/events", ListEvents)
}

// GetByRecord returns the canonical entity containing a record
func GetByRecord(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	recordID := c.Param("recordId")

	ctx, res, err := ectoinject.GetContext[*resolver.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	cluster, err := res.GetCluster(ctx, tenantID, recordID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return httperror.NewHTTPError(http.StatusNotFound, "record has no cluster")
		}
		return err
	}

	return c.JSON(http.StatusOK, cluster)
}

// ListEvents returns a cluster's merge audit trail, oldest first
func ListEvents(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	clusterID := c.Param("id")

	ctx, res, err := ectoinject.GetContext[*resolver.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	events, err := res.History(ctx, tenantID, clusterID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, events)
}
