package routes

import (
	"errors"
	"net/http"

	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DeleteJobHandler removes a job, its chunks, its graph namespace and the
// staged source object. Deleting then resubmitting is the only way to
// reprocess content; there is no in-place retry.
func DeleteJobHandler(c echo.Context) error {
	type deleteJobResponse struct {
		Message string `json:"message"`
	}

	id := c.Param("id")
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	job, err := app.Registry.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, deleteJobResponse{
				Message: "Job not found",
			})
		}
		logger.Error("Failed to load job", "job_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteJobResponse{
			Message: "Internal server error",
		})
	}

	if err := app.Store.DeleteGraph(ctx, job.GraphID); err != nil {
		logger.Error("Failed to delete graph", "job_id", id, "graph_id", job.GraphID, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteJobResponse{
			Message: "Internal server error",
		})
	}

	if err := app.Objects.DeleteJobObjects(ctx, id); err != nil {
		logger.Warn("Failed to delete staged objects", "job_id", id, "err", err)
	}

	if err := app.Registry.DeleteJob(ctx, id); err != nil && !errors.Is(err, registry.ErrJobNotFound) {
		logger.Error("Failed to delete job", "job_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteJobResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteJobResponse{
		Message: "Job deleted",
	})
}
