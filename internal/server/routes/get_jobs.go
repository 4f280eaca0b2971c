package routes

import (
	"errors"
	"net/http"

	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetJobStatusHandler returns the persisted job snapshot. A pure read,
// safe to poll while the worker is mid-run.
func GetJobStatusHandler(c echo.Context) error {
	type statusResponse struct {
		Message  string  `json:"message,omitempty"`
		Progress float64 `json:"progress"`
		*registry.UploadJob
	}

	id := c.Param("id")
	app := c.(*middleware.AppContext).App

	job, err := app.Registry.GetJob(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, statusResponse{
				Message: "Job not found",
			})
		}
		logger.Error("Failed to load job", "job_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, statusResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Progress:  job.Progress(),
		UploadJob: job,
	})
}
