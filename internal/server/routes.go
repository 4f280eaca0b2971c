package server

import (
	"github.com/coursegraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Job routes
	apiRoutes.POST("/jobs", routes.CreateJobHandler)
	apiRoutes.GET("/jobs/:id", routes.GetJobStatusHandler)
	apiRoutes.GET("/jobs/:id/events", routes.StreamJobEventsHandler)
	apiRoutes.DELETE("/jobs/:id", routes.DeleteJobHandler)

	// Graph routes
	apiRoutes.GET("/graphs/:graph_id", routes.GetGraphHandler)
}
