package routes

import (
	"net/http"

	"github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetGraphHandler returns every node and edge in a graph namespace.
func GetGraphHandler(c echo.Context) error {
	type graphResponse struct {
		Message string       `json:"message,omitempty"`
		GraphID string       `json:"graph_id"`
		Nodes   []store.Node `json:"nodes"`
		Edges   []store.Edge `json:"edges"`
	}

	graphID := c.Param("graph_id")
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	nodes, err := app.Store.GetNodes(ctx, graphID)
	if err != nil {
		logger.Error("Failed to load graph nodes", "graph_id", graphID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, graphResponse{
			Message: "Graph store unavailable",
			GraphID: graphID,
			Nodes:   []store.Node{},
			Edges:   []store.Edge{},
		})
	}
	edges, err := app.Store.GetEdges(ctx, graphID)
	if err != nil {
		logger.Error("Failed to load graph edges", "graph_id", graphID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, graphResponse{
			Message: "Graph store unavailable",
			GraphID: graphID,
			Nodes:   []store.Node{},
			Edges:   []store.Edge{},
		})
	}

	if nodes == nil {
		nodes = []store.Node{}
	}
	if edges == nil {
		edges = []store.Edge{}
	}
	return c.JSON(http.StatusOK, graphResponse{
		GraphID: graphID,
		Nodes:   nodes,
		Edges:   edges,
	})
}
