package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coursegraph/backend/internal/queue"
	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/pkg/events"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StreamJobEventsHandler streams a job's progress frames as server-sent
// events. Frames are live only: a subscriber that connects late missed the
// earlier frames and should read /api/jobs/:id instead, which is always
// authoritative. The stream ends at the first terminal stage or when the
// client disconnects; disconnecting never stops the worker.
func StreamJobEventsHandler(c echo.Context) error {
	id := c.Param("id")
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	job, err := app.Registry.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Job not found"})
		}
		logger.Error("Failed to load job", "job_id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	// Nothing more will ever be published for a finished job.
	if job.Status == registry.StatusCompleted || job.Status == registry.StatusFailed {
		frame, _ := json.Marshal(map[string]any{
			"event":  "stream_closed",
			"job_id": id,
			"status": job.Status,
		})
		fmt.Fprintf(c.Response(), "data: %s\n\n", frame)
		c.Response().Flush()
		return nil
	}

	// Each subscriber gets its own channel and exclusive queue; the binding
	// disappears with the connection.
	ch, err := app.QueueConn.Channel()
	if err != nil {
		logger.Error("Failed to open channel for event stream", "job_id", id, "err", err)
		return nil
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		logger.Error("Failed to declare event queue", "job_id", id, "err", err)
		return nil
	}
	if err := ch.QueueBind(q.Name, queue.ProgressTopic(id), queue.ProgressExchange, false, nil); err != nil {
		logger.Error("Failed to bind event queue", "job_id", id, "err", err)
		return nil
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		logger.Error("Failed to consume event queue", "job_id", id, "err", err)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Body)
			c.Response().Flush()

			var frame struct {
				Event string `json:"event"`
			}
			if err := json.Unmarshal(msg.Body, &frame); err != nil {
				continue
			}
			if events.Stage(frame.Event).Terminal() {
				return nil
			}
		}
	}
}
