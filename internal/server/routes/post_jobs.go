package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coursegraph/backend/internal/queue"
	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateJobHandler accepts a document upload (multipart "file") or a URL
// submission (JSON/form "url") and registers an ingestion job. The accept
// path is synchronous and small: dedup check, stage the raw bytes, enqueue.
// All processing happens in the worker.
func CreateJobHandler(c echo.Context) error {
	type createJobBody struct {
		OwnerID string `form:"owner_id" json:"owner_id" validate:"required"`
		Course  string `form:"course" json:"course"`
		URL     string `form:"url" json:"url"`
	}

	type createJobResponse struct {
		Message   string              `json:"message"`
		Duplicate bool                `json:"duplicate,omitempty"`
		Job       *registry.UploadJob `json:"job,omitempty"`
	}

	data := new(createJobBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createJobResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createJobResponse{
			Message: "Invalid request body",
		})
	}

	var (
		fileData []byte
		filename string
	)
	if upload, err := c.FormFile("file"); err == nil {
		src, err := upload.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, createJobResponse{
				Message: "Invalid request body",
			})
		}
		defer src.Close()
		fileData, err = io.ReadAll(src)
		if err != nil || len(fileData) == 0 {
			return c.JSON(http.StatusBadRequest, createJobResponse{
				Message: "Empty or unreadable file",
			})
		}
		filename = upload.Filename
	}

	if fileData == nil && data.URL == "" {
		return c.JSON(http.StatusBadRequest, createJobResponse{
			Message: "Either a file or a url is required",
		})
	}

	job := &registry.UploadJob{
		OwnerID: data.OwnerID,
		Course:  data.Course,
	}
	if fileData != nil {
		job.SourceType = "file"
		job.Filename = filename
		job.ContentKey = util.ContentKeyForBytes(fileData)
	} else {
		contentKey, domain, err := util.ContentKeyForURL(data.URL)
		if err != nil {
			return c.JSON(http.StatusBadRequest, createJobResponse{
				Message: "Invalid url",
			})
		}
		job.SourceType = "url"
		job.URL = data.URL
		job.Domain = domain
		job.ContentKey = contentKey
	}

	jobID, err := gonanoid.New()
	if err != nil {
		logger.Error("Failed to generate job id", "err", err)
		return c.JSON(http.StatusInternalServerError, createJobResponse{
			Message: "Internal server error",
		})
	}
	graphID, err := gonanoid.New()
	if err != nil {
		logger.Error("Failed to generate graph id", "err", err)
		return c.JSON(http.StatusInternalServerError, createJobResponse{
			Message: "Internal server error",
		})
	}
	job.ID = jobID
	job.GraphID = graphID

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	reg := app.Registry

	if err := reg.CreateJob(ctx, job); err != nil {
		if errors.Is(err, registry.ErrDuplicateContent) {
			existing, err := reg.FindJobByContent(ctx, job.OwnerID, job.ContentKey)
			if err != nil {
				logger.Error("Failed to load duplicate job", "owner_id", job.OwnerID, "err", err)
				return c.JSON(http.StatusInternalServerError, createJobResponse{
					Message: "Internal server error",
				})
			}
			return c.JSON(http.StatusOK, createJobResponse{
				Message:   "Content already submitted",
				Duplicate: true,
				Job:       existing,
			})
		}
		logger.Error("Failed to create job", "owner_id", job.OwnerID, "err", err)
		return c.JSON(http.StatusInternalServerError, createJobResponse{
			Message: "Internal server error",
		})
	}

	if fileData != nil {
		if _, err := app.Objects.StageSource(ctx, job.ID, filename, bytes.NewReader(fileData)); err != nil {
			logger.Error("Failed to stage source", "job_id", job.ID, "err", err)
			if delErr := reg.DeleteJob(ctx, job.ID); delErr != nil {
				logger.Error("Failed to clean up job after staging failure", "job_id", job.ID, "err", delErr)
			}
			return c.JSON(http.StatusInternalServerError, createJobResponse{
				Message: "Internal server error",
			})
		}
	}

	msg, err := json.Marshal(queue.IngestMessage{JobID: job.ID})
	if err != nil {
		logger.Error("Failed to encode ingest message", "job_id", job.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createJobResponse{
			Message: "Internal server error",
		})
	}
	if err := app.Queue.Publish(queue.IngestQueue, msg); err != nil {
		logger.Error("Failed to enqueue job", "job_id", job.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createJobResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusCreated, createJobResponse{
		Message: "Job accepted",
		Job:     job,
	})
}
