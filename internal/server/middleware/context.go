package middleware

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/pkg/store"
)

// JobRegistry is the slice of the registry the HTTP surface consumes.
// Satisfied by *registry.Registry.
type JobRegistry interface {
	CreateJob(ctx context.Context, job *registry.UploadJob) error
	GetJob(ctx context.Context, id string) (*registry.UploadJob, error)
	FindJobByContent(ctx context.Context, ownerID string, contentKey string) (*registry.UploadJob, error)
	DeleteJob(ctx context.Context, id string) error
}

// IngestPublisher enqueues ingest messages. Satisfied by *queue.Publisher.
type IngestPublisher interface {
	Publish(queueName string, data []byte) error
}

// ObjectStore stages and removes raw job sources. Satisfied by
// *storage.Client.
type ObjectStore interface {
	StageSource(ctx context.Context, jobID string, name string, file io.ReadSeeker) (string, error)
	DeleteJobObjects(ctx context.Context, jobID string) error
}

type App struct {
	DBConn    *pgxpool.Pool
	Registry  JobRegistry
	QueueConn *amqp091.Connection
	Queue     IngestPublisher
	Objects   ObjectStore
	Store     store.GraphStorage
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(
	db *pgxpool.Pool,
	reg JobRegistry,
	queueConn *amqp091.Connection,
	publisher IngestPublisher,
	objects ObjectStore,
	graphStore store.GraphStorage,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			app := &App{
				DBConn:    db,
				Registry:  reg,
				QueueConn: queueConn,
				Queue:     publisher,
				Objects:   objects,
				Store:     graphStore,
			}
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
