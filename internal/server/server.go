package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursegraph/backend/internal/queue"
	"github.com/coursegraph/backend/internal/registry"
	mid "github.com/coursegraph/backend/internal/server/middleware"
	"github.com/coursegraph/backend/internal/storage"
	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/store"
	"github.com/coursegraph/backend/pkg/store/memory"
	"github.com/coursegraph/backend/pkg/store/neo4j"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := registry.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	reg := registry.NewRegistry(conn)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	objects := storage.NewClient(storage.NewS3Client(ctx))

	graphStore := newGraphStore(ctx)
	defer graphStore.Close(context.Background())

	e.Use(mid.AppContextMiddleware(conn, reg, que, queue.NewPublisher(ch), objects, graphStore))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1G"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// newGraphStore connects to Neo4j when NEO4J_URI is set, otherwise serves
// graphs from memory.
func newGraphStore(ctx context.Context) store.GraphStorage {
	neo, err := neo4j.NewNeo4jGraphStorageFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to Neo4j", "err", err)
	}
	if neo != nil {
		return neo
	}
	logger.Warn("NEO4J_URI not set, using in-memory graph store")
	return memory.NewMemoryGraphStorage()
}
