package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursegraph/backend/internal/pipeline"
	"github.com/coursegraph/backend/internal/queue"
	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/internal/storage"
	"github.com/coursegraph/backend/internal/util"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/coursegraph/backend/pkg/ai"
	oai "github.com/coursegraph/backend/pkg/ai/ollama"
	gai "github.com/coursegraph/backend/pkg/ai/openai"
	"github.com/coursegraph/backend/pkg/embedding"
	"github.com/coursegraph/backend/pkg/extract"
	"github.com/coursegraph/backend/pkg/graph"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/logger/console"
	"github.com/coursegraph/backend/pkg/store"
	"github.com/coursegraph/backend/pkg/store/memory"
	"github.com/coursegraph/backend/pkg/store/neo4j"
	"github.com/coursegraph/backend/pkg/topics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)

	// PipelineAIClient
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.PipelineAIClient

	switch adapter {
	case "ollama":
		client, err := oai.NewPipelineOllamaClient(oai.NewPipelineOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			TopicModel:      util.GetEnv("AI_TOPIC_MODEL"),
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewPipelineOpenAIClient(gai.NewPipelineOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			TopicModel:      util.GetEnv("AI_TOPIC_MODEL"),
			ExtractionModel: util.GetEnv("AI_EXTRACT_MODEL"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		})
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgConn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	reg := registry.NewRegistry(pgConn)

	// Init graph store
	graphStore := newGraphStore(ctx)
	defer graphStore.Close(context.Background())

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	runner := pipeline.NewRunner(pipeline.Params{
		Registry:  reg,
		Store:     graphStore,
		Extractor: extract.NewClientFromEnv(),
		Embedder:  embedding.NewGenerator(aiClient),
		Topics: topics.NewExtractor(topics.NewExtractorParams{
			AIClient: aiClient,
			UseLLM:   util.GetEnvBool("TOPICS_USE_LLM", true),
		}),
		Graph: graph.NewExtractor(graph.NewExtractorParams{AIClient: aiClient}),
		Sink:  queue.NewProgressSink(ch),
		FetchSource: func(ctx context.Context, jobID string) ([]byte, error) {
			return storage.FetchSource(ctx, s3Client, jobID)
		},
	})

	// One message at a time; a job owns its worker until it is terminal.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.IngestQueue,
		"ingest_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("Listening for messages")

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed")
					return
				}
				handleMessage(ctx, consumerCh, runner, aiClient, msg)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

// handleMessage runs one job to a terminal state. The message is always
// acked: a FAILED job is final and recovery is a new submission, never a
// queue redelivery. Messages that do not even decode go to the DLQ.
func handleMessage(ctx context.Context, ch *amqp.Channel, runner *pipeline.Runner, aiClient ai.PipelineAIClient, msg amqp.Delivery) {
	startTime := time.Now()

	var data queue.IngestMessage
	if err := json.Unmarshal(msg.Body, &data); err != nil || data.JobID == "" {
		logger.Error("Undecodable ingest message, sending to DLQ", "err", err)
		sendToDLQ(ch, msg)
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		return
	}

	logger.Info("Received message", "job_id", data.JobID)
	if err := runner.Run(ctx, data.JobID); err != nil {
		logger.Error("Error processing job", "job_id", data.JobID, "err", err)
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}

	metrics := aiClient.GetMetrics()
	aiDuration := time.Duration(metrics.DurationMs) * time.Millisecond
	aiHours := int(aiDuration.Hours())
	aiMinutes := int(aiDuration.Minutes()) % 60
	aiSeconds := int(aiDuration.Seconds()) % 60
	logger.Info(
		"AI Metrics",
		"input_tokens", metrics.InputTokens,
		"output_tokens", metrics.OutputTokens,
		"total_tokens", metrics.TotalTokens,
		"duration", fmt.Sprintf("%02d:%02d:%02d", aiHours, aiMinutes, aiSeconds),
	)

	processingDuration := time.Since(startTime)
	hours := int(processingDuration.Hours())
	minutes := int(processingDuration.Minutes()) % 60
	seconds := int(processingDuration.Seconds()) % 60
	logger.Info(
		"Processing time",
		"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	)
	logger.Info("Waiting for next message")
	aiClient.ResetMetrics()
}

func sendToDLQ(ch *amqp.Channel, msg amqp.Delivery) {
	dlqName := queue.IngestQueue + "_dlq"
	err := ch.Publish(
		"",
		dlqName,
		false,
		false,
		amqp.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     msg.Headers,
		},
	)
	if err != nil {
		logger.Error("Failed to publish to DLQ", "dlq", dlqName, "err", err)
	}
}

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
