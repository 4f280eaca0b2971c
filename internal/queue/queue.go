package queue

import (
	"fmt"
	"time"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// IngestQueue carries one message per accepted job; the worker consumes it
// with prefetch 1 and manual acks.
const IngestQueue = "ingest_queue"

// ProgressExchange is the topic exchange carrying per-job progress frames
// under the routing key jobs.progress.<job_id>.
const ProgressExchange = "pubsub_exchange"

// ProgressTopic returns the routing key of a job's progress frames.
func ProgressTopic(jobID string) string {
	return "jobs.progress." + jobID
}

// IngestMessage is the payload published to IngestQueue.
type IngestMessage struct {
	JobID string `json:"job_id"`
}

// Init connects to RabbitMQ using the RABBITMQ_* environment variables
// and terminates the process when the broker is unreachable.
func Init() *amqp091.Connection {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnv("RABBITMQ_HOST"),
		util.GetEnv("RABBITMQ_PORT"),
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	return conn
}

// SetupQueues declares the ingest queue and its dead letter queue. There is
// no retry queue: a job failure is final and recovery is a new submission.
func SetupQueues(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		ProgressExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("ExchangeDeclare failed: %w", err)
	}

	for _, name := range []string{IngestQueue, IngestQueue + "_dlq"} {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("QueueDeclare failed for %s: %w", name, err)
		}
	}

	return nil
}

func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

func PublishTopic(ch *amqp091.Channel, topic string, data []byte) error {
	err := ch.ExchangeDeclare(
		ProgressExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		ProgressExchange,
		topic,
		false,
		true,
		publishing,
	)
}

// Publisher wraps a channel with the publish surface the HTTP routes use.
type Publisher struct {
	ch *amqp091.Channel
}

// NewPublisher creates a Publisher on the given channel.
func NewPublisher(ch *amqp091.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Publish enqueues one durable message on the named queue.
func (p *Publisher) Publish(queueName string, data []byte) error {
	return PublishFIFO(p.ch, queueName, data)
}
