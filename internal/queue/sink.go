package queue

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
)

// ProgressSink forwards a job's event frames to the progress topic
// exchange, one routing key per job. Subscribers bind exclusive queues to
// jobs.progress.<job_id>; a job with no subscriber publishes into the void,
// which is fine because the registry snapshot is authoritative.
type ProgressSink struct {
	ch *amqp091.Channel
}

// NewProgressSink creates a sink on the given channel.
func NewProgressSink(ch *amqp091.Channel) *ProgressSink {
	return &ProgressSink{ch: ch}
}

// Publish sends one frame to the job's progress topic.
func (s *ProgressSink) Publish(ctx context.Context, jobID string, frame []byte) error {
	return PublishTopic(s.ch, ProgressTopic(jobID), frame)
}
