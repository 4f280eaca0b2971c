package events

import (
	"context"

	"github.com/coursegraph/backend/pkg/logger"
)

const defaultBuffer = 64

// Emitter decouples the pipeline from the event transport: the pipeline
// writes events to a bounded channel and a single drain goroutine forwards
// them to the Sink. One writer plus one drainer keeps the per-job ordering
// guarantee without locks.
type Emitter struct {
	jobID string
	sink  Sink
	ch    chan Event
	done  chan struct{}
}

// NewEmitter creates an Emitter for one job run and starts its drain
// goroutine. buffer <= 0 selects the default size. A nil sink drops all
// events, which keeps test pipelines silent.
func NewEmitter(ctx context.Context, jobID string, sink Sink, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	e := &Emitter{
		jobID: jobID,
		sink:  sink,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go e.drain(ctx)
	return e
}

// Emit enqueues one event. Blocks when the buffer is full so events are
// never dropped or reordered mid-run.
func (e *Emitter) Emit(stage Stage, fields map[string]any) {
	e.ch <- Event{Stage: stage, JobID: e.jobID, Fields: fields}
}

// Close flushes the remaining events and stops the drain goroutine. The
// emitter must not be used afterwards.
func (e *Emitter) Close() {
	close(e.ch)
	<-e.done
}

func (e *Emitter) drain(ctx context.Context) {
	defer close(e.done)

	for event := range e.ch {
		if e.sink == nil {
			continue
		}
		frame, err := event.MarshalJSON()
		if err != nil {
			logger.Warn("[Events] failed to encode frame", "job_id", e.jobID, "stage", event.Stage, "err", err)
			continue
		}
		if err := e.sink.Publish(ctx, e.jobID, frame); err != nil {
			logger.Warn("[Events] failed to publish frame", "job_id", e.jobID, "stage", event.Stage, "err", err)
		}
	}
}
