package events

import (
	"context"
	"encoding/json"
)

// Stage names the pipeline step an event reports. The sequence emitted for
// one job is append-only and strictly ordered; a terminal stage is always
// the last frame.
type Stage string

const (
	StageJobCreated          Stage = "job_created"
	StageDuplicateDetected   Stage = "duplicate_detected"
	StageExtractionFailed    Stage = "extraction_failed"
	StageChunkCreated        Stage = "chunk_created"
	StageGeneratingEmbedding Stage = "generating_embedding"
	StageEmbeddingGenerated  Stage = "embedding_generated"
	StageExtractingGraph     Stage = "extracting_graph"
	StageNodeCreated         Stage = "node_created"
	StageEdgeCreated         Stage = "edge_created"
	StageChunkComplete       Stage = "chunk_complete"
	StageTopicsExtracted     Stage = "topics_extracted"
	StageProcessingComplete  Stage = "processing_complete"
	StageProcessingFailed    Stage = "processing_failed"
)

// Terminal reports whether no further events follow this stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageDuplicateDetected, StageExtractionFailed, StageProcessingComplete, StageProcessingFailed:
		return true
	}
	return false
}

// Event is one ephemeral progress frame. Events are never persisted; the
// authoritative job state is always the registry snapshot.
type Event struct {
	Stage  Stage
	JobID  string
	Fields map[string]any
}

// MarshalJSON flattens Fields into the frame next to "event" and "job_id".
func (e Event) MarshalJSON() ([]byte, error) {
	frame := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		frame[k] = v
	}
	frame["event"] = string(e.Stage)
	frame["job_id"] = e.JobID
	return json.Marshal(frame)
}

// Sink receives the ordered event frames of one job. Implementations must
// not block forever; a slow sink backpressures the pipeline through the
// emitter's bounded channel.
type Sink interface {
	Publish(ctx context.Context, jobID string, frame []byte) error
}
