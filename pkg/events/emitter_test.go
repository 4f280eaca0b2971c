package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (s *recordingSink) Publish(ctx context.Context, jobID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("sink down")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) stages(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.frames))
	for _, frame := range s.frames {
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("invalid frame %s: %v", frame, err)
		}
		stage, _ := decoded["event"].(string)
		out = append(out, stage)
	}
	return out
}

func TestEmitterPreservesOrder(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(context.Background(), "job-1", sink, 2)

	want := []Stage{
		StageJobCreated,
		StageChunkCreated,
		StageEmbeddingGenerated,
		StageChunkComplete,
		StageProcessingComplete,
	}
	for _, stage := range want {
		e.Emit(stage, nil)
	}
	e.Close()

	got := sink.stages(t)
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != string(want[i]) {
			t.Errorf("frame %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEmitterFrameShape(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(context.Background(), "job-9", sink, 0)

	e.Emit(StageChunkComplete, map[string]any{"progress": 50.0, "chunk_index": 1})
	e.Close()

	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sink.frames))
	}
	var decoded map[string]any
	if err := json.Unmarshal(sink.frames[0], &decoded); err != nil {
		t.Fatalf("invalid frame: %v", err)
	}
	if decoded["event"] != "chunk_complete" || decoded["job_id"] != "job-9" {
		t.Errorf("unexpected frame: %v", decoded)
	}
	if decoded["progress"] != 50.0 {
		t.Errorf("fields not flattened: %v", decoded)
	}
}

func TestEmitterSinkFailureDoesNotBlock(t *testing.T) {
	sink := &recordingSink{fail: true}
	e := NewEmitter(context.Background(), "job-1", sink, 1)

	for range 10 {
		e.Emit(StageChunkCreated, nil)
	}
	e.Close()
}

func TestEmitterNilSink(t *testing.T) {
	e := NewEmitter(context.Background(), "job-1", nil, 0)
	e.Emit(StageJobCreated, nil)
	e.Close()
}

func TestTerminalStages(t *testing.T) {
	terminal := []Stage{StageDuplicateDetected, StageExtractionFailed, StageProcessingComplete, StageProcessingFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if StageChunkComplete.Terminal() {
		t.Error("chunk_complete must not be terminal")
	}
}
