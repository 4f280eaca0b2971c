package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/coursegraph/backend/internal/registry"
	"github.com/coursegraph/backend/pkg/events"
	"github.com/coursegraph/backend/pkg/extract"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/store"
	"github.com/coursegraph/backend/pkg/topics"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// JobStore is the slice of the registry the run loop writes through.
// *registry.Registry satisfies it.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*registry.UploadJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, message string) error
	SetTotalChunks(ctx context.Context, id string, total int) error
	IncrementProcessedChunks(ctx context.Context, id string) (int, error)
	SetGraphTotals(ctx context.Context, id string, nodes int, edges int) error
	CreateChunk(ctx context.Context, chunk *registry.Chunk) error
	SetChunkEmbedding(ctx context.Context, chunkID string, vec []float32) error
	MarkChunkGraphExtracted(ctx context.Context, chunkID string, nodes int, edges int) error
}

// SourceExtractor turns a staged file or a URL into ordered text chunks.
// *extract.Client satisfies it.
type SourceExtractor interface {
	ExtractFile(ctx context.Context, data []byte, filename string) (extract.Result, error)
	ExtractURL(ctx context.Context, rawURL string) (extract.Result, error)
}

// Embedder produces a vector for one chunk, nil on failure.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// TopicExtractor builds the topic hierarchy for the whole document.
type TopicExtractor interface {
	Extract(ctx context.Context, text string, name string) topics.Result
}

// GraphExtractor builds the knowledge graph for one chunk. A returned
// error is per-chunk only.
type GraphExtractor interface {
	Extract(ctx context.Context, chunkText string, chunkID string, documentID string, graphID string) (store.Graph, error)
}

// Params wires a Runner. All collaborators are injected; the Runner owns
// no package state.
type Params struct {
	Registry  JobStore
	Store     store.GraphStorage
	Extractor SourceExtractor
	Embedder  Embedder
	Topics    TopicExtractor
	Graph     GraphExtractor
	Sink      events.Sink

	// FetchSource loads the staged bytes for a file job. URL jobs never
	// call it.
	FetchSource func(ctx context.Context, jobID string) ([]byte, error)

	EventBuffer int
}

// Runner drives one upload job through extraction, embedding, topic and
// knowledge graph stages. One Run call is one sequential task; chunks are
// processed strictly in order so the emitted events stay ordered.
// Independent jobs may run concurrently, sharing only the graph store.
type Runner struct {
	params Params
}

func NewRunner(params Params) *Runner {
	return &Runner{params: params}
}

// Run processes the job to a terminal state. A job that ends FAILED is not
// a Run error; the returned error only reports faults the registry could
// not record (callers log it, they do not retry). Panics anywhere in the
// stage logic are recovered here and end the job as FAILED.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	emitter := events.NewEmitter(ctx, jobID, r.params.Sink, r.params.EventBuffer)
	defer emitter.Close()

	err := r.run(ctx, jobID, emitter)
	if err != nil {
		logger.Error("[Pipeline] Job failed", "job_id", jobID, "err", err)
		r.fail(jobID, emitter, err.Error())
	}
	return err
}

// fail records a fatal outcome on a detached context so a cancelled run
// still leaves the job FAILED.
func (r *Runner) fail(jobID string, emitter *events.Emitter, message string) {
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.params.Registry.MarkFailed(updateCtx, jobID, message); err != nil {
		logger.Error("[Pipeline] Failed to mark job as failed", "job_id", jobID, "err", err)
	}
	emitter.Emit(events.StageProcessingFailed, map[string]any{"error": message})
}

func (r *Runner) run(ctx context.Context, jobID string, emitter *events.Emitter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	job, err := r.params.Registry.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	// Redelivered messages for an already-finished job are dropped; the
	// existing job's state stays untouched.
	if job.Status == registry.StatusCompleted || job.Status == registry.StatusFailed {
		logger.Info("[Pipeline] Job already terminal, skipping", "job_id", jobID, "status", job.Status)
		emitter.Emit(events.StageDuplicateDetected, map[string]any{"status": string(job.Status)})
		return nil
	}

	if err := r.params.Registry.MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	emitter.Emit(events.StageJobCreated, map[string]any{
		"owner_id":    job.OwnerID,
		"source_type": job.SourceType,
		"graph_id":    job.GraphID,
	})

	result, err := r.extractSource(ctx, job)
	if err != nil {
		logger.Error("[Pipeline] Extraction failed", "job_id", jobID, "err", err)
		r.failExtraction(jobID, emitter, err.Error())
		return nil
	}

	total := len(result.Chunks)
	if err := r.params.Registry.SetTotalChunks(ctx, jobID, total); err != nil {
		return fmt.Errorf("failed to set total chunks: %w", err)
	}

	for _, chunk := range result.Chunks {
		if err := r.processChunk(ctx, job, chunk, total, emitter); err != nil {
			return err
		}
	}

	r.extractTopics(ctx, job, result, emitter)

	totals := map[string]any{
		"graph_id":         job.GraphID,
		"total_chunks":     total,
		"processed_chunks": total,
	}
	stats, err := r.params.Store.GetStats(ctx, job.GraphID)
	if err != nil {
		logger.Warn("[Pipeline] Failed to read graph stats", "job_id", jobID, "graph_id", job.GraphID, "err", err)
	} else {
		if err := r.params.Registry.SetGraphTotals(ctx, jobID, stats.NodeCount, stats.EdgeCount); err != nil {
			return fmt.Errorf("failed to set graph totals: %w", err)
		}
		totals["total_nodes"] = stats.NodeCount
		totals["total_edges"] = stats.EdgeCount
	}

	if err := r.params.Registry.MarkCompleted(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	emitter.Emit(events.StageProcessingComplete, totals)
	logger.Info("[Pipeline] Job completed", "job_id", jobID, "chunks", total)
	return nil
}

// failExtraction ends the job after a fatal extraction error. Unlike the
// per-chunk stages there is nothing to continue with.
func (r *Runner) failExtraction(jobID string, emitter *events.Emitter, message string) {
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.params.Registry.MarkFailed(updateCtx, jobID, message); err != nil {
		logger.Error("[Pipeline] Failed to mark job as failed", "job_id", jobID, "err", err)
	}
	emitter.Emit(events.StageExtractionFailed, map[string]any{"error": message})
}

func (r *Runner) extractSource(ctx context.Context, job *registry.UploadJob) (extract.Result, error) {
	if job.SourceType == "url" {
		return r.params.Extractor.ExtractURL(ctx, job.URL)
	}
	data, err := r.params.FetchSource(ctx, job.ID)
	if err != nil {
		return extract.Result{}, fmt.Errorf("failed to fetch staged source: %w", err)
	}
	return r.params.Extractor.ExtractFile(ctx, data, job.Filename)
}

func (r *Runner) processChunk(
	ctx context.Context,
	job *registry.UploadJob,
	chunk extract.Chunk,
	total int,
	emitter *events.Emitter,
) error {
	chunkID, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate chunk id: %w", err)
	}
	if err := r.params.Registry.CreateChunk(ctx, &registry.Chunk{
		ID:         chunkID,
		JobID:      job.ID,
		ChunkIndex: chunk.Index,
		Text:       chunk.Text,
	}); err != nil {
		return fmt.Errorf("failed to persist chunk %d: %w", chunk.Index, err)
	}
	emitter.Emit(events.StageChunkCreated, map[string]any{
		"chunk_id":    chunkID,
		"chunk_index": chunk.Index,
	})

	emitter.Emit(events.StageGeneratingEmbedding, map[string]any{"chunk_index": chunk.Index})
	if vec := r.params.Embedder.Embed(ctx, chunk.Text); vec != nil {
		if err := r.params.Registry.SetChunkEmbedding(ctx, chunkID, vec); err != nil {
			logger.Warn("[Pipeline] Failed to store embedding", "chunk_id", chunkID, "err", err)
		} else {
			emitter.Emit(events.StageEmbeddingGenerated, map[string]any{
				"chunk_index": chunk.Index,
				"dimensions":  len(vec),
			})
		}
	} else {
		logger.Warn("[Pipeline] No embedding for chunk", "job_id", job.ID, "chunk_index", chunk.Index)
	}

	emitter.Emit(events.StageExtractingGraph, map[string]any{"chunk_index": chunk.Index})
	g, extractErr := r.params.Graph.Extract(ctx, chunk.Text, chunkID, job.ID, job.GraphID)
	if extractErr != nil {
		logger.Warn("[Pipeline] Graph extraction failed for chunk",
			"job_id", job.ID, "chunk_index", chunk.Index, "err", extractErr)
	} else {
		r.saveChunkGraph(ctx, job, chunkID, chunk.Index, g, emitter)
	}

	processed, err := r.params.Registry.IncrementProcessedChunks(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to increment progress: %w", err)
	}
	emitter.Emit(events.StageChunkComplete, map[string]any{
		"chunk_index":      chunk.Index,
		"processed_chunks": processed,
		"total_chunks":     total,
		"progress":         float64(processed) / float64(total) * 100,
	})
	return nil
}

// saveChunkGraph merges one chunk's graph into the store and flips the
// chunk's flag. A store failure fails only this write.
func (r *Runner) saveChunkGraph(
	ctx context.Context,
	job *registry.UploadJob,
	chunkID string,
	chunkIndex int,
	g store.Graph,
	emitter *events.Emitter,
) {
	if len(g.Nodes) > 0 || len(g.Edges) > 0 {
		if err := r.params.Store.SaveGraph(ctx, job.GraphID, g); err != nil {
			logger.Warn("[Pipeline] Failed to save chunk graph",
				"job_id", job.ID, "chunk_index", chunkIndex, "graph_id", job.GraphID, "err", err)
			return
		}
	}
	for _, n := range g.Nodes {
		emitter.Emit(events.StageNodeCreated, map[string]any{
			"id":    n.Key,
			"type":  n.Type,
			"title": n.Title,
		})
	}
	for _, e := range g.Edges {
		emitter.Emit(events.StageEdgeCreated, map[string]any{
			"from": e.From,
			"to":   e.To,
			"type": e.Type,
		})
	}
	if err := r.params.Registry.MarkChunkGraphExtracted(ctx, chunkID, len(g.Nodes), len(g.Edges)); err != nil {
		logger.Warn("[Pipeline] Failed to flag chunk as extracted", "chunk_id", chunkID, "err", err)
	}
}

// extractTopics runs whole-document topic extraction and merges the topic
// graph into the job's namespace. Never fatal.
func (r *Runner) extractTopics(ctx context.Context, job *registry.UploadJob, result extract.Result, emitter *events.Emitter) {
	name := job.Course
	if name == "" {
		name = result.Title
	}
	if name == "" {
		name = job.Filename
	}

	res := r.params.Topics.Extract(ctx, result.Text, name)
	g := topics.ToGraph(res)
	if len(g.Nodes) > 0 {
		if err := r.params.Store.SaveGraph(ctx, job.GraphID, g); err != nil {
			logger.Warn("[Pipeline] Failed to save topic graph", "job_id", job.ID, "graph_id", job.GraphID, "err", err)
			return
		}
	}
	emitter.Emit(events.StageTopicsExtracted, map[string]any{
		"course_name":  res.CourseName,
		"total_topics": res.TotalTopics,
	})
}
