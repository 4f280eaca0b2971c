package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	// ErrDuplicateContent signals that the owner already submitted this
	// content. Not a failure; callers short-circuit to the existing job.
	ErrDuplicateContent = errors.New("duplicate content for owner")

	// ErrJobNotFound signals an unknown job id.
	ErrJobNotFound = errors.New("job not found")
)

// JobStatus is the lifecycle state of an UploadJob. Transitions are
// monotonic: pending -> processing -> completed or failed, never backward.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// UploadJob is the durable record of one ingestion job.
type UploadJob struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	SourceType      string    `json:"source_type"`
	Filename        string    `json:"filename,omitempty"`
	URL             string    `json:"url,omitempty"`
	Domain          string    `json:"domain,omitempty"`
	ContentKey      string    `json:"-"`
	Course          string    `json:"course,omitempty"`
	Status          JobStatus `json:"status"`
	GraphID         string    `json:"graph_id"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	TotalNodes      int       `json:"total_nodes"`
	TotalEdges      int       `json:"total_edges"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Progress returns the job's completion percentage in [0, 100].
func (j *UploadJob) Progress() float64 {
	if j.TotalChunks <= 0 {
		if j.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedChunks) / float64(j.TotalChunks) * 100
}

// Chunk is one ordered span of extracted text owned by exactly one job.
// Text is immutable; the flags flip at most once and are never reset.
type Chunk struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	ChunkIndex     int       `json:"chunk_index"`
	Text           string    `json:"text"`
	HasEmbedding   bool      `json:"has_embedding"`
	GraphExtracted bool      `json:"graph_extracted"`
	NodesCount     int       `json:"nodes_count"`
	EdgesCount     int       `json:"edges_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registry is the pgx-backed store of jobs and chunks.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a Registry on the given connection pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

const jobColumns = `id, owner_id, source_type, filename, url, domain, content_key, course,
	status, graph_id, total_chunks, processed_chunks, total_nodes, total_edges,
	error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*UploadJob, error) {
	var job UploadJob
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.SourceType, &job.Filename, &job.URL, &job.Domain,
		&job.ContentKey, &job.Course, &job.Status, &job.GraphID, &job.TotalChunks,
		&job.ProcessedChunks, &job.TotalNodes, &job.TotalEdges, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a new pending job. The unique index on
// (owner_id, content_key) enforces at-most-one job per owner per content;
// a conflict is reported as ErrDuplicateContent without touching the
// existing row.
func (r *Registry) CreateJob(ctx context.Context, job *UploadJob) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO upload_jobs
			(id, owner_id, source_type, filename, url, domain, content_key, course, status, graph_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9)
		ON CONFLICT (owner_id, content_key) DO NOTHING`,
		job.ID, job.OwnerID, job.SourceType, job.Filename, job.URL, job.Domain,
		job.ContentKey, job.Course, job.GraphID,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateContent
	}
	job.Status = StatusPending
	return nil
}

// GetJob returns the current persisted snapshot of a job. A pure read,
// safe to poll concurrently with an in-flight run.
func (r *Registry) GetJob(ctx context.Context, id string) (*UploadJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// FindJobByContent returns the owner's job for the given content key, or
// ErrJobNotFound.
func (r *Registry) FindJobByContent(ctx context.Context, ownerID string, contentKey string) (*UploadJob, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM upload_jobs WHERE owner_id = $1 AND content_key = $2`,
		ownerID, contentKey,
	)
	return scanJob(row)
}

// MarkProcessing transitions pending -> processing. A no-op when the job
// already left pending, keeping transitions monotonic.
func (r *Registry) MarkProcessing(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE upload_jobs SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	return err
}

// MarkCompleted transitions processing -> completed.
func (r *Registry) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE upload_jobs SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id)
	return err
}

// MarkFailed transitions a non-terminal job to failed with the captured
// message. Terminal rows are never rewritten.
func (r *Registry) MarkFailed(ctx context.Context, id string, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE upload_jobs SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`, id, message)
	return err
}

// SetTotalChunks records the chunk count produced by extraction.
func (r *Registry) SetTotalChunks(ctx context.Context, id string, total int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE upload_jobs SET total_chunks = $2, updated_at = now() WHERE id = $1`, id, total)
	return err
}

// IncrementProcessedChunks bumps the progress counter, capped at
// total_chunks, and returns the new value.
func (r *Registry) IncrementProcessedChunks(ctx context.Context, id string) (int, error) {
	var processed int
	err := r.pool.QueryRow(ctx, `
		UPDATE upload_jobs
		SET processed_chunks = LEAST(processed_chunks + 1, total_chunks), updated_at = now()
		WHERE id = $1
		RETURNING processed_chunks`, id).Scan(&processed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrJobNotFound
		}
		return 0, err
	}
	return processed, nil
}

// SetGraphTotals rolls the live graph store stats into the job record.
func (r *Registry) SetGraphTotals(ctx context.Context, id string, nodes int, edges int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE upload_jobs SET total_nodes = $2, total_edges = $3, updated_at = now()
		WHERE id = $1`, id, nodes, edges)
	return err
}

// CreateChunk persists one extracted chunk.
func (r *Registry) CreateChunk(ctx context.Context, chunk *Chunk) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chunks (id, job_id, chunk_index, text)
		VALUES ($1, $2, $3, $4)`,
		chunk.ID, chunk.JobID, chunk.ChunkIndex, chunk.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to create chunk: %w", err)
	}
	return nil
}

// SetChunkEmbedding stores the vector and flips has_embedding.
func (r *Registry) SetChunkEmbedding(ctx context.Context, chunkID string, vec []float32) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chunks SET embedding = $2, has_embedding = true WHERE id = $1`,
		chunkID, pgvector.NewVector(vec),
	)
	return err
}

// MarkChunkGraphExtracted flips graph_extracted once and records the
// element counts this chunk contributed.
func (r *Registry) MarkChunkGraphExtracted(ctx context.Context, chunkID string, nodes int, edges int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chunks SET graph_extracted = true, nodes_count = $2, edges_count = $3
		WHERE id = $1 AND graph_extracted = false`, chunkID, nodes, edges)
	return err
}

// GetChunks returns the job's chunks ordered by chunk_index. Embeddings
// are not loaded; callers needing vectors query them separately.
func (r *Registry) GetChunks(ctx context.Context, jobID string) ([]Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, chunk_index, text, has_embedding, graph_extracted,
			nodes_count, edges_count, created_at
		FROM chunks WHERE job_id = $1 ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(
			&c.ID, &c.JobID, &c.ChunkIndex, &c.Text, &c.HasEmbedding,
			&c.GraphExtracted, &c.NodesCount, &c.EdgesCount, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteJob removes the job and, via cascade, its chunks.
func (r *Registry) DeleteJob(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM upload_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
