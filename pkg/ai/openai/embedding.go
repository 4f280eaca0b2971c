package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

const defaultDimensions = 1536

// GenerateEmbedding embeds a single input through the configured embedding
// model and returns the vector as float32 values.
func (c *PipelineOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res))
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all inputs in one request. Output order
// matches input order. Blank inputs never reach the model, they map to
// zero vectors of the configured dimension.
func (c *PipelineOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))

	out := make([][]float32, len(inputs))
	indices := make([]int, 0, len(inputs))
	texts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		text := string(in)
		if strings.TrimSpace(text) == "" {
			out[i] = make([]float32, dim)
			continue
		}
		indices = append(indices, i)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := c.embedTexts(ctx, texts, dim)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding result size mismatch: got %d want %d", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		out[indices[i]] = vec
	}
	return out, nil
}

func (c *PipelineOpenAIClient) embedTexts(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	}

	if err := c.embeddingLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		out[idx] = fitDimension(embedding.Embedding, dim)
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}

// fitDimension truncates or zero-pads a vector to exactly dim entries so
// the pgvector column width always matches.
func fitDimension(values []float64, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(values); i++ {
		vec[i] = float32(values[i])
	}
	return vec
}
