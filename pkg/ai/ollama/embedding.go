package ollama

import (
	"context"
	"strings"
	"time"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

const defaultDimensions = 1536

// GenerateEmbedding embeds a single input through the local Ollama
// embedding model. Blank input maps to a zero vector without a model call.
func (c *PipelineOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))
	text := string(input)
	if strings.TrimSpace(text) == "" {
		return make([]float32, dim), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: text,
	})
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	// The response nests one vector per input; flatten and force the
	// configured dimension so the pgvector column width always matches.
	out := make([]float32, dim)
	i := 0
	for _, vec := range res.Embeddings {
		for _, val := range vec {
			if i >= dim {
				break
			}
			out[i] = float32(val)
			i++
		}
	}
	return out, nil
}

// GenerateEmbeddings embeds inputs one at a time. Ollama has no batch
// endpoint worth using here; the request semaphore already bounds server
// load.
func (c *PipelineOllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs [][]byte,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, err := c.GenerateEmbedding(ctx, input)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
