package embedding

import (
	"context"
	"math"
	"sort"

	"github.com/coursegraph/backend/pkg/ai"
	"github.com/coursegraph/backend/pkg/logger"
)

// Generator produces vector embeddings for chunk text and provides
// similarity utilities over them. A nil vector means "no embedding": single
// failures are logged and degraded, never propagated.
type Generator struct {
	aiClient ai.PipelineAIClient
}

// NewGenerator creates a Generator backed by the given AI client.
func NewGenerator(aiClient ai.PipelineAIClient) *Generator {
	return &Generator{aiClient: aiClient}
}

// Embed generates an embedding for a single text. Returns nil when the
// backend fails; callers treat a nil vector as a missing embedding.
func (g *Generator) Embed(ctx context.Context, text string) []float32 {
	vec, err := g.aiClient.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		logger.Warn("[Embedding] generation failed", "err", err)
		return nil
	}
	return vec
}

// EmbedBatch generates embeddings for multiple texts. The result has
// exactly one entry per input, in input order; a failed item leaves a nil
// at its position without failing the rest of the batch.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	inputs := make([][]byte, len(texts))
	for i, t := range texts {
		inputs[i] = []byte(t)
	}

	vecs, err := g.aiClient.GenerateEmbeddings(ctx, inputs)
	if err == nil && len(vecs) == len(texts) {
		copy(out, vecs)
		return out
	}
	if err != nil {
		logger.Warn("[Embedding] batch generation failed, falling back to per-item", "err", err)
	}

	for i, t := range texts {
		out[i] = g.Embed(ctx, t)
	}
	return out
}

// Similarity computes cosine similarity between two vectors mapped into
// [0, 1]. Mismatched lengths or zero vectors yield 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	sim := (cos + 1) / 2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Match is one candidate returned by FindSimilar.
type Match struct {
	Index      int
	Similarity float64
}

// FindSimilar returns the candidates whose similarity to query is at or
// above threshold, ranked descending by similarity and capped at topK
// (topK <= 0 means no cap). Ties keep input order. Nil candidates are
// skipped.
func FindSimilar(query []float32, candidates [][]float32, threshold float64, topK int) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		if c == nil {
			continue
		}
		sim := Similarity(query, c)
		if sim >= threshold {
			matches = append(matches, Match{Index: i, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}
