package embedding

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/coursegraph/backend/pkg/ai"
)

type fakeAIClient struct {
	vectors   map[string][]float32
	batchErr  error
	singleErr map[string]error
}

func (f *fakeAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeAIClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return fmt.Errorf("not implemented")
}

func (f *fakeAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if err, ok := f.singleErr[string(input)]; ok {
		return nil, err
	}
	if vec, ok := f.vectors[string(input)]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := f.GenerateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeAIClient) ResetMetrics() {}

func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestEmbedBatchPartialFailure(t *testing.T) {
	client := &fakeAIClient{
		vectors: map[string][]float32{
			"a": {1, 0, 0},
			"b": {0, 1, 0},
		},
		batchErr: fmt.Errorf("batch endpoint down"),
		singleErr: map[string]error{
			"broken": fmt.Errorf("model error"),
		},
	}
	g := NewGenerator(client)

	out := g.EmbedBatch(context.Background(), []string{"a", "broken", "b"})
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0] == nil || out[2] == nil {
		t.Errorf("expected successful items to have vectors, got %v and %v", out[0], out[2])
	}
	if out[1] != nil {
		t.Errorf("expected failed item to be nil, got %v", out[1])
	}
}

func TestEmbedBatchPreservesOrderAndLength(t *testing.T) {
	client := &fakeAIClient{
		vectors: map[string][]float32{
			"first":  {1, 0, 0},
			"second": {0, 1, 0},
		},
	}
	g := NewGenerator(client)

	out := g.EmbedBatch(context.Background(), []string{"first", "second"})
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0][0] != 1 || out[1][1] != 1 {
		t.Errorf("results out of order: %v", out)
	}
}

func TestSimilarityBounds(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Similarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
			if got < 0 || got > 1 {
				t.Errorf("similarity out of [0,1]: %v", got)
			}
		})
	}
}

func TestFindSimilarRanking(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{0, 1},  // 0.5
		{1, 0},  // 1.0
		nil,     // skipped
		{1, 1},  // ~0.85
		{-1, 0}, // 0.0
	}

	matches := FindSimilar(query, candidates, 0.4, 0)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches above threshold, got %d", len(matches))
	}
	if matches[0].Index != 1 || matches[1].Index != 3 || matches[2].Index != 0 {
		t.Errorf("unexpected ranking: %+v", matches)
	}

	top := FindSimilar(query, candidates, 0.4, 2)
	if len(top) != 2 {
		t.Fatalf("expected top-k cap of 2, got %d", len(top))
	}
}

func TestFindSimilarStableTies(t *testing.T) {
	query := []float32{1, 0}
	candidates := [][]float32{
		{1, 0},
		{2, 0}, // same direction, identical similarity
		{3, 0},
	}

	matches := FindSimilar(query, candidates, 0, 0)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	for i, m := range matches {
		if m.Index != i {
			t.Errorf("tie order not stable: %+v", matches)
			break
		}
	}
}
