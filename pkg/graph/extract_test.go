package graph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/coursegraph/backend/pkg/ai"
	"github.com/coursegraph/backend/pkg/store/memory"
)

type fakeAIClient struct {
	response   extractResponse
	err        error
	lastPrompt string
}

func (f *fakeAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeAIClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.lastPrompt = prompt
	if f.err != nil {
		return f.err
	}
	res, ok := out.(*extractResponse)
	if !ok {
		return fmt.Errorf("unexpected output type %T", out)
	}
	*res = f.response
	return nil
}

func (f *fakeAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAIClient) ResetMetrics() {}

func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestExtractTagsProvenance(t *testing.T) {
	client := &fakeAIClient{
		response: extractResponse{
			Entities: []extractNode{
				{Title: "Neural Networks", Type: "concept", Description: "Layered models"},
				{Title: "Backpropagation", Type: "METHOD", Description: "Training algorithm"},
			},
			Relationships: []extractEdge{
				{SourceTitle: "Neural Networks", TargetTitle: "Backpropagation", Type: "uses"},
			},
		},
	}
	e := NewExtractor(NewExtractorParams{AIClient: client})

	g, err := e.Extract(context.Background(), "some chunk text", "chunk-1", "doc-1", "graph-1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(g.Nodes))
	}
	for _, n := range g.Nodes {
		if len(n.ChunkIDs) != 1 || n.ChunkIDs[0] != "chunk-1" {
			t.Errorf("node %q missing provenance: %v", n.Key, n.ChunkIDs)
		}
		if n.Properties["document_id"] != "doc-1" {
			t.Errorf("node %q missing document id: %v", n.Key, n.Properties)
		}
	}
	if g.Nodes[0].Key != "neural-networks" || g.Nodes[0].Type != "CONCEPT" {
		t.Errorf("unexpected first node: %+v", g.Nodes[0])
	}

	if len(g.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(g.Edges))
	}
	edge := g.Edges[0]
	if edge.From != "neural-networks" || edge.To != "backpropagation" || edge.Type != "USES" {
		t.Errorf("unexpected edge: %+v", edge)
	}
	if len(edge.ChunkIDs) != 1 || edge.ChunkIDs[0] != "chunk-1" {
		t.Errorf("edge missing provenance: %v", edge.ChunkIDs)
	}
}

func TestExtractDropsDanglingEdges(t *testing.T) {
	client := &fakeAIClient{
		response: extractResponse{
			Entities: []extractNode{
				{Title: "Alpha", Type: "CONCEPT"},
			},
			Relationships: []extractEdge{
				{SourceTitle: "Alpha", TargetTitle: "Ghost", Type: "USES"},
				{SourceTitle: "Alpha", TargetTitle: "Alpha", Type: "USES"},
			},
		},
	}
	e := NewExtractor(NewExtractorParams{AIClient: client})

	g, err := e.Extract(context.Background(), "text", "c1", "d1", "g1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if len(g.Edges) != 0 {
		t.Errorf("expected dangling and self edges dropped, got %+v", g.Edges)
	}
}

func TestExtractFailureReturnsEmptyGraph(t *testing.T) {
	client := &fakeAIClient{err: fmt.Errorf("model unavailable")}
	e := NewExtractor(NewExtractorParams{AIClient: client})

	g, err := e.Extract(context.Background(), "text", "c1", "d1", "g1")

	if err == nil {
		t.Fatal("expected error from failed extraction")
	}
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("expected empty graph on failure, got %+v", g)
	}
}

func TestExtractEmptyChunk(t *testing.T) {
	client := &fakeAIClient{}
	e := NewExtractor(NewExtractorParams{AIClient: client})

	g, err := e.Extract(context.Background(), "   \n\t", "c1", "d1", "g1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("expected empty graph for blank chunk, got %+v", g)
	}
	if client.lastPrompt != "" {
		t.Errorf("expected no model call for blank chunk")
	}
}

func TestExtractTruncatesLongChunks(t *testing.T) {
	client := &fakeAIClient{}
	e := NewExtractor(NewExtractorParams{AIClient: client, TokenBudget: 10})

	long := strings.Repeat("gradient descent optimizes parameters ", 200)
	if _, err := e.Extract(context.Background(), long, "c1", "d1", "g1"); err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if client.lastPrompt == "" {
		t.Fatal("expected model call")
	}
	if len(client.lastPrompt) >= len(long) {
		t.Errorf("expected truncated prompt, got %d chars of %d", len(client.lastPrompt), len(long))
	}
}

func TestExtractDeduplicatesEntitiesWithinChunk(t *testing.T) {
	client := &fakeAIClient{
		response: extractResponse{
			Entities: []extractNode{
				{Title: "Gradient Descent", Type: "METHOD"},
				{Title: "gradient descent", Type: "METHOD"},
			},
		},
	}
	e := NewExtractor(NewExtractorParams{AIClient: client})

	g, err := e.Extract(context.Background(), "text", "c1", "d1", "g1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if len(g.Nodes) != 1 {
		t.Errorf("expected case-insensitive dedup within chunk, got %+v", g.Nodes)
	}
}

func TestExtractedGraphMergesIdempotently(t *testing.T) {
	client := &fakeAIClient{
		response: extractResponse{
			Entities: []extractNode{
				{Title: "Alpha", Type: "CONCEPT"},
				{Title: "Beta", Type: "CONCEPT"},
			},
			Relationships: []extractEdge{
				{SourceTitle: "Alpha", TargetTitle: "Beta", Type: "USES"},
			},
		},
	}
	e := NewExtractor(NewExtractorParams{AIClient: client})
	storage := memory.NewMemoryGraphStorage()
	ctx := context.Background()

	g, err := e.Extract(ctx, "text", "c1", "d1", "g1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if err := storage.SaveGraph(ctx, "g1", g); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := storage.SaveGraph(ctx, "g1", g); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	stats, err := storage.GetStats(ctx, "g1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.NodeCount != 2 || stats.EdgeCount != 1 {
		t.Errorf("re-running extraction duplicated elements: %+v", stats)
	}
}
