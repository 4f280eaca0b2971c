package memory

import (
	"context"
	"testing"

	"github.com/coursegraph/backend/pkg/store"
)

func testGraph() store.Graph {
	return store.Graph{
		Nodes: []store.Node{
			{Key: "neural-networks", Type: "CONCEPT", Title: "Neural Networks", ChunkIDs: []string{"c1"}},
			{Key: "backpropagation", Type: "CONCEPT", Title: "Backpropagation", ChunkIDs: []string{"c1"}},
		},
		Edges: []store.Edge{
			{From: "neural-networks", To: "backpropagation", Type: "USES", ChunkIDs: []string{"c1"}},
		},
	}
}

func TestSaveGraphIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStorage()

	g := testGraph()
	if err := s.SaveGraph(ctx, "g1", g); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := s.SaveGraph(ctx, "g1", g); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	stats, err := s.GetStats(ctx, "g1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.NodeCount != 2 || stats.EdgeCount != 1 {
		t.Errorf("expected 2 nodes / 1 edge after double save, got %d / %d", stats.NodeCount, stats.EdgeCount)
	}
}

func TestCreateNodeMergesChunkIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStorage()

	first := store.Node{Key: "gradient-descent", Type: "CONCEPT", Title: "Gradient Descent", ChunkIDs: []string{"c1"}}
	second := store.Node{Key: "gradient-descent", Type: "ALGORITHM", Title: "Gradient descent", ChunkIDs: []string{"c2", "c1"}}

	if err := s.CreateNode(ctx, "g1", first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.CreateNode(ctx, "g1", second); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	nodes, err := s.GetNodes(ctx, "g1")
	if err != nil {
		t.Fatalf("get nodes failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected one merged node, got %d", len(nodes))
	}

	n := nodes[0]
	if n.Type != "ALGORITHM" || n.Title != "Gradient descent" {
		t.Errorf("mutable fields not overwritten: %+v", n)
	}
	want := []string{"c1", "c2"}
	if len(n.ChunkIDs) != len(want) {
		t.Fatalf("expected chunk ids %v, got %v", want, n.ChunkIDs)
	}
	for i := range want {
		if n.ChunkIDs[i] != want[i] {
			t.Errorf("expected chunk ids %v, got %v", want, n.ChunkIDs)
			break
		}
	}
}

func TestCreateEdgeIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStorage()

	cases := []struct {
		name      string
		edges     []store.Edge
		wantCount int
	}{
		{
			name: "same triple merges",
			edges: []store.Edge{
				{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c1"}},
				{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c2"}},
			},
			wantCount: 1,
		},
		{
			name: "different type is a new edge",
			edges: []store.Edge{
				{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c1"}},
				{From: "a", To: "b", Type: "PART_OF", ChunkIDs: []string{"c1"}},
			},
			wantCount: 2,
		},
		{
			name: "reversed direction is a new edge",
			edges: []store.Edge{
				{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c1"}},
				{From: "b", To: "a", Type: "USES", ChunkIDs: []string{"c1"}},
			},
			wantCount: 2,
		},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			graphID := string(rune('a' + i))
			for _, e := range tc.edges {
				if err := s.CreateEdge(ctx, graphID, e); err != nil {
					t.Fatalf("create edge failed: %v", err)
				}
			}
			edges, err := s.GetEdges(ctx, graphID)
			if err != nil {
				t.Fatalf("get edges failed: %v", err)
			}
			if len(edges) != tc.wantCount {
				t.Errorf("expected %d edges, got %d", tc.wantCount, len(edges))
			}
		})
	}
}

func TestCreateEdgeMergesChunkIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStorage()

	if err := s.CreateEdge(ctx, "g1", store.Edge{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c1"}}); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}
	if err := s.CreateEdge(ctx, "g1", store.Edge{From: "a", To: "b", Type: "USES", ChunkIDs: []string{"c2"}}); err != nil {
		t.Fatalf("merge edge failed: %v", err)
	}

	edges, err := s.GetEdges(ctx, "g1")
	if err != nil {
		t.Fatalf("get edges failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected one merged edge, got %d", len(edges))
	}
	if len(edges[0].ChunkIDs) != 2 {
		t.Errorf("expected union of chunk ids, got %v", edges[0].ChunkIDs)
	}
}

func TestGraphNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryGraphStorage()

	node := store.Node{Key: "shared-key", Type: "CONCEPT", Title: "Shared", ChunkIDs: []string{"c1"}}
	if err := s.CreateNode(ctx, "g1", node); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.CreateNode(ctx, "g2", node); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	s1, _ := s.GetStats(ctx, "g1")
	s2, _ := s.GetStats(ctx, "g2")
	if s1.NodeCount != 1 || s2.NodeCount != 1 {
		t.Errorf("expected one node per namespace, got %d and %d", s1.NodeCount, s2.NodeCount)
	}

	if err := s.DeleteGraph(ctx, "g1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	s1, _ = s.GetStats(ctx, "g1")
	s2, _ = s.GetStats(ctx, "g2")
	if s1.NodeCount != 0 {
		t.Errorf("expected deleted namespace to be empty, got %d nodes", s1.NodeCount)
	}
	if s2.NodeCount != 1 {
		t.Errorf("expected other namespace untouched, got %d nodes", s2.NodeCount)
	}
}

func TestGetStatsEmptyGraph(t *testing.T) {
	s := NewMemoryGraphStorage()

	stats, err := s.GetStats(context.Background(), "missing")
	if err != nil {
		t.Fatalf("stats on missing graph should not fail: %v", err)
	}
	if stats.NodeCount != 0 || stats.EdgeCount != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}
