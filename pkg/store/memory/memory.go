package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coursegraph/backend/pkg/store"
)

// MemoryGraphStorage is an in-memory store.GraphStorage implementation with
// the same merge-by-key semantics as the database-backed store. It is the
// default when no graph database is configured and the double used in tests.
type MemoryGraphStorage struct {
	mu     sync.Mutex
	graphs map[string]*graphData
}

type graphData struct {
	nodes     map[string]*store.Node
	edges     map[string]*store.Edge
	nodeOrder []string
	edgeOrder []string
}

// NewMemoryGraphStorage creates an empty in-memory graph store.
func NewMemoryGraphStorage() *MemoryGraphStorage {
	return &MemoryGraphStorage{
		graphs: make(map[string]*graphData),
	}
}

func (s *MemoryGraphStorage) graph(graphID string) *graphData {
	g, ok := s.graphs[graphID]
	if !ok {
		g = &graphData{
			nodes: make(map[string]*store.Node),
			edges: make(map[string]*store.Edge),
		}
		s.graphs[graphID] = g
	}
	return g
}

func edgeKey(e store.Edge) string {
	return strings.Join([]string{e.From, e.To, e.Type}, "\x1f")
}

// CreateNode merges the node into the graph namespace: create if absent,
// else union ChunkIDs and overwrite type, title and properties.
func (s *MemoryGraphStorage) CreateNode(ctx context.Context, graphID string, node store.Node) error {
	if node.Key == "" {
		return fmt.Errorf("node key must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.graph(graphID)
	existing, ok := g.nodes[node.Key]
	if !ok {
		n := node
		n.ChunkIDs = store.UnionChunkIDs(nil, node.ChunkIDs)
		g.nodes[node.Key] = &n
		g.nodeOrder = append(g.nodeOrder, node.Key)
		return nil
	}

	existing.Type = node.Type
	existing.Title = node.Title
	existing.Properties = node.Properties
	existing.ChunkIDs = store.UnionChunkIDs(existing.ChunkIDs, node.ChunkIDs)
	return nil
}

// CreateEdge merges the edge keyed by (from, to, type) into the graph namespace.
func (s *MemoryGraphStorage) CreateEdge(ctx context.Context, graphID string, edge store.Edge) error {
	if edge.From == "" || edge.To == "" || edge.Type == "" {
		return fmt.Errorf("edge from, to and type must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.graph(graphID)
	key := edgeKey(edge)
	existing, ok := g.edges[key]
	if !ok {
		e := edge
		e.ChunkIDs = store.UnionChunkIDs(nil, edge.ChunkIDs)
		g.edges[key] = &e
		g.edgeOrder = append(g.edgeOrder, key)
		return nil
	}

	existing.Properties = edge.Properties
	existing.ChunkIDs = store.UnionChunkIDs(existing.ChunkIDs, edge.ChunkIDs)
	return nil
}

// SaveGraph merges every node and edge of g into the graph namespace.
func (s *MemoryGraphStorage) SaveGraph(ctx context.Context, graphID string, g store.Graph) error {
	for _, n := range g.Nodes {
		if err := s.CreateNode(ctx, graphID, n); err != nil {
			return err
		}
	}
	for _, e := range g.Edges {
		if err := s.CreateEdge(ctx, graphID, e); err != nil {
			return err
		}
	}
	return nil
}

// GetNodes returns all nodes of the graph namespace in insertion order.
func (s *MemoryGraphStorage) GetNodes(ctx context.Context, graphID string) ([]store.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return []store.Node{}, nil
	}
	out := make([]store.Node, 0, len(g.nodeOrder))
	for _, key := range g.nodeOrder {
		out = append(out, *g.nodes[key])
	}
	return out, nil
}

// GetEdges returns all edges of the graph namespace in insertion order.
func (s *MemoryGraphStorage) GetEdges(ctx context.Context, graphID string) ([]store.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return []store.Edge{}, nil
	}
	out := make([]store.Edge, 0, len(g.edgeOrder))
	for _, key := range g.edgeOrder {
		out = append(out, *g.edges[key])
	}
	return out, nil
}

// GetStats counts the current elements of the graph namespace.
func (s *MemoryGraphStorage) GetStats(ctx context.Context, graphID string) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graphID]
	if !ok {
		return store.Stats{}, nil
	}
	return store.Stats{
		NodeCount: len(g.nodes),
		EdgeCount: len(g.edges),
	}, nil
}

// DeleteGraph removes the whole graph namespace.
func (s *MemoryGraphStorage) DeleteGraph(ctx context.Context, graphID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.graphs, graphID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryGraphStorage) Close(ctx context.Context) error {
	return nil
}

// GraphIDs returns all known graph namespaces sorted lexicographically.
// Used by tests and diagnostics.
func (s *MemoryGraphStorage) GraphIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
