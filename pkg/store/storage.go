package store

import (
	"context"
	"errors"
)

// ErrStoreUnavailable indicates the backing graph database could not be
// reached. Reads surface it alongside zeroed results so callers can degrade
// instead of aborting.
var ErrStoreUnavailable = errors.New("graph store unavailable")

// Node is a graph node scoped to a graph namespace. Key is the canonical
// identifier (slug of the title) and is unique within one graph_id. ChunkIDs
// records which chunks contributed evidence for the node; merges union it,
// never shrink it.
type Node struct {
	Key        string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Properties map[string]any `json:"properties,omitempty"`
	ChunkIDs   []string       `json:"chunk_ids"`
}

// Edge is a directed graph edge. Its identity within one graph_id is the
// triple (From, To, Type); merging follows the same union semantics as Node.
type Edge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	ChunkIDs   []string       `json:"chunk_ids"`
}

// Graph bundles the nodes and edges produced by one extraction pass.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Stats holds live element counts for one graph namespace.
type Stats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}

// GraphStorage is the interface for persisting and querying knowledge
// graphs. All operations are scoped by graphID and all writes are
// merge-by-key idempotent: create if absent, else union ChunkIDs and
// overwrite mutable properties. Implementations must tolerate concurrent
// writers contributing to the same graphID.
type GraphStorage interface {
	CreateNode(ctx context.Context, graphID string, node Node) error
	CreateEdge(ctx context.Context, graphID string, edge Edge) error

	// SaveGraph merges a whole extraction result in one call. Equivalent to
	// calling CreateNode/CreateEdge for every element.
	SaveGraph(ctx context.Context, graphID string, g Graph) error

	GetNodes(ctx context.Context, graphID string) ([]Node, error)
	GetEdges(ctx context.Context, graphID string) ([]Edge, error)

	// GetStats computes counts live, never from a cache. On failure it
	// returns zeroed Stats together with the error.
	GetStats(ctx context.Context, graphID string) (Stats, error)

	DeleteGraph(ctx context.Context, graphID string) error

	Close(ctx context.Context) error
}

// UnionChunkIDs appends ids from add that are not already present in base,
// preserving first-seen order. Shared by store implementations.
func UnionChunkIDs(base []string, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, id := range base {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range add {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
