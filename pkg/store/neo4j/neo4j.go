package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jGraphStorage implements store.GraphStorage on a Neo4j database.
// Nodes are stored with the Entity label keyed by (graph_id, key); edges are
// RELATED relationships keyed by (graph_id, from, to, type). All writes are
// Cypher MERGE statements, so concurrent workers contributing to the same
// graph namespace converge on one element per key.
type Neo4jGraphStorage struct {
	driver     neo4j.DriverWithContext
	database   string
	timeoutSec int64
}

// NewNeo4jGraphStorageParams configures the Neo4j connection.
type NewNeo4jGraphStorageParams struct {
	URI      string
	User     string
	Password string
	Database string

	TimeoutSec  int64
	MaxPoolSize int64
}

// NewNeo4jGraphStorage connects to Neo4j, verifies connectivity and
// initializes the uniqueness constraint best-effort.
func NewNeo4jGraphStorage(
	ctx context.Context,
	params NewNeo4jGraphStorageParams,
) (*Neo4jGraphStorage, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j uri must not be empty")
	}
	if params.User == "" {
		params.User = "neo4j"
	}
	if params.TimeoutSec <= 0 {
		params.TimeoutSec = 10
	}
	if params.MaxPoolSize <= 0 {
		params.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(params.User, params.Password, "")
	driver, err := neo4j.NewDriverWithContext(params.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = int(params.MaxPoolSize)
		cfg.SocketConnectTimeout = time.Duration(params.TimeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	vCtx, cancel := context.WithTimeout(ctx, time.Duration(params.TimeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(vCtx); err != nil {
		_ = driver.Close(vCtx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	s := &Neo4jGraphStorage{
		driver:     driver,
		database:   params.Database,
		timeoutSec: params.TimeoutSec,
	}
	s.initSchema(ctx)
	return s, nil
}

// NewNeo4jGraphStorageFromEnv builds the store from NEO4J_* environment
// variables. Returns (nil, nil) when NEO4J_URI is unset so callers can fall
// back to the in-memory store.
func NewNeo4jGraphStorageFromEnv(ctx context.Context) (*Neo4jGraphStorage, error) {
	uri := util.GetEnvString("NEO4J_URI", "")
	if uri == "" {
		return nil, nil
	}

	return NewNeo4jGraphStorage(ctx, NewNeo4jGraphStorageParams{
		URI:         uri,
		User:        util.GetEnvString("NEO4J_USER", "neo4j"),
		Password:    util.GetEnvString("NEO4J_PASSWORD", ""),
		Database:    util.GetEnvString("NEO4J_DATABASE", ""),
		TimeoutSec:  int64(util.GetEnvNumeric("NEO4J_TIMEOUT_SEC", 10)),
		MaxPoolSize: int64(util.GetEnvNumeric("NEO4J_MAX_POOL_SIZE", 50)),
	})
}

func (s *Neo4jGraphStorage) initSchema(ctx context.Context) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_graph_key_unique IF NOT EXISTS FOR (n:Entity) REQUIRE (n.graph_id, n.key) IS UNIQUE`,
		`CREATE INDEX entity_graph_idx IF NOT EXISTS FOR (n:Entity) ON (n.graph_id)`,
	}
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			logger.Warn("[Neo4j] schema init failed (continuing)", "err", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
}

func (s *Neo4jGraphStorage) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Neo4jGraphStorage) timeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
}

const mergeNodesCypher = `
UNWIND $nodes AS r
MERGE (n:Entity {graph_id: $graph_id, key: r.key})
SET n.type = r.type,
    n.title = r.title,
    n.props_json = r.props_json,
    n.chunk_ids = reduce(acc = [], x IN coalesce(n.chunk_ids, []) + r.chunk_ids |
        CASE WHEN x IN acc THEN acc ELSE acc + x END)
`

const mergeEdgesCypher = `
UNWIND $edges AS r
MERGE (a:Entity {graph_id: $graph_id, key: r.from})
ON CREATE SET a.title = r.from, a.type = 'UNKNOWN', a.chunk_ids = []
MERGE (b:Entity {graph_id: $graph_id, key: r.to})
ON CREATE SET b.title = r.to, b.type = 'UNKNOWN', b.chunk_ids = []
MERGE (a)-[e:RELATED {type: r.type}]->(b)
SET e.props_json = r.props_json,
    e.chunk_ids = reduce(acc = [], x IN coalesce(e.chunk_ids, []) + r.chunk_ids |
        CASE WHEN x IN acc THEN acc ELSE acc + x END)
`

func nodeRow(n store.Node) map[string]any {
	return map[string]any{
		"key":        n.Key,
		"type":       n.Type,
		"title":      n.Title,
		"props_json": marshalProps(n.Properties),
		"chunk_ids":  toAnySlice(n.ChunkIDs),
	}
}

func edgeRow(e store.Edge) map[string]any {
	return map[string]any{
		"from":       e.From,
		"to":         e.To,
		"type":       e.Type,
		"props_json": marshalProps(e.Properties),
		"chunk_ids":  toAnySlice(e.ChunkIDs),
	}
}

func marshalProps(props map[string]any) string {
	if len(props) == 0 {
		return ""
	}
	data, err := json.Marshal(props)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProps(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil
	}
	return props
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func toStringSlice(in any) []string {
	vals, ok := in.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (s *Neo4jGraphStorage) writeGraph(ctx context.Context, graphID string, nodes []map[string]any, edges []map[string]any) error {
	wCtx, cancel := s.timeoutCtx(ctx)
	defer cancel()

	session := s.session(wCtx, neo4j.AccessModeWrite)
	defer session.Close(wCtx)

	_, err := session.ExecuteWrite(wCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(wCtx, mergeNodesCypher, map[string]any{
				"graph_id": graphID,
				"nodes":    nodes,
			})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(wCtx); err != nil {
				return nil, err
			}
		}
		if len(edges) > 0 {
			res, err := tx.Run(wCtx, mergeEdgesCypher, map[string]any{
				"graph_id": graphID,
				"edges":    edges,
			})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(wCtx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// CreateNode merges a single node into the graph namespace.
func (s *Neo4jGraphStorage) CreateNode(ctx context.Context, graphID string, node store.Node) error {
	if node.Key == "" {
		return fmt.Errorf("node key must not be empty")
	}
	return s.writeGraph(ctx, graphID, []map[string]any{nodeRow(node)}, nil)
}

// CreateEdge merges a single edge into the graph namespace. Missing
// endpoints are created as placeholder nodes so provenance is never lost.
func (s *Neo4jGraphStorage) CreateEdge(ctx context.Context, graphID string, edge store.Edge) error {
	if edge.From == "" || edge.To == "" || edge.Type == "" {
		return fmt.Errorf("edge from, to and type must not be empty")
	}
	return s.writeGraph(ctx, graphID, nil, []map[string]any{edgeRow(edge)})
}

// SaveGraph merges the whole graph in a single transaction.
func (s *Neo4jGraphStorage) SaveGraph(ctx context.Context, graphID string, g store.Graph) error {
	nodes := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Key == "" {
			continue
		}
		nodes = append(nodes, nodeRow(n))
	}
	edges := make([]map[string]any, 0, len(g.Edges))
	for _, e := range g.Edges {
		if e.From == "" || e.To == "" || e.Type == "" {
			continue
		}
		edges = append(edges, edgeRow(e))
	}
	if len(nodes) == 0 && len(edges) == 0 {
		return nil
	}
	return s.writeGraph(ctx, graphID, nodes, edges)
}

// GetNodes returns all nodes of the graph namespace ordered by key.
func (s *Neo4jGraphStorage) GetNodes(ctx context.Context, graphID string) ([]store.Node, error) {
	rCtx, cancel := s.timeoutCtx(ctx)
	defer cancel()

	session := s.session(rCtx, neo4j.AccessModeRead)
	defer session.Close(rCtx)

	result, err := session.ExecuteRead(rCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(rCtx, `
MATCH (n:Entity {graph_id: $graph_id})
RETURN n.key AS key, n.type AS type, n.title AS title,
       n.props_json AS props_json, n.chunk_ids AS chunk_ids
ORDER BY n.key
`, map[string]any{"graph_id": graphID})
		if err != nil {
			return nil, err
		}

		nodes := []store.Node{}
		for res.Next(rCtx) {
			record := res.Record()
			node := store.Node{
				Key:      asString(record, "key"),
				Type:     asString(record, "type"),
				Title:    asString(record, "title"),
				ChunkIDs: []string{},
			}
			if raw, ok := record.Get("props_json"); ok {
				if str, ok := raw.(string); ok {
					node.Properties = unmarshalProps(str)
				}
			}
			if raw, ok := record.Get("chunk_ids"); ok {
				node.ChunkIDs = toStringSlice(raw)
			}
			nodes = append(nodes, node)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return result.([]store.Node), nil
}

// GetEdges returns all edges of the graph namespace.
func (s *Neo4jGraphStorage) GetEdges(ctx context.Context, graphID string) ([]store.Edge, error) {
	rCtx, cancel := s.timeoutCtx(ctx)
	defer cancel()

	session := s.session(rCtx, neo4j.AccessModeRead)
	defer session.Close(rCtx)

	result, err := session.ExecuteRead(rCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(rCtx, `
MATCH (a:Entity {graph_id: $graph_id})-[e:RELATED]->(b:Entity {graph_id: $graph_id})
RETURN a.key AS from, b.key AS to, e.type AS type,
       e.props_json AS props_json, e.chunk_ids AS chunk_ids
ORDER BY a.key, b.key, e.type
`, map[string]any{"graph_id": graphID})
		if err != nil {
			return nil, err
		}

		edges := []store.Edge{}
		for res.Next(rCtx) {
			record := res.Record()
			edge := store.Edge{
				From:     asString(record, "from"),
				To:       asString(record, "to"),
				Type:     asString(record, "type"),
				ChunkIDs: []string{},
			}
			if raw, ok := record.Get("props_json"); ok {
				if str, ok := raw.(string); ok {
					edge.Properties = unmarshalProps(str)
				}
			}
			if raw, ok := record.Get("chunk_ids"); ok {
				edge.ChunkIDs = toStringSlice(raw)
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return result.([]store.Edge), nil
}

// GetStats counts nodes and edges live. On failure it returns zeroed Stats
// together with the error so callers can degrade instead of aborting.
func (s *Neo4jGraphStorage) GetStats(ctx context.Context, graphID string) (store.Stats, error) {
	rCtx, cancel := s.timeoutCtx(ctx)
	defer cancel()

	session := s.session(rCtx, neo4j.AccessModeRead)
	defer session.Close(rCtx)

	result, err := session.ExecuteRead(rCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(rCtx, `
MATCH (n:Entity {graph_id: $graph_id})
OPTIONAL MATCH (n)-[e:RELATED]->(m:Entity {graph_id: $graph_id})
RETURN count(DISTINCT n) AS node_count, count(e) AS edge_count
`, map[string]any{"graph_id": graphID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(rCtx)
		if err != nil {
			return nil, err
		}
		stats := store.Stats{}
		if v, ok := record.Get("node_count"); ok {
			if n, ok := v.(int64); ok {
				stats.NodeCount = int(n)
			}
		}
		if v, ok := record.Get("edge_count"); ok {
			if n, ok := v.(int64); ok {
				stats.EdgeCount = int(n)
			}
		}
		return stats, nil
	})
	if err != nil {
		return store.Stats{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return result.(store.Stats), nil
}

// DeleteGraph removes every node and relationship of the graph namespace.
func (s *Neo4jGraphStorage) DeleteGraph(ctx context.Context, graphID string) error {
	wCtx, cancel := s.timeoutCtx(ctx)
	defer cancel()

	session := s.session(wCtx, neo4j.AccessModeWrite)
	defer session.Close(wCtx)

	_, err := session.ExecuteWrite(wCtx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(wCtx, `
MATCH (n:Entity {graph_id: $graph_id})
DETACH DELETE n
`, map[string]any{"graph_id": graphID})
		if err != nil {
			return nil, err
		}
		return nil, consumeErr(res.Consume(wCtx))
	})
	return err
}

// Close shuts down the underlying driver.
func (s *Neo4jGraphStorage) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

func asString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

func consumeErr(_ neo4j.ResultSummary, err error) error {
	return err
}
