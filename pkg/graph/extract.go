package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/ai"
	"github.com/coursegraph/backend/pkg/logger"
	"github.com/coursegraph/backend/pkg/store"

	"github.com/pkoukk/tiktoken-go"
)

type extractNode struct {
	Title       string `json:"title" jsonschema_description:"Name of the entity as it appears in the text"`
	Type        string `json:"type" jsonschema_description:"One of the provided entity types"`
	Description string `json:"description" jsonschema_description:"Short description of the entity based only on the text"`
}

type extractEdge struct {
	SourceTitle string `json:"source_title" jsonschema_description:"Title of the source entity, exactly as listed in entities"`
	TargetTitle string `json:"target_title" jsonschema_description:"Title of the target entity, exactly as listed in entities"`
	Type        string `json:"type" jsonschema_description:"Short uppercase relationship type such as USES or PART_OF"`
	Description string `json:"description" jsonschema_description:"Why the two entities are related according to the text"`
}

type extractResponse struct {
	Entities      []extractNode `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []extractEdge `json:"relationships" jsonschema_description:"Relationships between the identified entities"`
}

var defaultEntityTypes = []string{
	"CONCEPT", "PERSON", "ORGANIZATION", "LOCATION", "EVENT", "DATE", "PRODUCT", "METHOD",
}

const extractSystemPrompt = `You extract a knowledge graph from a span of document text.
Identify the entities of the given types and the relationships between them.
Only use information present in the text. Relationship endpoints must be
entity titles you also return. Entity types: %s.`

const defaultChunkTokenBudget = 3000

// Extractor turns chunk text into a knowledge graph via a structured LLM
// call. Failures are contained: a chunk that cannot be extracted yields an
// empty graph and the pipeline moves on.
type Extractor struct {
	aiClient    ai.PipelineAIClient
	entityTypes []string
	tokenBudget int
}

// NewExtractorParams configures a graph Extractor. EntityTypes and
// TokenBudget fall back to defaults when empty.
type NewExtractorParams struct {
	AIClient    ai.PipelineAIClient
	EntityTypes []string
	TokenBudget int
}

// NewExtractor creates a knowledge graph Extractor.
func NewExtractor(params NewExtractorParams) *Extractor {
	types := params.EntityTypes
	if len(types) == 0 {
		types = defaultEntityTypes
	}
	budget := params.TokenBudget
	if budget <= 0 {
		budget = int(util.GetEnvNumeric("GRAPH_CHUNK_TOKEN_BUDGET", defaultChunkTokenBudget))
	}
	return &Extractor{
		aiClient:    params.AIClient,
		entityTypes: types,
		tokenBudget: budget,
	}
}

// Extract builds the graph for one chunk. Every returned node and edge
// carries chunkID as provenance. On any failure (model error, parse error)
// it logs and returns an empty graph along with the error; callers treat
// the error as per-chunk, never pipeline-fatal, and leave the chunk's
// graph_extracted flag unset.
func (e *Extractor) Extract(
	ctx context.Context,
	chunkText string,
	chunkID string,
	documentID string,
	graphID string,
) (store.Graph, error) {
	text, err := truncateToBudget(chunkText, e.tokenBudget)
	if err != nil {
		logger.Warn("[Graph] token encoding failed", "chunk_id", chunkID, "err", err)
		return store.Graph{}, err
	}
	if strings.TrimSpace(text) == "" {
		return store.Graph{}, nil
	}

	systemPrompt := fmt.Sprintf(extractSystemPrompt, strings.Join(e.entityTypes, ", "))

	var res extractResponse
	err = e.aiClient.GenerateCompletionWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a span of document text.",
		text,
		&res,
		ai.WithSystemPrompts(systemPrompt),
	)
	if err != nil {
		logger.Warn("[Graph] extraction failed",
			"chunk_id", chunkID, "document_id", documentID, "graph_id", graphID, "err", err)
		return store.Graph{}, err
	}

	return mapResponse(res, chunkID, documentID), nil
}

func mapResponse(res extractResponse, chunkID string, documentID string) store.Graph {
	g := store.Graph{}
	keys := make(map[string]struct{}, len(res.Entities))

	for _, entity := range res.Entities {
		title := strings.TrimSpace(entity.Title)
		key := util.Slugify(title)
		if key == "" {
			continue
		}
		if _, ok := keys[key]; ok {
			continue
		}
		keys[key] = struct{}{}

		nodeType := strings.ToUpper(strings.TrimSpace(entity.Type))
		if nodeType == "" {
			nodeType = "CONCEPT"
		}
		g.Nodes = append(g.Nodes, store.Node{
			Key:   key,
			Type:  nodeType,
			Title: title,
			Properties: map[string]any{
				"description": strings.TrimSpace(entity.Description),
				"document_id": documentID,
			},
			ChunkIDs: []string{chunkID},
		})
	}

	for _, rel := range res.Relationships {
		from := util.Slugify(rel.SourceTitle)
		to := util.Slugify(rel.TargetTitle)
		edgeType := strings.ToUpper(strings.TrimSpace(rel.Type))
		if edgeType == "" {
			edgeType = "RELATED_TO"
		}

		// Endpoints must come from this chunk's entity list.
		if _, ok := keys[from]; !ok {
			continue
		}
		if _, ok := keys[to]; !ok {
			continue
		}
		if from == to {
			continue
		}

		g.Edges = append(g.Edges, store.Edge{
			From: from,
			To:   to,
			Type: edgeType,
			Properties: map[string]any{
				"description": strings.TrimSpace(rel.Description),
			},
			ChunkIDs: []string{chunkID},
		})
	}

	return g
}

// truncateToBudget cuts the text to the token budget. Chunks are truncated
// plainly; sampling across the whole document is only done for topic
// extraction.
func truncateToBudget(text string, budget int) (string, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return "", err
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text, nil
	}
	return enc.Decode(tokens[:budget]), nil
}
