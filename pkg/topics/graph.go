package topics

import (
	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/store"
)

// ToGraph converts an extraction result into a small graph for persistence:
// a COURSE root, MAIN_TOPIC nodes connected via order-preserving HAS_TOPIC
// edges, and SUBTOPIC nodes connected to their parents via HAS_SUBTOPIC.
func ToGraph(r Result) store.Graph {
	g := store.Graph{}
	if r.TotalTopics == 0 {
		return g
	}

	courseKey := util.Slugify(r.CourseName)
	if courseKey == "" {
		courseKey = "untitled-course"
	}
	g.Nodes = append(g.Nodes, store.Node{
		Key:      courseKey,
		Type:     "COURSE",
		Title:    r.CourseName,
		ChunkIDs: []string{},
	})

	for i, t := range r.MainTopics {
		key := util.Slugify(t.Title)
		g.Nodes = append(g.Nodes, store.Node{
			Key:      key,
			Type:     "MAIN_TOPIC",
			Title:    t.Title,
			ChunkIDs: []string{},
		})
		g.Edges = append(g.Edges, store.Edge{
			From:       courseKey,
			To:         key,
			Type:       "HAS_TOPIC",
			Properties: map[string]any{"order": i},
			ChunkIDs:   []string{},
		})
	}

	for _, t := range r.Subtopics {
		key := util.Slugify(t.Title)
		g.Nodes = append(g.Nodes, store.Node{
			Key:        key,
			Type:       "SUBTOPIC",
			Title:      t.Title,
			Properties: map[string]any{"level": t.Level},
			ChunkIDs:   []string{},
		})
		g.Edges = append(g.Edges, store.Edge{
			From:     util.Slugify(t.Parent),
			To:       key,
			Type:     "HAS_SUBTOPIC",
			ChunkIDs: []string{},
		})
	}

	return g
}
