package topics

import (
	"context"
	"fmt"

	"github.com/coursegraph/backend/pkg/ai"
	"github.com/coursegraph/backend/pkg/logger"
)

// Topic is one entry of the extracted hierarchy. Level 1 topics have no
// parent; deeper topics name the title of an existing topic one or more
// levels above them.
type Topic struct {
	Title  string `json:"title"`
	Level  int    `json:"level"`
	Parent string `json:"parent,omitempty"`
}

// Result is the immutable output of one topic extraction call. MainTopics
// holds level 1 in document order, Subtopics everything deeper. The combined
// set forms an acyclic tree rooted at CourseName.
type Result struct {
	CourseName  string  `json:"course_name"`
	MainTopics  []Topic `json:"main_topics"`
	Subtopics   []Topic `json:"subtopics"`
	TotalTopics int     `json:"total_topics"`
}

// Extractor turns document text into a topic hierarchy. Two strategies
// exist: the deterministic pattern strategy is always available; the LLM
// strategy is opt-in and yields to the pattern strategy on any failure.
type Extractor struct {
	aiClient ai.PipelineAIClient
	useLLM   bool
}

// NewExtractorParams configures a topic Extractor. UseLLM without an
// AIClient is ignored.
type NewExtractorParams struct {
	AIClient ai.PipelineAIClient
	UseLLM   bool
}

// NewExtractor creates a topic Extractor.
func NewExtractor(params NewExtractorParams) *Extractor {
	return &Extractor{
		aiClient: params.AIClient,
		useLLM:   params.UseLLM && params.AIClient != nil,
	}
}

// Extract builds the topic hierarchy for the given document text. name
// seeds the course name when the document itself does not reveal one.
func (e *Extractor) Extract(ctx context.Context, text string, name string) Result {
	if e.useLLM {
		result, err := e.extractLLM(ctx, text, name)
		if err == nil {
			return result
		}
		logger.Warn("[Topics] llm strategy failed, using pattern strategy", "err", err)
	}
	return ExtractPattern(text, name)
}

// Validate checks the structural invariants of a Result: every subtopic's
// parent exists, levels are consistent and no topic is its own ancestor.
func Validate(r Result) error {
	titles := make(map[string]Topic, len(r.MainTopics)+len(r.Subtopics))
	for _, t := range r.MainTopics {
		if t.Title == "" {
			return fmt.Errorf("main topic with empty title")
		}
		titles[t.Title] = t
	}
	for _, t := range r.Subtopics {
		if t.Title == "" {
			return fmt.Errorf("subtopic with empty title")
		}
		if t.Level < 2 {
			return fmt.Errorf("subtopic %q has level %d", t.Title, t.Level)
		}
		titles[t.Title] = t
	}

	for _, t := range r.Subtopics {
		parent, ok := titles[t.Parent]
		if !ok {
			return fmt.Errorf("subtopic %q references missing parent %q", t.Title, t.Parent)
		}
		if parent.Level >= t.Level {
			return fmt.Errorf("subtopic %q has parent %q at level %d >= %d", t.Title, t.Parent, parent.Level, t.Level)
		}

		// Walk up; levels strictly decrease, so a revisited title is a cycle.
		seen := map[string]struct{}{t.Title: {}}
		current := t
		for current.Parent != "" {
			if _, ok := seen[current.Parent]; ok {
				return fmt.Errorf("topic %q is its own ancestor", t.Title)
			}
			seen[current.Parent] = struct{}{}
			next, ok := titles[current.Parent]
			if !ok {
				break
			}
			current = next
		}
	}
	return nil
}
