package topics

import (
	"context"
	"errors"
	"testing"

	"github.com/coursegraph/backend/pkg/ai"
)

func TestExtractPatternNumberedHeadings(t *testing.T) {
	text := "1. Intro\nSome introductory text.\n1.1 Background\nMore text here.\n2. Methods\nMethod details."

	r := ExtractPattern(text, "Course")

	if len(r.MainTopics) != 2 {
		t.Fatalf("expected 2 main topics, got %d: %+v", len(r.MainTopics), r.MainTopics)
	}
	if r.MainTopics[0].Title != "Intro" || r.MainTopics[1].Title != "Methods" {
		t.Errorf("unexpected main topics: %+v", r.MainTopics)
	}
	if len(r.Subtopics) != 1 {
		t.Fatalf("expected 1 subtopic, got %d: %+v", len(r.Subtopics), r.Subtopics)
	}
	if r.Subtopics[0].Title != "Background" || r.Subtopics[0].Parent != "Intro" {
		t.Errorf("unexpected subtopic: %+v", r.Subtopics[0])
	}
	if r.TotalTopics != 3 {
		t.Errorf("expected 3 total topics, got %d", r.TotalTopics)
	}
}

func TestExtractPatternMarkdownHeaders(t *testing.T) {
	text := "# Overview\nintro\n## Goals\ngoal text\n## Scope\nscope text\n# Details\n### Deep Dive\ndeep text"

	r := ExtractPattern(text, "Doc")

	if len(r.MainTopics) != 2 {
		t.Fatalf("expected 2 main topics, got %+v", r.MainTopics)
	}
	if len(r.Subtopics) != 3 {
		t.Fatalf("expected 3 subtopics, got %+v", r.Subtopics)
	}
	for _, sub := range r.Subtopics[:2] {
		if sub.Parent != "Overview" {
			t.Errorf("expected parent Overview, got %+v", sub)
		}
	}
	// A level-3 header under a level-1 header attaches to the nearest ancestor.
	if r.Subtopics[2].Title != "Deep Dive" || r.Subtopics[2].Parent != "Details" {
		t.Errorf("unexpected deep subtopic: %+v", r.Subtopics[2])
	}
}

func TestExtractPatternTOCRegion(t *testing.T) {
	text := "Table of Contents\n- Getting Started ..... 3\n- Advanced Usage ..... 17\n\nUnrelated body text follows."

	r := ExtractPattern(text, "Manual")

	if len(r.MainTopics) != 2 {
		t.Fatalf("expected 2 topics from TOC, got %+v", r.MainTopics)
	}
	if r.MainTopics[0].Title != "Getting Started" || r.MainTopics[1].Title != "Advanced Usage" {
		t.Errorf("page numbers not stripped: %+v", r.MainTopics)
	}
}

func TestExtractPatternOrphanDeepHeading(t *testing.T) {
	// A subsection appearing before any parent becomes a main topic.
	text := "1.1 Orphan\ntext\n1. Real Start\ntext"

	r := ExtractPattern(text, "Doc")

	if len(r.MainTopics) != 2 {
		t.Fatalf("expected orphan promoted to main topic, got %+v", r)
	}
	if r.MainTopics[0].Title != "Orphan" {
		t.Errorf("unexpected first topic: %+v", r.MainTopics[0])
	}
}

func TestExtractPatternNoHeadings(t *testing.T) {
	r := ExtractPattern("Just running prose without any structure at all.", "Plain")

	if r.TotalTopics != 0 {
		t.Errorf("expected no topics, got %+v", r)
	}
	if r.CourseName != "Plain" {
		t.Errorf("expected course name fallback, got %q", r.CourseName)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		result  Result
		wantErr bool
	}{
		{
			name: "valid tree",
			result: Result{
				MainTopics: []Topic{{Title: "A", Level: 1}},
				Subtopics:  []Topic{{Title: "B", Level: 2, Parent: "A"}},
			},
			wantErr: false,
		},
		{
			name: "missing parent",
			result: Result{
				MainTopics: []Topic{{Title: "A", Level: 1}},
				Subtopics:  []Topic{{Title: "B", Level: 2, Parent: "Missing"}},
			},
			wantErr: true,
		},
		{
			name: "parent at same level",
			result: Result{
				MainTopics: []Topic{{Title: "A", Level: 1}},
				Subtopics: []Topic{
					{Title: "B", Level: 2, Parent: "A"},
					{Title: "C", Level: 2, Parent: "B"},
				},
			},
			wantErr: true,
		},
		{
			name: "self parent",
			result: Result{
				Subtopics: []Topic{{Title: "B", Level: 2, Parent: "B"}},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.result)
			if tc.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPatternResultIsAcyclic(t *testing.T) {
	text := "1. One\n1.1 Two\n1.1.1 Three\n2. Four\n2.1 Five"

	r := ExtractPattern(text, "Doc")
	if err := Validate(r); err != nil {
		t.Errorf("pattern output must always validate: %v", err)
	}
}

func TestToGraph(t *testing.T) {
	r := Result{
		CourseName: "Machine Learning",
		MainTopics: []Topic{
			{Title: "Intro", Level: 1},
			{Title: "Methods", Level: 1},
		},
		Subtopics: []Topic{
			{Title: "Background", Level: 2, Parent: "Intro"},
		},
		TotalTopics: 3,
	}

	g := ToGraph(r)

	if len(g.Nodes) != 4 {
		t.Fatalf("expected course + 3 topic nodes, got %d", len(g.Nodes))
	}
	if g.Nodes[0].Type != "COURSE" || g.Nodes[0].Key != "machine-learning" {
		t.Errorf("unexpected course node: %+v", g.Nodes[0])
	}

	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(g.Edges))
	}
	if g.Edges[0].Type != "HAS_TOPIC" || g.Edges[0].Properties["order"] != 0 {
		t.Errorf("expected order-preserving HAS_TOPIC edge, got %+v", g.Edges[0])
	}
	if g.Edges[1].Properties["order"] != 1 {
		t.Errorf("expected second topic at order 1, got %+v", g.Edges[1])
	}

	last := g.Edges[2]
	if last.Type != "HAS_SUBTOPIC" || last.From != "intro" || last.To != "background" {
		t.Errorf("unexpected subtopic edge: %+v", last)
	}
}

type fakeAIClient struct {
	response        llmTopicsResponse
	formatErr       error
	completion      string
	completionErr   error
	completionCalls int
}

func (f *fakeAIClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.completionCalls++
	return f.completion, f.completionErr
}

func (f *fakeAIClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if f.formatErr != nil {
		return f.formatErr
	}
	*out.(*llmTopicsResponse) = f.response
	return nil
}

func (f *fakeAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, nil
}

func (f *fakeAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	return nil, nil
}

func (f *fakeAIClient) ResetMetrics() {}

func (f *fakeAIClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func TestExtractLLMNamesUntitledDocuments(t *testing.T) {
	client := &fakeAIClient{
		response: llmTopicsResponse{
			Topics: []llmTopic{{Title: "Graphs", Level: 1}},
		},
		completion: `"Intro to Graphs"`,
	}
	e := NewExtractor(NewExtractorParams{AIClient: client, UseLLM: true})

	r := e.Extract(context.Background(), "Graphs are everywhere.", "")

	if r.CourseName != "Intro to Graphs" {
		t.Errorf("expected model-provided course name, got %q", r.CourseName)
	}
	if client.completionCalls != 1 {
		t.Errorf("expected 1 naming call, got %d", client.completionCalls)
	}
	if len(r.MainTopics) != 1 || r.MainTopics[0].Title != "Graphs" {
		t.Errorf("unexpected main topics: %+v", r.MainTopics)
	}
}

func TestExtractLLMPrefersCallerName(t *testing.T) {
	client := &fakeAIClient{
		response: llmTopicsResponse{
			Topics: []llmTopic{{Title: "Graphs", Level: 1}},
		},
	}
	e := NewExtractor(NewExtractorParams{AIClient: client, UseLLM: true})

	r := e.Extract(context.Background(), "Graphs are everywhere.", "Algorithms 101")

	if r.CourseName != "Algorithms 101" {
		t.Errorf("expected caller name, got %q", r.CourseName)
	}
	if client.completionCalls != 0 {
		t.Errorf("expected no naming call when a name is given, got %d", client.completionCalls)
	}
}

func TestExtractLLMNamingFailureFallsBack(t *testing.T) {
	client := &fakeAIClient{
		response: llmTopicsResponse{
			Topics: []llmTopic{{Title: "Graphs", Level: 1}},
		},
		completionErr: errors.New("model unavailable"),
	}
	e := NewExtractor(NewExtractorParams{AIClient: client, UseLLM: true})

	r := e.Extract(context.Background(), "Graphs are everywhere.", "")

	if r.CourseName != "Document" {
		t.Errorf("expected fallback name, got %q", r.CourseName)
	}
}

func TestExtractFallsBackToPatternOnLLMFailure(t *testing.T) {
	client := &fakeAIClient{formatErr: errors.New("model unavailable")}
	e := NewExtractor(NewExtractorParams{AIClient: client, UseLLM: true})

	r := e.Extract(context.Background(), "# Overview\nbody\n## Goals\nmore body", "Doc")

	if len(r.MainTopics) != 1 || r.MainTopics[0].Title != "Overview" {
		t.Errorf("expected pattern strategy result, got %+v", r.MainTopics)
	}
	if len(r.Subtopics) != 1 || r.Subtopics[0].Title != "Goals" {
		t.Errorf("expected pattern subtopic, got %+v", r.Subtopics)
	}
}
