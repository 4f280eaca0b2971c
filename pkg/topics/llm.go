package topics

import (
	"context"
	"fmt"
	"strings"

	"github.com/coursegraph/backend/internal/util"
	"github.com/coursegraph/backend/pkg/ai"
	"github.com/coursegraph/backend/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const defaultTopicTokenBudget = 8000

type llmTopic struct {
	Title  string `json:"title" jsonschema_description:"Topic title"`
	Level  int    `json:"level" jsonschema_description:"Hierarchy level, 1 for main topics"`
	Parent string `json:"parent" jsonschema_description:"Title of the parent topic, empty for main topics"`
}

type llmTopicsResponse struct {
	CourseName string     `json:"course_name" jsonschema_description:"Short name for the whole document or course"`
	Topics     []llmTopic `json:"topics" jsonschema_description:"All topics in document order"`
}

const topicsSystemPrompt = `You extract the topic hierarchy of a document.
Return every main topic (level 1) and subtopic (level 2 or deeper) in document order.
A subtopic's parent must be the exact title of another returned topic at a shallower level.
Do not invent topics that are not supported by the text.`

func (e *Extractor) extractLLM(ctx context.Context, text string, name string) (Result, error) {
	budget := util.GetEnvNumeric("TOPICS_TOKEN_BUDGET", defaultTopicTokenBudget)
	sampled, err := sampleText(text, int(budget))
	if err != nil {
		return Result{}, err
	}

	prompt := fmt.Sprintf("Document name: %s\n\nDocument text:\n%s", name, sampled)

	var response llmTopicsResponse
	err = e.aiClient.GenerateCompletionWithFormat(
		ctx,
		"topic_hierarchy",
		"Hierarchical topic tree of a document",
		prompt,
		&response,
		ai.WithSystemPrompts(topicsSystemPrompt),
	)
	if err != nil {
		return Result{}, err
	}

	result := Result{CourseName: strings.TrimSpace(response.CourseName)}
	if result.CourseName == "" {
		result.CourseName = strings.TrimSpace(name)
	}
	if result.CourseName == "" {
		result.CourseName = e.nameCourse(ctx, sampled)
	}

	for _, t := range response.Topics {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		if t.Level <= 1 {
			result.MainTopics = append(result.MainTopics, Topic{Title: title, Level: 1})
			continue
		}
		result.Subtopics = append(result.Subtopics, Topic{
			Title:  title,
			Level:  t.Level,
			Parent: strings.TrimSpace(t.Parent),
		})
	}
	result.TotalTopics = len(result.MainTopics) + len(result.Subtopics)

	if err := Validate(result); err != nil {
		return Result{}, fmt.Errorf("model returned inconsistent hierarchy: %w", err)
	}
	return result, nil
}

const nameCoursePrompt = "Name this document in at most six words. Reply with the name only.\n\nDocument text:\n"

// nameCourse asks the chat model for a short course name when neither the
// structured response nor the caller provided one.
func (e *Extractor) nameCourse(ctx context.Context, sample string) string {
	reply, err := e.aiClient.GenerateCompletion(ctx, nameCoursePrompt+sample)
	if err != nil {
		logger.Warn("[Topics] course naming failed", "err", err)
		return "Document"
	}
	courseName := strings.Trim(strings.TrimSpace(reply), `"`)
	if courseName == "" {
		return "Document"
	}
	return util.TruncateRunes(courseName, 80)
}

// sampleText keeps the whole text when it fits the token budget; otherwise
// it samples the head, middle and tail so the model sees the document
// structure end to end.
func sampleText(text string, budget int) (string, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return "", err
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text, nil
	}

	headLen := budget / 2
	midLen := budget / 4
	tailLen := budget - headLen - midLen

	head := enc.Decode(tokens[:headLen])
	midStart := len(tokens)/2 - midLen/2
	mid := enc.Decode(tokens[midStart : midStart+midLen])
	tail := enc.Decode(tokens[len(tokens)-tailLen:])

	return head + "\n[...]\n" + mid + "\n[...]\n" + tail, nil
}
