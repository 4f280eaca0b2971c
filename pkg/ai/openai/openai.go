package openai

import (
	"sync"

	"github.com/coursegraph/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// PipelineOpenAIClient implements ai.PipelineAIClient against
// OpenAI-compatible endpoints. Embeddings and chat keep separate clients
// so the two concerns can point at different providers, a hosted
// embedding API next to a self-hosted chat deployment for example.
type PipelineOpenAIClient struct {
	embeddingModel  string
	topicModel      string
	extractionModel string

	timeoutMin    int64
	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewPipelineOpenAIClientParams configures a PipelineOpenAIClient.
// EmbeddingURL/EmbeddingKey and ChatURL/ChatKey address the two endpoints;
// an empty URL means the provider default.
type NewPipelineOpenAIClientParams struct {
	EmbeddingModel  string
	TopicModel      string
	ExtractionModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	RequestTimeoutMin     int64
	MaxConcurrentRequests int64
}

// NewPipelineOpenAIClient creates a client from the given parameters.
// Endpoints without an API key get a nil inner client and fail on first
// use rather than at startup.
func NewPipelineOpenAIClient(
	params NewPipelineOpenAIClientParams,
) *PipelineOpenAIClient {
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 5
	}
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 8
	}

	return &PipelineOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		topicModel:      params.TopicModel,
		extractionModel: params.ExtractionModel,

		timeoutMin:    timeoutMin,
		embeddingLock: semaphore.NewWeighted(maxReq),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(options...)
	return &client
}
