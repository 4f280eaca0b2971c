package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/coursegraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// PipelineOllamaClient implements ai.PipelineAIClient against a locally
// hosted Ollama server. Separate models handle embeddings, topic
// extraction and knowledge graph extraction.
type PipelineOllamaClient struct {
	embeddingModel  string
	topicModel      string
	extractionModel string

	reqLock    *semaphore.Weighted
	timeoutMin int64

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewPipelineOllamaClientParams configures a PipelineOllamaClient.
type NewPipelineOllamaClientParams struct {
	EmbeddingModel  string
	TopicModel      string
	ExtractionModel string

	BaseURL string
	ApiKey  string

	RequestTimeoutMin     int64
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewPipelineOllamaClient creates an Ollama-backed AI client. An empty
// BaseURL uses the api package default. The ApiKey is sent as a bearer
// token, which proxied Ollama deployments require and plain ones ignore.
func NewPipelineOllamaClient(
	params NewPipelineOllamaClientParams,
) (*PipelineOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 2
	}
	timeoutMin := params.RequestTimeoutMin
	if timeoutMin <= 0 {
		timeoutMin = 10
	}

	return &PipelineOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		topicModel:      params.TopicModel,
		extractionModel: params.ExtractionModel,

		reqLock:    semaphore.NewWeighted(maxReq),
		timeoutMin: timeoutMin,

		Client: api.NewClient(u, httpClient),
	}, nil
}
