package ai

import (
	"context"
)

// PipelineAIClient is the model surface the ingestion pipeline needs:
// plain completions, schema-constrained completions and embeddings, plus
// per-run usage metrics. Two implementations exist, one for hosted
// OpenAI-compatible endpoints and one for a local Ollama instance.
type PipelineAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// ModelMetrics accumulates token usage and timing across the calls made
// since the last ResetMetrics.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"token_per_second"`
}

// GenerateOptions holds per-call generation settings. The zero value means
// the client's configured default model and temperature.
type GenerateOptions struct {
	Model         string
	SystemPrompts []string
	Temperature   float64
}

// GenerateOption mutates GenerateOptions for one call.
type GenerateOption func(*GenerateOptions)

// WithModel overrides the model for this call.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}
