package ollama

import (
	"math"

	"github.com/coursegraph/backend/pkg/ai"
)

// ResetMetrics zeroes the accumulated usage counters.
func (c *PipelineOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns the usage accumulated since the last reset.
func (c *PipelineOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *PipelineOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		perSecond := float64(c.metrics.TotalTokens) * 1000.0 / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(perSecond*100) / 100)
	}
}
