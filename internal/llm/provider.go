// Package llm abstracts the external model and embedding services behind
// narrow interfaces. Providers report token counts on every call so the
// pipeline can account for cost per step.
package llm

import (
	"context"
	"errors"
	"time"
)

// Timeouts for model operations. Every external call is bounded.
const (
	TimeoutLLMCall   = 60 * time.Second
	TimeoutEmbedding = 15 * time.Second
)

// Domain errors for the llm package. API failures are mapped onto these so
// callers can distinguish retryable from terminal conditions.
var (
	ErrProviderNotAvailable = errors.New("provider not available")
	ErrTimeout              = errors.New("model call timed out")
	ErrRateLimited          = errors.New("model endpoint rate limited")
	ErrInvalidRequest       = errors.New("model rejected request as invalid")
	ErrCircuitOpen          = errors.New("provider circuit open")
)

// Provider is the interface the pipeline requires from a model service.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Generate sends a completion request to the model and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// EstimateCost estimates the cost in USD for the given model and token counts.
	EstimateCost(model string, inputTokens, outputTokens int) float64
}

// Embedder is the interface the classifier's embedding stage requires.
type Embedder interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, model, text string) ([]float32, error)
	// EstimateEmbeddingCost estimates the cost in USD of embedding the given text.
	EstimateEmbeddingCost(model, text string) float64
}

// Request represents a model generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a model generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
