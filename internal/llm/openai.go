package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	saotel "github.com/dativo-io/superadvisor/internal/otel"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/llm")

// OpenAIProvider implements Provider and Embedder against an
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI provider with the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
	}
}

// NewOpenAIProviderWithBaseURL creates an OpenAI provider with a custom base
// URL (e.g. for e2e tests pointing at a mock server). baseURL should be the
// scheme+host without path; the client appends /v1 as needed.
func NewOpenAIProviderWithBaseURL(apiKey, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"
	return &OpenAIProvider{client: openai.NewClientWithConfig(config)}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate sends a chat completion request to the model endpoint.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.generate",
		trace.WithAttributes(
			saotel.GenAISystem.String("openai"),
			saotel.GenAIRequestModel.String(req.Model),
			saotel.GenAIRequestTemperature.Float64(req.Temperature),
			saotel.GenAIRequestMaxTokens.Int(req.MaxTokens),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutLLMCall)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		err = mapAPIError(err)
		span.RecordError(err)
		return nil, fmt.Errorf("openai api call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api call: no choices returned")
	}

	span.SetAttributes(saotel.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetAttributes(saotel.GenAIResponseFinishReason.String(string(resp.Choices[0].FinishReason)))

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}

// Embed returns the embedding vector for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "gen_ai.embed",
		trace.WithAttributes(
			saotel.GenAISystem.String("openai"),
			saotel.GenAIRequestModel.String(model),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, TimeoutEmbedding)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		err = mapAPIError(err)
		span.RecordError(err)
		return nil, fmt.Errorf("openai embeddings call: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings call: empty response")
	}

	return resp.Data[0].Embedding, nil
}

// mapAPIError converts SDK errors into the package's typed errors so the
// pipeline can apply the right recovery policy.
func mapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return err
}
