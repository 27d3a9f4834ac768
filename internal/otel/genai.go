package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

// GenAI Semantic Conventions for LLM observability
// Based on OpenTelemetry GenAI SIG conventions

const (
	// LLM System attributes
	GenAISystem       = attribute.Key("gen_ai.system")        // e.g., "openai"
	GenAIRequestModel = attribute.Key("gen_ai.request.model") // e.g., "gpt-4o"

	// Request attributes
	GenAIRequestTemperature = attribute.Key("gen_ai.request.temperature")
	GenAIRequestMaxTokens   = attribute.Key("gen_ai.request.max_tokens")

	// Usage attributes
	GenAIUsageInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokens = attribute.Key("gen_ai.usage.output_tokens")

	// Response attributes
	GenAIResponseFinishReason = attribute.Key("gen_ai.response.finish_reason")
)

// Pipeline attributes shared across advisory stages.
const (
	QueryTopic            = attribute.Key("advisory.topic")
	QueryJurisdiction     = attribute.Key("advisory.jurisdiction")
	QueryValidationMode   = attribute.Key("advisory.validation_mode")
	ClassificationMethod  = attribute.Key("advisory.classification.method")
	ClassificationCostUSD = attribute.Key("advisory.classification.cost_usd")
	ValidationConfidence  = attribute.Key("advisory.validation.confidence")
	ValidationViolations  = attribute.Key("advisory.validation.violations")
	AttemptNumber         = attribute.Key("advisory.attempt")
	CostTotalUSD          = attribute.Key("advisory.cost.total_usd")
)

// LLMUsageAttributes creates attributes for token usage
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		GenAIUsageInputTokens.Int(inputTokens),
		GenAIUsageOutputTokens.Int(outputTokens),
	}
}
