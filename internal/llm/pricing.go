package llm

import "strings"

// modelPricing holds USD cost per 1M tokens for known models. Unknown models
// fall back to the conservative default so cost accounting never reports zero
// for a real model call.
type modelPricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

var pricingTable = map[string]modelPricing{
	"gpt-4o":                 {inputPerMTok: 2.50, outputPerMTok: 10.00},
	"gpt-4o-mini":            {inputPerMTok: 0.15, outputPerMTok: 0.60},
	"gpt-4.1":                {inputPerMTok: 2.00, outputPerMTok: 8.00},
	"gpt-4.1-mini":           {inputPerMTok: 0.40, outputPerMTok: 1.60},
	"text-embedding-3-small": {inputPerMTok: 0.02},
	"text-embedding-3-large": {inputPerMTok: 0.13},
}

var defaultPricing = modelPricing{inputPerMTok: 2.50, outputPerMTok: 10.00}

// lookupPricing resolves pricing by exact match first, then by longest prefix
// so dated snapshots (e.g. "gpt-4o-2024-08-06") inherit the base model's
// rates. Longest wins: "gpt-4o-mini-..." must not resolve to "gpt-4o".
func lookupPricing(model string) modelPricing {
	if p, ok := pricingTable[model]; ok {
		return p
	}
	best := ""
	for name := range pricingTable {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return pricingTable[best]
	}
	return defaultPricing
}

// EstimateCost estimates the cost in USD for the given model and token counts.
func (p *OpenAIProvider) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing := lookupPricing(model)
	return float64(inputTokens)/1e6*pricing.inputPerMTok +
		float64(outputTokens)/1e6*pricing.outputPerMTok
}

// EstimateEmbeddingCost estimates the cost in USD of embedding the given text.
// Token count is approximated at 4 characters per token, which is close
// enough for accounting on short classifier inputs.
func (p *OpenAIProvider) EstimateEmbeddingCost(model, text string) float64 {
	pricing := lookupPricing(model)
	approxTokens := float64(len(text)) / 4
	return approxTokens / 1e6 * pricing.inputPerMTok
}
