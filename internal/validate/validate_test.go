package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/llm"
	"github.com/dativo-io/superadvisor/internal/tools"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{
		Content: f.response, Model: req.Model,
		InputTokens: 300, OutputTokens: 60, FinishReason: "stop",
	}, nil
}

func (f *fakeProvider) EstimateCost(model string, in, out int) float64 {
	return float64(in+out) * 1e-6
}

func auConfig(t *testing.T) *country.Config {
	t.Helper()
	reg, err := country.Load()
	require.NoError(t, err)
	au, err := reg.Lookup("AU")
	require.NoError(t, err)
	return au
}

const cleanDraft = "Based on your superannuation balance of A$400,000, a withdrawal of A$40,000 " +
	"after preservation age is tax-free under current rules [AU-TAX-001]."

func TestDeterministicModePasses(t *testing.T) {
	p := &fakeProvider{}
	v, err := New(context.Background(), p, "gpt-4o-mini", ModeDeterministic)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query: "tax on withdrawal?", Draft: cleanDraft, Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
	assert.Empty(t, verdict.Violations)
	assert.Equal(t, 0.95, verdict.Confidence)
	// Deterministic mode spends nothing on models.
	assert.Zero(t, verdict.CostUSD)
	assert.Zero(t, p.calls)
}

func TestGateMissingCitation(t *testing.T) {
	v, err := New(context.Background(), &fakeProvider{}, "gpt-4o-mini", ModeDeterministic)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query:   "tax?",
		Draft:   "Your withdrawal of A$40,000 is tax-free after age 60, based on current rules.",
		Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Violations, "missing_citation")
}

func TestGateGuaranteeLanguage(t *testing.T) {
	v, err := New(context.Background(), &fakeProvider{}, "gpt-4o-mini", ModeDeterministic)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query:   "projection?",
		Draft:   "Your balance of A$400,000 is guaranteed to double by retirement [AU-STANDARD-001].",
		Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Violations, "guarantee_language")
}

func TestGateWrongCurrency(t *testing.T) {
	v, err := New(context.Background(), &fakeProvider{}, "gpt-4o-mini", ModeDeterministic)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query:   "balance?",
		Draft:   "Your balance is 400,000 with projected growth to 600,000 at retirement [AU-STANDARD-001].",
		Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.Contains(t, verdict.Violations, "wrong_currency")
}

func TestGateIdentifierLeak(t *testing.T) {
	v, err := New(context.Background(), &fakeProvider{}, "gpt-4o-mini", ModeDeterministic)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query: "balance?", Draft: cleanDraft, Country: auConfig(t),
		IdentifierLeak: true,
	})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Violations, "identifier_leak")
}

func TestJudgePass(t *testing.T) {
	p := &fakeProvider{response: `{"passed": true, "confidence": 0.88, "violations": [], "reasoning": "grounded and cited"}`}
	v, err := New(context.Background(), p, "gpt-4o-mini", ModeLLMJudge)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query: "tax?", Draft: cleanDraft, Country: auConfig(t),
		ToolResults: []tools.Result{
			{ToolName: "AU-tax", Output: map[string]any{"tax": 0.0}},
		},
	})
	require.NoError(t, err)
	assert.True(t, verdict.Passed)
	assert.InDelta(t, 0.88, verdict.Confidence, 1e-9)
	assert.Greater(t, verdict.CostUSD, 0.0)
	assert.Equal(t, 1, p.calls)
}

func TestJudgeViolationBlocksDespiteHighConfidence(t *testing.T) {
	p := &fakeProvider{response: `{"passed": true, "confidence": 0.95, "violations": ["hallucinated_figure"], "reasoning": "figure not in tool output"}`}
	v, err := New(context.Background(), p, "gpt-4o-mini", ModeLLMJudge)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query: "tax?", Draft: cleanDraft, Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Violations, ViolationHallucinatedFigure)
}

func TestJudgeMergesGateViolations(t *testing.T) {
	p := &fakeProvider{response: `{"passed": true, "confidence": 0.9, "violations": ["incomplete_answer"], "reasoning": ""}`}
	v, err := New(context.Background(), p, "gpt-4o-mini", ModeLLMJudge)
	require.NoError(t, err)

	verdict, err := v.Validate(context.Background(), &Input{
		Query:   "tax?",
		Draft:   "Your A$40,000 withdrawal is tax-free after preservation age under current legislation.",
		Country: auConfig(t),
	})
	require.NoError(t, err)
	assert.Contains(t, verdict.Violations, "missing_citation")
	assert.Contains(t, verdict.Violations, ViolationIncompleteAnswer)
}

func TestJudgeErrorSurfaces(t *testing.T) {
	p := &fakeProvider{err: llm.ErrTimeout}
	v, err := New(context.Background(), p, "gpt-4o-mini", ModeLLMJudge)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), &Input{
		Query: "tax?", Draft: cleanDraft, Country: auConfig(t),
	})
	assert.ErrorIs(t, err, llm.ErrTimeout)
}

func TestJudgeCodeFencedVerdict(t *testing.T) {
	parsed, err := parseJudgeVerdict("```json\n{\"passed\": false, \"confidence\": 0.4, \"violations\": [], \"reasoning\": \"thin\"}\n```")
	require.NoError(t, err)
	assert.False(t, parsed.Passed)
	assert.InDelta(t, 0.4, parsed.Confidence, 1e-9)
}

func TestUnknownModeRejected(t *testing.T) {
	_, err := New(context.Background(), &fakeProvider{}, "gpt-4o-mini", "vibes")
	assert.Error(t, err)
}
