package advisor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/superadvisor/internal/anonymize"
	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/llm"
	"github.com/dativo-io/superadvisor/internal/member"
	"github.com/dativo-io/superadvisor/internal/synth"
	"github.com/dativo-io/superadvisor/internal/tools"
	"github.com/dativo-io/superadvisor/internal/validate"
)

// fakeProvider returns queued responses in order, repeating the last one.
type fakeProvider struct {
	responses []string
	calls     int
	prompts   []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.prompts = append(f.prompts, req.Messages[len(req.Messages)-1].Content)
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return &llm.Response{
		Content: f.responses[idx], Model: req.Model,
		InputTokens: 200, OutputTokens: 80, FinishReason: "stop",
	}, nil
}

func (f *fakeProvider) EstimateCost(model string, in, out int) float64 {
	return float64(in+out) * 1e-6
}

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EstimateEmbeddingCost(model, text string) float64 { return 1e-7 }

type fakeSink struct {
	outcomes []*Outcome
	states   []*AgentState
}

func (f *fakeSink) Submit(outcome *Outcome, state *AgentState) {
	f.outcomes = append(f.outcomes, outcome)
	f.states = append(f.states, state)
}

type harness struct {
	controller *Controller
	synthesis  *fakeProvider
	judge      *fakeProvider
	classifier *fakeProvider
	embedder   *fakeEmbedder
	sink       *fakeSink
	member     *member.Context
}

// newHarness wires a controller from real components over fake providers.
// judgeResponses drive the validation verdicts in order.
func newHarness(t *testing.T, draft string, judgeResponses ...string) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := member.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mc := &member.Context{
		MemberID: "AU001", Name: "Margaret Chen", Age: 62, Country: "AU",
		SuperBalance: 400000, OtherAssets: 50000, PreservationAge: 60,
		AnnualIncomeOutsideSuper: 90000, EmploymentStatus: "Full-time",
		RiskProfile: "Balanced",
	}
	require.NoError(t, store.Put(ctx, mc))

	registry, err := tools.LoadRegistry()
	require.NoError(t, err)
	countries, err := country.Load()
	require.NoError(t, err)

	h := &harness{
		synthesis:  &fakeProvider{responses: []string{draft}},
		judge:      &fakeProvider{responses: judgeResponses},
		classifier: &fakeProvider{responses: []string{`{"topic": "balance", "off_topic": false, "confidence": 0.8}`}},
		embedder:   &fakeEmbedder{},
		sink:       &fakeSink{},
		member:     mc,
	}

	classifier, err := classify.New(h.classifier, h.embedder)
	require.NoError(t, err)
	judge, err := validate.New(ctx, h.judge, "gpt-4o-mini", validate.ModeLLMJudge)
	require.NoError(t, err)
	det, err := validate.New(ctx, h.judge, "gpt-4o-mini", validate.ModeDeterministic)
	require.NoError(t, err)

	h.controller, err = NewController(Params{
		Classifier:          classifier,
		Executor:            tools.NewExecutor(registry, store),
		Synthesizer:         synth.New(h.synthesis, "gpt-4o"),
		Judge:               judge,
		Deterministic:       det,
		Countries:           countries,
		Audit:               h.sink,
		ConfidenceThreshold: 0.70,
		MaxAttempts:         2,
	})
	require.NoError(t, err)
	return h
}

const goodDraft = "Your superannuation balance is A$400,000 and withdrawals after preservation age are tax-free [AU-TAX-001]."

const passVerdict = `{"passed": true, "confidence": 0.90, "violations": [], "reasoning": "grounded"}`

func balanceQuery() *Query {
	return &Query{Text: "What is my balance?", MemberID: "AU001", SessionID: "s1", Country: "AU"}
}

func TestRegexHitScenario(t *testing.T) {
	h := newHarness(t, goodDraft, passVerdict)

	out, err := h.controller.Process(context.Background(), balanceQuery(), h.member)
	require.NoError(t, err)

	assert.Equal(t, StatePassed, out.State)
	assert.Equal(t, classify.MethodPattern, out.Cost.Classification.Method)
	assert.Zero(t, out.Cost.Classification.CostUSD)
	assert.Zero(t, h.classifier.calls)
	assert.Zero(t, h.embedder.calls)
	assert.NotEmpty(t, out.Answer)
	assert.NotEmpty(t, out.CorrelationID)
}

func TestOffTopicShortCircuit(t *testing.T) {
	h := newHarness(t, goodDraft, passVerdict)

	q := balanceQuery()
	q.Text = "What's the weather forecast for the cricket this weekend?"
	out, err := h.controller.Process(context.Background(), q, h.member)
	require.NoError(t, err)

	assert.Equal(t, StateOffTopicDeclined, out.State)
	assert.Equal(t, OffTopicMessage, out.Answer)
	assert.Zero(t, out.Cost.TotalUSD)
	// Nothing downstream ran.
	assert.Zero(t, h.synthesis.calls)
	assert.Zero(t, h.judge.calls)
}

func TestRetryThenPassScenario(t *testing.T) {
	h := newHarness(t, goodDraft,
		`{"passed": false, "confidence": 0.55, "violations": [], "reasoning": "weakly grounded"}`,
		`{"passed": true, "confidence": 0.85, "violations": [], "reasoning": "grounded"}`,
	)

	out, err := h.controller.Process(context.Background(), balanceQuery(), h.member)
	require.NoError(t, err)

	assert.Equal(t, StatePassed, out.State)
	require.NotNil(t, out.Validation)
	assert.Equal(t, 2, out.Validation.Attempts)
	assert.InDelta(t, 0.85, out.Validation.Confidence, 1e-9)

	state := h.sink.states[0]
	require.Len(t, state.Attempts, 2)
	assert.Equal(t, 2, out.Cost.Synthesis.Attempts)
	assert.Equal(t, 2, out.Cost.Validation.Attempts)
	// The retry prompt carried the judge's feedback.
	assert.Contains(t, h.synthesis.prompts[1], "weakly grounded")
}

func TestViolationBlocksInstantly(t *testing.T) {
	h := newHarness(t, goodDraft,
		`{"passed": true, "confidence": 0.95, "violations": ["hallucinated_figure"], "reasoning": "figure not in tools"}`,
	)

	out, err := h.controller.Process(context.Background(), balanceQuery(), h.member)
	require.NoError(t, err)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, BlockedMessage, out.BlockReason)
	assert.Empty(t, out.Answer)
	// Exactly one attempt despite budget for two.
	assert.Equal(t, 1, out.Cost.Synthesis.Attempts)
	// Violation detail stays internal.
	assert.NotContains(t, out.BlockReason, "hallucinated_figure")
	require.Len(t, h.sink.states, 1)
	assert.Contains(t, h.sink.states[0].Attempts[0].Verdict.Violations, "hallucinated_figure")
}

func TestAttemptBoundBlocks(t *testing.T) {
	h := newHarness(t, goodDraft,
		`{"passed": false, "confidence": 0.50, "violations": [], "reasoning": "thin"}`,
	)

	out, err := h.controller.Process(context.Background(), balanceQuery(), h.member)
	require.NoError(t, err)

	assert.Equal(t, StateBlocked, out.State)
	assert.Equal(t, 2, out.Cost.Synthesis.Attempts)
	assert.Equal(t, 2, out.Cost.Validation.Attempts)
	state := h.sink.states[0]
	assert.LessOrEqual(t, len(state.Attempts), 2)
}

func TestCostSumInvariant(t *testing.T) {
	h := newHarness(t, goodDraft,
		`{"passed": false, "confidence": 0.55, "violations": [], "reasoning": "weak"}`,
		passVerdict,
	)

	out, err := h.controller.Process(context.Background(), balanceQuery(), h.member)
	require.NoError(t, err)

	cb := out.Cost
	assert.Equal(t, cb.TotalUSD,
		cb.Classification.CostUSD+cb.Synthesis.CostUSD+cb.Validation.CostUSD)
	assert.Greater(t, cb.TotalUSD, 0.0)
}

func TestAnonymizationRoundTrip(t *testing.T) {
	anonMC, _ := anonymize.Anonymize(&member.Context{MemberID: "AU001", Name: "Margaret Chen", Age: 62, Country: "AU"})
	draft := "Hello " + anonMC.Name + ", your balance is A$400,000 [AU-TAX-001]."

	h := newHarness(t, draft, passVerdict)
	q := balanceQuery()
	q.Text = "What is my balance? My name is Margaret Chen."

	out, err := h.controller.Process(context.Background(), q, h.member)
	require.NoError(t, err)
	require.Equal(t, StatePassed, out.State)

	// The real name reaches the caller but never the model.
	assert.Contains(t, out.Answer, "Margaret Chen")
	for _, prompt := range h.synthesis.prompts {
		assert.NotContains(t, prompt, "Margaret Chen")
		assert.NotContains(t, prompt, "AU001")
	}
	for _, prompt := range h.judge.prompts {
		assert.NotContains(t, prompt, "Margaret Chen")
	}
	// The stored state holds only the anonymized view.
	assert.NotContains(t, h.sink.states[0].Context.Name, "Margaret")
}

func TestDegradedModeStillSynthesizes(t *testing.T) {
	h := newHarness(t, goodDraft, passVerdict)

	// Member missing from the data catalog: every tool call fails.
	q := balanceQuery()
	q.MemberID = "ZZ999"
	missing := *h.member
	missing.MemberID = "ZZ999"

	out, err := h.controller.Process(context.Background(), q, &missing)
	require.NoError(t, err)

	assert.Equal(t, StatePassed, out.State)
	state := h.sink.states[0]
	assert.True(t, tools.AllFailed(state.ToolResults))
	assert.Equal(t, 1, h.synthesis.calls)
	assert.Equal(t, 1, h.judge.calls)
}

func TestDeterministicModeSkipsJudge(t *testing.T) {
	h := newHarness(t, goodDraft, passVerdict)

	q := balanceQuery()
	q.ValidationMode = validate.ModeDeterministic
	out, err := h.controller.Process(context.Background(), q, h.member)
	require.NoError(t, err)

	assert.Equal(t, StatePassed, out.State)
	assert.Equal(t, validate.ModeDeterministic, out.Validation.Mode)
	assert.Zero(t, h.judge.calls)
	assert.Zero(t, out.Cost.Validation.CostUSD)
}

func TestUnsupportedJurisdictionIsFatal(t *testing.T) {
	h := newHarness(t, goodDraft, passVerdict)

	q := balanceQuery()
	q.Country = "FR"
	mc := *h.member
	mc.Country = "FR"

	out, err := h.controller.Process(context.Background(), q, &mc)
	require.Error(t, err)
	assert.Equal(t, StateFatalError, out.State)
	assert.Equal(t, FatalMessage, out.BlockReason)
	// Fatal outcomes are still audited.
	assert.Len(t, h.sink.outcomes, 1)
}
