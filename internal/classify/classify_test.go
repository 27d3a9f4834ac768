package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/superadvisor/internal/llm"
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
		InputTokens: 50, OutputTokens: 20, FinishReason: "stop",
	}, nil
}

func (f *fakeProvider) EstimateCost(model string, in, out int) float64 {
	return float64(in+out) * 1e-6
}

type fakeEmbedder struct {
	// vectors keyed by input text; unmatched inputs get fallback.
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

func (f *fakeEmbedder) EstimateEmbeddingCost(model, text string) float64 {
	return 1e-7
}

func newClassifier(t *testing.T, p llm.Provider, e llm.Embedder, opts ...Option) *Classifier {
	t.Helper()
	c, err := New(p, e, opts...)
	require.NoError(t, err)
	return c
}

func TestPatternStageBalance(t *testing.T) {
	p := &fakeProvider{}
	e := &fakeEmbedder{}
	c := newClassifier(t, p, e)

	res := c.Classify(context.Background(), "What is my balance?")
	assert.Equal(t, TopicBalance, res.Topic)
	assert.Equal(t, MethodPattern, res.Method)
	assert.False(t, res.OffTopic)
	assert.Equal(t, 0.95, res.Confidence)
	assert.Zero(t, res.CostUSD)
	// No paid stage runs after an unambiguous pattern hit.
	assert.Zero(t, p.calls)
	assert.Zero(t, e.calls)
}

func TestPatternStageOffTopic(t *testing.T) {
	p := &fakeProvider{}
	e := &fakeEmbedder{}
	c := newClassifier(t, p, e)

	res := c.Classify(context.Background(), "What's the weather forecast for tomorrow?")
	assert.Equal(t, TopicOffTopic, res.Topic)
	assert.True(t, res.OffTopic)
	assert.Equal(t, MethodPattern, res.Method)
	assert.Zero(t, res.CostUSD)
	assert.Zero(t, p.calls)
	assert.Zero(t, e.calls)
}

func TestEmbeddingStage(t *testing.T) {
	query := "I was wondering about the money set aside for when I stop working"
	e := &fakeEmbedder{
		vectors: map[string][]float32{
			// Query aligns with one balance exemplar, orthogonal to the rest.
			query:                 {1, 0, 0},
			"What is my balance?": {0.95, 0.05, 0},
		},
		fallback: []float32{0, 1, 0},
	}
	p := &fakeProvider{}
	c := newClassifier(t, p, e, WithEmbeddingThreshold(0.80))

	res := c.Classify(context.Background(), query)
	assert.Equal(t, TopicBalance, res.Topic)
	assert.Equal(t, MethodEmbedding, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, 0.80)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.Zero(t, p.calls)
}

func TestModelStageFallback(t *testing.T) {
	// All embeddings orthogonal to the query: similarity stays below
	// threshold and the cascade reaches the model stage.
	query := "something ambiguous about finances"
	e := &fakeEmbedder{
		vectors:  map[string][]float32{query: {1, 0, 0}},
		fallback: []float32{0, 1, 0},
	}
	p := &fakeProvider{response: `{"topic": "withdrawal", "off_topic": false, "confidence": 0.82}`}
	c := newClassifier(t, p, e)

	res := c.Classify(context.Background(), query)
	assert.Equal(t, TopicWithdrawal, res.Topic)
	assert.Equal(t, MethodModel, res.Method)
	assert.InDelta(t, 0.82, res.Confidence, 1e-9)
	assert.Equal(t, 1, p.calls)
	// Embedding spend from the inconclusive stage is carried forward.
	assert.Greater(t, res.CostUSD, p.EstimateCost("gpt-4o-mini", 50, 20)-1e-12)
}

func TestModelStageCodeFencedJSON(t *testing.T) {
	res := parseModelVerdict("```json\n{\"topic\": \"eligibility\", \"off_topic\": false, \"confidence\": 0.9}\n```")
	assert.Equal(t, TopicEligibility, res.Topic)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestTotalFailureNeverHardFails(t *testing.T) {
	query := "tell me about the thing"
	e := &fakeEmbedder{err: errors.New("embedding service down")}
	p := &fakeProvider{err: llm.ErrTimeout}
	c := newClassifier(t, p, e)

	res := c.Classify(context.Background(), query)
	require.NotNil(t, res)
	assert.Equal(t, TopicGeneral, res.Topic)
	assert.Equal(t, MethodModel, res.Method)
	assert.InDelta(t, 0.30, res.Confidence, 1e-9)
}

func TestModelGarbageOutputFallsBack(t *testing.T) {
	res := parseModelVerdict("I think this is about balances, probably.")
	assert.Equal(t, TopicGeneral, res.Topic)
	assert.InDelta(t, 0.30, res.Confidence, 1e-9)
}

func TestAmbiguousPatternFallsThrough(t *testing.T) {
	// Matches both withdrawal and eligibility vocabularies; pattern stage
	// must not guess.
	_, ok := mustVocab(t).matchPattern("When can I access my super and withdraw a lump sum?")
	assert.False(t, ok)
}

func mustVocab(t *testing.T) *vocabulary {
	t.Helper()
	v, err := loadVocabulary()
	require.NoError(t, err)
	return v
}
