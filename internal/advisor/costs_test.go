package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/synth"
	"github.com/dativo-io/superadvisor/internal/validate"
)

func terminalState() *AgentState {
	s := newAgentState(&Query{Text: "q", Country: "AU"}, "corr_test")
	s.Classification = &classify.Result{
		Topic: classify.TopicBalance, Method: classify.MethodEmbedding,
		Confidence: 0.83, CostUSD: 0.000004, LatencyMS: 12,
	}
	s.appendAttempt(
		&synth.Attempt{CostUSD: 0.0021, TokensIn: 400, TokensOut: 150, LatencyMS: 900},
		&validate.Verdict{CostUSD: 0.0005, Confidence: 0.55, LatencyMS: 400},
	)
	s.appendAttempt(
		&synth.Attempt{CostUSD: 0.0019, TokensIn: 420, TokensOut: 130, LatencyMS: 850},
		&validate.Verdict{Passed: true, CostUSD: 0.0004, Confidence: 0.88, LatencyMS: 380},
	)
	s.State = StatePassed
	return s
}

func TestSummarizeExactSum(t *testing.T) {
	cb := Summarize(terminalState())

	assert.Equal(t, 0.000004, cb.Classification.CostUSD)
	assert.InDelta(t, 0.0040, cb.Synthesis.CostUSD, 1e-12)
	assert.InDelta(t, 0.0009, cb.Validation.CostUSD, 1e-12)
	assert.Equal(t, cb.TotalUSD,
		cb.Classification.CostUSD+cb.Synthesis.CostUSD+cb.Validation.CostUSD)

	assert.Equal(t, 2, cb.Synthesis.Attempts)
	assert.Equal(t, 2, cb.Validation.Attempts)
	assert.Equal(t, 1100, cb.Synthesis.Tokens)
	assert.Equal(t, classify.MethodEmbedding, cb.Classification.Method)
}

func TestSummarizeIdempotent(t *testing.T) {
	s := terminalState()
	first := Summarize(s)
	second := Summarize(s)
	assert.Equal(t, first, second)
}

func TestSummarizeEmptyState(t *testing.T) {
	s := newAgentState(&Query{Text: "q", Country: "AU"}, "corr_test")
	cb := Summarize(s)
	assert.Zero(t, cb.TotalUSD)
	assert.Zero(t, cb.Synthesis.Attempts)
}

func TestStateTransitionsRecorded(t *testing.T) {
	s := newAgentState(&Query{Text: "q", Country: "AU"}, "corr_test")
	s.transition(StatePlanningTools)
	s.transition(StateExecutingTools)

	assert.Equal(t, StateExecutingTools, s.State)
	assert.Len(t, s.Transitions, 2)
	assert.Equal(t, StateClassifying, s.Transitions[0].From)
	assert.False(t, s.State.Terminal())
	assert.True(t, StateBlocked.Terminal())
}
