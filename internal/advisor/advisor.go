// Package advisor owns the per-query control loop: it sequences
// classification, tool execution, synthesis, and validation, applies the
// bounded retry policy, and produces the final caller-facing outcome. It is
// the single writer of AgentState.
package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/superadvisor/internal/anonymize"
	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/member"
	saotel "github.com/dativo-io/superadvisor/internal/otel"
	"github.com/dativo-io/superadvisor/internal/requestctx"
	"github.com/dativo-io/superadvisor/internal/synth"
	"github.com/dativo-io/superadvisor/internal/tools"
	"github.com/dativo-io/superadvisor/internal/validate"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/advisor")

// Caller-facing messages. Diagnostic detail never leaks into these; it lives
// in the audit store only.
const (
	OffTopicMessage = "I can only help with questions about your retirement savings, contributions, withdrawals, and eligibility. Please ask a retirement-related question."
	BlockedMessage  = "I'm unable to provide a reliable answer to that question right now. Please contact your fund directly for assistance."
	FatalMessage    = "Something went wrong while processing your question. Please try again later."
)

// AuditSink receives terminal outcomes for asynchronous persistence.
// Implementations must never block or fail the caller.
type AuditSink interface {
	Submit(outcome *Outcome, state *AgentState)
}

// ValidationSummary is the caller-visible digest of the validation cycle.
type ValidationSummary struct {
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
	Attempts   int     `json:"attempts"`
	Mode       string  `json:"mode"`
}

// Outcome is what Process returns to the presentation layer.
type Outcome struct {
	State         State              `json:"state"`
	Answer        string             `json:"answer,omitempty"`
	BlockReason   string             `json:"block_reason,omitempty"`
	Citations     []country.Citation `json:"citations,omitempty"`
	Cost          *CostBreakdown     `json:"cost_breakdown"`
	Validation    *ValidationSummary `json:"validation_summary,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	LatencyMS     float64            `json:"latency_ms"`
}

// Params wires a Controller. Classifier, Executor, Synthesizer, Judge,
// Deterministic, and Countries are required; Audit is optional.
type Params struct {
	Classifier          *classify.Classifier
	Executor            *tools.Executor
	Synthesizer         *synth.Synthesizer
	Judge               *validate.Validator
	Deterministic       *validate.Validator
	Countries           *country.Registry
	Audit               AuditSink
	ConfidenceThreshold float64
	MaxAttempts         int
}

// Controller runs queries through the pipeline. Safe for concurrent use;
// each query gets its own AgentState.
type Controller struct {
	Params
}

// NewController validates the wiring and applies defaults.
func NewController(p Params) (*Controller, error) {
	if p.Classifier == nil || p.Executor == nil || p.Synthesizer == nil ||
		p.Judge == nil || p.Deterministic == nil || p.Countries == nil {
		return nil, fmt.Errorf("advisor controller missing a required component")
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		p.ConfidenceThreshold = 0.70
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 2
	}
	return &Controller{Params: p}, nil
}

// Process runs one query to a terminal state. The member context is owned by
// the caller and read-only here; identifiers are anonymized before any model
// call and restored only in a PASSED answer.
func (c *Controller) Process(ctx context.Context, q *Query, mc *member.Context) (*Outcome, error) {
	correlationID := requestctx.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = "corr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		ctx = requestctx.SetCorrelationID(ctx, correlationID)
	}

	ctx, span := tracer.Start(ctx, "advisor.process",
		trace.WithAttributes(
			saotel.QueryJurisdiction.String(q.Country),
			attribute.String("correlation_id", correlationID),
		))
	defer span.End()

	state := newAgentState(q, correlationID)
	log.Info().
		Str("correlation_id", correlationID).
		Str("session_id", q.SessionID).
		Str("country", q.Country).
		Func(saotel.LogTraceFields(ctx)).
		Msg("query_started")

	outcome, err := c.run(ctx, state, mc)
	outcome.CorrelationID = correlationID
	outcome.LatencyMS = float64(time.Since(state.StartedAt).Microseconds()) / 1000
	outcome.Cost = Summarize(state)

	span.SetAttributes(
		attribute.String("advisory.outcome.state", string(outcome.State)),
		saotel.CostTotalUSD.Float64(outcome.Cost.TotalUSD),
		saotel.AttemptNumber.Int(state.AttemptCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}

	// Logging is dispatched after the terminal state is reached and runs off
	// the response path. Fatal outcomes are audited too.
	if c.Audit != nil {
		c.Audit.Submit(outcome, state)
	}

	log.Info().
		Str("correlation_id", correlationID).
		Str("state", string(outcome.State)).
		Float64("cost_usd", outcome.Cost.TotalUSD).
		Int("attempts", state.AttemptCount).
		Func(saotel.LogTraceFields(ctx)).
		Msg("query_completed")
	return outcome, err
}

func (c *Controller) run(ctx context.Context, state *AgentState, mc *member.Context) (*Outcome, error) {
	q := state.Query

	cc, err := c.Countries.Lookup(q.Country)
	if err != nil {
		state.transition(StateFatalError)
		return &Outcome{State: StateFatalError, BlockReason: FatalMessage}, err
	}

	anonCtx, tokens := anonymize.Anonymize(mc)
	state.Context = anonCtx
	state.Tokens = tokens
	scrubbedQuery := tokens.Scrub(q.Text)

	state.Classification = c.Classifier.Classify(ctx, scrubbedQuery)
	if state.Classification.OffTopic {
		state.transition(StateOffTopicDeclined)
		return &Outcome{State: StateOffTopicDeclined, Answer: OffTopicMessage}, nil
	}

	state.transition(StatePlanningTools)
	plan, err := c.Executor.PlanTools(state.Classification, mc)
	if err != nil {
		state.transition(StateFatalError)
		return &Outcome{State: StateFatalError, BlockReason: FatalMessage}, err
	}
	state.Plan = plan

	state.transition(StateExecutingTools)
	state.ToolResults = c.Executor.Execute(ctx, plan)
	if tools.AllFailed(state.ToolResults) {
		// Degraded mode: synthesis proceeds on member context alone.
		log.Warn().
			Str("correlation_id", state.CorrelationID).
			Msg("all_tool_calls_failed")
	}

	return c.synthesisLoop(ctx, state, cc, scrubbedQuery)
}

// synthesisLoop runs the bounded synthesize-validate cycle. Violations block
// immediately; low confidence without violations retries with judge feedback
// until the attempt budget runs out.
func (c *Controller) synthesisLoop(ctx context.Context, state *AgentState, cc *country.Config, scrubbedQuery string) (*Outcome, error) {
	validator := c.Judge
	if state.Query.ValidationMode == validate.ModeDeterministic {
		validator = c.Deterministic
	}

	var feedback []string
	for state.AttemptCount < c.MaxAttempts {
		state.transition(StateSynthesizing)
		attempt, err := c.Synthesizer.Synthesize(ctx, &synth.Input{
			Query:          scrubbedQuery,
			Classification: state.Classification,
			Context:        state.Context,
			Country:        cc,
			ToolResults:    state.ToolResults,
			Feedback:       feedback,
			Attempt:        state.AttemptCount + 1,
		})
		if err != nil {
			state.transition(StateFatalError)
			return &Outcome{State: StateFatalError, BlockReason: FatalMessage}, err
		}

		state.transition(StateValidating)
		verdict, err := validator.Validate(ctx, &validate.Input{
			Query:          scrubbedQuery,
			Draft:          attempt.Draft,
			Country:        cc,
			ToolResults:    state.ToolResults,
			IdentifierLeak: !state.Tokens.Clean(attempt.Draft),
		})
		if err != nil {
			// Validation outage counts as a failed attempt, not a crash.
			log.Warn().
				Str("correlation_id", state.CorrelationID).
				Err(err).
				Msg("validation_unavailable")
			verdict = &validate.Verdict{
				Mode:      validator.Mode(),
				Reasoning: "validation unavailable",
			}
		}
		state.appendAttempt(attempt, verdict)

		switch {
		case len(verdict.Violations) > 0:
			// Violations block unconditionally, whatever the confidence.
			state.transition(StateBlocked)
			return c.blockedOutcome(state, verdict), nil

		case verdict.Confidence >= c.ConfidenceThreshold:
			state.transition(StatePassed)
			return &Outcome{
				State:     StatePassed,
				Answer:    state.Tokens.Restore(attempt.Draft),
				Citations: attempt.Citations,
				Validation: &ValidationSummary{
					Passed:     true,
					Confidence: verdict.Confidence,
					Attempts:   state.AttemptCount,
					Mode:       verdict.Mode,
				},
			}, nil

		case state.AttemptCount < c.MaxAttempts:
			state.transition(StateRetrying)
			feedback = retryFeedback(verdict)
			log.Info().
				Str("correlation_id", state.CorrelationID).
				Int("attempt", state.AttemptCount).
				Float64("confidence", verdict.Confidence).
				Msg("synthesis_retry")
		}
	}

	state.transition(StateBlocked)
	return c.blockedOutcome(state, state.lastAttempt().Verdict), nil
}

func (c *Controller) blockedOutcome(state *AgentState, verdict *validate.Verdict) *Outcome {
	return &Outcome{
		State:       StateBlocked,
		BlockReason: BlockedMessage,
		Validation: &ValidationSummary{
			Passed:     false,
			Confidence: verdict.Confidence,
			Attempts:   state.AttemptCount,
			Mode:       verdict.Mode,
		},
	}
}

func retryFeedback(verdict *validate.Verdict) []string {
	feedback := append([]string(nil), verdict.Violations...)
	if verdict.Reasoning != "" {
		feedback = append(feedback, verdict.Reasoning)
	}
	if len(feedback) == 0 {
		feedback = []string{"the previous draft was weakly grounded; tie every figure to a tool output and cite a source"}
	}
	return feedback
}
