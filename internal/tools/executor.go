package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/member"
	saotel "github.com/dativo-io/superadvisor/internal/otel"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/tools")

// maxConcurrentCalls bounds the fan-out when a plan's calls run in parallel.
const maxConcurrentCalls = 4

// Call is one planned tool invocation.
type Call struct {
	Key       string         `json:"key"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Plan is the ordered list of tool calls derived from a classification.
type Plan struct {
	MemberID string `json:"member_id"`
	Country  string `json:"country"`
	Calls    []Call `json:"calls"`
}

// Result is the outcome of one executed call. A failing call carries Err and
// an empty Output; the remaining calls still run.
type Result struct {
	ToolName  string         `json:"tool_name"`
	Output    map[string]any `json:"output,omitempty"`
	Err       string         `json:"error,omitempty"`
	LatencyMS float64        `json:"latency_ms"`
	Citations []string       `json:"citations,omitempty"`
}

// Failed reports whether this call produced an error instead of output.
func (r *Result) Failed() bool { return r.Err != "" }

// AllFailed reports whether every result in the list failed. An empty list
// counts as failed: there is nothing to ground on.
func AllFailed(results []Result) bool {
	for _, r := range results {
		if !r.Failed() {
			return false
		}
	}
	return true
}

// topicTools maps each classification topic to the tool ids it needs, in
// execution order.
var topicTools = map[string][]string{
	classify.TopicBalance:       {ToolBalance},
	classify.TopicWithdrawal:    {ToolTax, ToolBalance},
	classify.TopicProjection:    {ToolProjection, ToolBalance},
	classify.TopicEligibility:   {ToolPreservation},
	classify.TopicContributions: {ToolContributions},
	classify.TopicGeneral:       {ToolBalance, ToolProjection, ToolPreservation},
}

// Executor plans and runs tool calls against the member data catalog.
type Executor struct {
	registry *Registry
	members  *member.Store
	timeout  time.Duration
}

// NewExecutor builds an Executor over the given catalog and member store.
func NewExecutor(registry *Registry, members *member.Store) *Executor {
	return &Executor{registry: registry, members: members, timeout: 10 * time.Second}
}

// PlanTools derives the tool-call plan for a classified query. Unknown tool
// keys are rejected here, before anything executes.
func (e *Executor) PlanTools(cls *classify.Result, mc *member.Context) (*Plan, error) {
	toolIDs, ok := topicTools[cls.Topic]
	if !ok {
		toolIDs = topicTools[classify.TopicGeneral]
	}

	plan := &Plan{MemberID: mc.MemberID, Country: mc.Country}
	for _, toolID := range toolIDs {
		key := Key(mc.Country, toolID)
		if _, err := e.registry.Lookup(key); err != nil {
			return nil, fmt.Errorf("planning tools for topic %s: %w", cls.Topic, err)
		}
		call := Call{Key: key}
		if toolID == ToolTax {
			// Default withdrawal scenario: 10% of the current balance.
			call.Arguments = map[string]any{"withdrawal_amount": mc.SuperBalance * 0.10}
		}
		plan.Calls = append(plan.Calls, call)
	}

	log.Debug().
		Str("member_id", mc.MemberID).
		Str("topic", cls.Topic).
		Int("calls", len(plan.Calls)).
		Msg("tool_plan_built")
	return plan, nil
}

// Execute runs every planned call. Calls are independent: failures populate
// the corresponding Result without aborting the rest, and the returned slice
// always matches plan order. Calls run concurrently up to a fixed bound.
func (e *Executor) Execute(ctx context.Context, plan *Plan) []Result {
	ctx, span := tracer.Start(ctx, "tools.execute")
	defer span.End()
	span.SetAttributes(attribute.Int("advisory.tools.planned", len(plan.Calls)))

	mc, err := e.members.Get(ctx, plan.MemberID)
	if err != nil {
		// No member row: every planned call fails, the pipeline degrades.
		span.RecordError(err)
		span.SetStatus(codes.Error, "member lookup failed")
		results := make([]Result, len(plan.Calls))
		for i, call := range plan.Calls {
			results[i] = Result{ToolName: call.Key, Err: err.Error()}
		}
		return results
	}

	results := make([]Result, len(plan.Calls))
	sem := make(chan struct{}, maxConcurrentCalls)
	var wg sync.WaitGroup
	for i, call := range plan.Calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.executeOne(ctx, call, mc)
		}(i, call)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("advisory.tools.failed", failed))
	log.Info().
		Str("member_id", plan.MemberID).
		Int("executed", len(results)).
		Int("failed", failed).
		Msg("tool_plan_executed")
	return results
}

func (e *Executor) executeOne(ctx context.Context, call Call, mc *member.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "tools.call")
	defer span.End()
	span.SetAttributes(attribute.String("advisory.tool.key", call.Key))

	start := time.Now()
	res := Result{ToolName: call.Key}

	def, err := e.registry.Lookup(call.Key)
	if err == nil {
		res.Citations = def.Citations
		res.Output, err = runCalculator(def, mc, call.Arguments)
	}
	res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		res.Err = err.Error()
		res.Output = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		log.Warn().Str("tool", call.Key).Err(err).Msg("tool_call_failed")
	}
	return res
}
