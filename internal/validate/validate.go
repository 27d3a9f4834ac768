// Package validate scores synthesized drafts before they reach the caller.
// A deterministic Rego compliance gate always runs; in llm_judge mode an
// independent model pass additionally scores accuracy, completeness, and
// tone. Violations block a draft unconditionally; confidence below the
// threshold triggers a retry.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/llm"
	saotel "github.com/dativo-io/superadvisor/internal/otel"
	"github.com/dativo-io/superadvisor/internal/tools"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/validate")

// Validation modes.
const (
	ModeLLMJudge      = "llm_judge"
	ModeDeterministic = "deterministic"
)

// Violation codes the judge may assign beyond the deterministic gate's.
const (
	ViolationHallucinatedFigure = "hallucinated_figure"
	ViolationIncompleteAnswer   = "incomplete_answer"
	ViolationInappropriateTone  = "inappropriate_tone"
	ViolationWrongJurisdiction  = "wrong_jurisdiction_rules"
)

// deterministicConfidence is assigned when only the rule gate ran; rules
// either fire or they don't, so a clean draft gets a high fixed score.
const deterministicConfidence = 0.95

// Verdict is the validation outcome for one synthesis attempt.
type Verdict struct {
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Violations []string `json:"violations,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Mode       string   `json:"mode"`
	CostUSD    float64  `json:"cost_usd"`
	LatencyMS  float64  `json:"latency_ms"`
}

// Input carries the draft and its grounding for one validation pass.
type Input struct {
	Query       string
	Draft       string
	Country     *country.Config
	ToolResults []tools.Result
	// IdentifierLeak is set by the caller when a raw member identifier
	// survived anonymization into the draft.
	IdentifierLeak bool
}

// Validator scores drafts. Safe for concurrent use.
type Validator struct {
	provider llm.Provider
	model    string
	mode     string
	gate     *gate
}

// New builds a Validator. mode must be ModeLLMJudge or ModeDeterministic.
func New(ctx context.Context, provider llm.Provider, model, mode string) (*Validator, error) {
	if mode != ModeLLMJudge && mode != ModeDeterministic {
		return nil, fmt.Errorf("unknown validation mode %q", mode)
	}
	g, err := newGate(ctx)
	if err != nil {
		return nil, err
	}
	return &Validator{provider: provider, model: model, mode: mode, gate: g}, nil
}

// Mode returns the configured validation mode.
func (v *Validator) Mode() string { return v.mode }

// Validate scores one draft. The deterministic gate always runs; judge
// failures surface as errors for the loop's retry policy to absorb.
func (v *Validator) Validate(ctx context.Context, in *Input) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "validate.verdict",
		trace.WithAttributes(saotel.QueryValidationMode.String(v.mode)))
	defer span.End()
	start := time.Now()

	ruleViolations, err := v.gate.check(ctx, in.Draft, in.Country, in.IdentifierLeak)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compliance gate failed")
		return nil, err
	}

	verdict := &Verdict{Mode: v.mode, Violations: ruleViolations}
	if v.mode == ModeDeterministic {
		verdict.Passed = len(ruleViolations) == 0
		verdict.Confidence = deterministicConfidence
	} else {
		if err := v.judge(ctx, in, verdict); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "judge failed")
			return nil, err
		}
	}

	// Any violation blocks regardless of the reported confidence.
	if len(verdict.Violations) > 0 {
		verdict.Passed = false
	}
	verdict.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(
		attribute.Bool("advisory.validation.passed", verdict.Passed),
		saotel.ValidationConfidence.Float64(verdict.Confidence),
		saotel.ValidationViolations.StringSlice(verdict.Violations),
	)
	log.Debug().
		Bool("passed", verdict.Passed).
		Float64("confidence", verdict.Confidence).
		Strs("violations", verdict.Violations).
		Msg("draft_validated")
	return verdict, nil
}

const judgePromptFmt = `You are an independent reviewer of retirement advice for %s members.
Score the draft answer against the member's question and the tool outputs.

Check:
- accuracy: every figure must come from the tool outputs
- completeness: the question is actually answered
- compliance: no personal guarantees, correct %s terminology
- tone: professional and clear
- citations: regulatory sources referenced

Respond with JSON only:
{"passed": <bool>, "confidence": <0.0-1.0>, "violations": [<codes from: %s>], "reasoning": "<one sentence>"}
An empty violations list with low confidence means the draft is plausible but weakly grounded.

Question: %s

Tool outputs:
%s

Draft answer:
%s`

func (v *Validator) judge(ctx context.Context, in *Input, verdict *Verdict) error {
	var toolSummary strings.Builder
	for _, tr := range in.ToolResults {
		if tr.Failed() {
			fmt.Fprintf(&toolSummary, "- %s: unavailable\n", tr.ToolName)
			continue
		}
		out, _ := json.Marshal(tr.Output)
		fmt.Fprintf(&toolSummary, "- %s: %s\n", tr.ToolName, out)
	}

	codeList := strings.Join([]string{
		ViolationHallucinatedFigure, ViolationIncompleteAnswer,
		ViolationInappropriateTone, ViolationWrongJurisdiction,
	}, ", ")

	resp, err := v.provider.Generate(ctx, &llm.Request{
		Model: v.model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(judgePromptFmt,
				in.Country.Name, in.Country.AccountTerm, codeList,
				in.Query, toolSummary.String(), in.Draft)},
		},
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return fmt.Errorf("invoking judge: %w", err)
	}

	verdict.CostUSD = v.provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	llm.RecordCostMetrics(ctx, verdict.CostUSD, "validation", resp.Model)

	parsed, err := parseJudgeVerdict(resp.Content)
	if err != nil {
		return err
	}
	verdict.Passed = parsed.Passed
	verdict.Confidence = parsed.Confidence
	verdict.Reasoning = parsed.Reasoning
	verdict.Violations = mergeViolations(verdict.Violations, parsed.Violations)
	return nil
}

type judgeVerdict struct {
	Passed     bool     `json:"passed"`
	Confidence float64  `json:"confidence"`
	Violations []string `json:"violations"`
	Reasoning  string   `json:"reasoning"`
}

func parseJudgeVerdict(content string) (*judgeVerdict, error) {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	var parsed judgeVerdict
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parsing judge verdict: %w", err)
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}
	return &parsed, nil
}

func mergeViolations(rule, judge []string) []string {
	seen := make(map[string]bool, len(rule))
	out := append([]string(nil), rule...)
	for _, code := range rule {
		seen[code] = true
	}
	for _, code := range judge {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}
