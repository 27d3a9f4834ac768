// Package synth produces draft answers: it assembles a grounded prompt from
// the anonymized member context, tool outputs, and jurisdiction conventions,
// then invokes the model. On retry the prior verdict's violations are
// injected as corrective feedback.
package synth

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

	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/country"
	"github.com/dativo-io/superadvisor/internal/llm"
	"github.com/dativo-io/superadvisor/internal/member"
	saotel "github.com/dativo-io/superadvisor/internal/otel"
	"github.com/dativo-io/superadvisor/internal/tools"
)

var tracer = saotel.Tracer("github.com/dativo-io/superadvisor/internal/synth")

// promptVersion tags each attempt with the prompt layout that produced it.
const promptVersion = "v2"

// Attempt is one synthesis pass. Immutable once produced; retries append new
// attempts rather than overwriting.
type Attempt struct {
	PromptVersion string             `json:"prompt_version"`
	Draft         string             `json:"draft"`
	Citations     []country.Citation `json:"citations"`
	TokensIn      int                `json:"tokens_in"`
	TokensOut     int                `json:"tokens_out"`
	CostUSD       float64            `json:"cost_usd"`
	LatencyMS     float64            `json:"latency_ms"`
}

// Input carries everything one synthesis pass needs. Context must already be
// anonymized; no raw identifier may reach the prompt.
type Input struct {
	Query          string
	Classification *classify.Result
	Context        *member.Context
	Country        *country.Config
	ToolResults    []tools.Result
	// Feedback holds the prior verdict's violations, empty on the first
	// attempt.
	Feedback []string
	Attempt  int
}

// Synthesizer invokes the model to draft answers.
type Synthesizer struct {
	provider llm.Provider
	model    string
}

// New builds a Synthesizer using the given model.
func New(provider llm.Provider, model string) *Synthesizer {
	return &Synthesizer{provider: provider, model: model}
}

// Synthesize runs one drafting pass. A provider failure is returned to the
// caller; the loop decides whether the attempt budget allows another try.
func (s *Synthesizer) Synthesize(ctx context.Context, in *Input) (*Attempt, error) {
	ctx, span := tracer.Start(ctx, "synth.attempt",
		trace.WithAttributes(
			saotel.AttemptNumber.Int(in.Attempt),
			saotel.QueryJurisdiction.String(in.Country.Code),
		))
	defer span.End()
	start := time.Now()

	citations := collectCitations(in.Country, in.ToolResults)
	resp, err := s.provider.Generate(ctx, &llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt(in.Country)},
			{Role: "user", Content: buildPrompt(in, citations)},
		},
		Temperature: 0.2,
		MaxTokens:   900,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return nil, fmt.Errorf("synthesizing answer: %w", err)
	}

	cost := s.provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	llm.RecordCostMetrics(ctx, cost, "synthesis", resp.Model)
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.OutputTokens),
	)

	attempt := &Attempt{
		PromptVersion: promptVersion,
		Draft:         resp.Content,
		Citations:     citations,
		TokensIn:      resp.InputTokens,
		TokensOut:     resp.OutputTokens,
		CostUSD:       cost,
		LatencyMS:     float64(time.Since(start).Microseconds()) / 1000,
	}
	log.Debug().
		Int("attempt", in.Attempt).
		Int("tokens_out", resp.OutputTokens).
		Float64("cost_usd", cost).
		Msg("draft_synthesized")
	return attempt, nil
}

func systemPrompt(cc *country.Config) string {
	return fmt.Sprintf(`You are a licensed retirement advisor for %s members.
Rules:
- Use the member's %s figures and the tool outputs below; never invent numbers.
- Render all amounts in %s using the %s symbol.
- Use the local term %q for the retirement account and %q for the access age.
- Cite the listed regulatory sources by their id in square brackets, e.g. [%s].
- Address the member by the placeholder name exactly as given; do not guess a real name.
- Never guarantee outcomes or returns; this is general guidance, not personal financial advice.
Regulatory context: %s`,
		cc.Name, cc.AccountTerm, cc.Currency, cc.CurrencySymbol,
		cc.AccountTerm, cc.PreservationTerm, firstCitationID(cc), cc.Grounding)
}

func buildPrompt(in *Input, citations []country.Citation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Member question (topic: %s): %s\n\n", in.Classification.Topic, in.Query)

	ctxJSON, _ := json.MarshalIndent(in.Context, "", "  ")
	fmt.Fprintf(&b, "Member profile (anonymized):\n%s\n\n", ctxJSON)

	if len(in.ToolResults) > 0 {
		b.WriteString("Calculation tool outputs:\n")
		for _, tr := range in.ToolResults {
			if tr.Failed() {
				fmt.Fprintf(&b, "- %s: unavailable (%s)\n", tr.ToolName, tr.Err)
				continue
			}
			out, _ := json.Marshal(tr.Output)
			fmt.Fprintf(&b, "- %s: %s\n", tr.ToolName, out)
		}
		b.WriteString("\n")
	}

	if len(citations) > 0 {
		b.WriteString("Citable sources:\n")
		for _, c := range citations {
			fmt.Fprintf(&b, "- [%s] %s, %s: %s\n", c.ID, c.Authority, c.Regulation, c.Description)
		}
		b.WriteString("\n")
	}

	if len(in.Feedback) > 0 {
		b.WriteString("A reviewer rejected the previous draft. Fix these issues:\n")
		for _, f := range in.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}

	b.WriteString("Write the answer now. Include at least one citation id in square brackets.")
	return b.String()
}

// collectCitations resolves each tool result's citation ids through the
// jurisdiction catalog, preserving first-seen order and dropping duplicates.
// When no tool contributed any, the jurisdiction's own catalog is offered so
// degraded-mode drafts can still cite.
func collectCitations(cc *country.Config, results []tools.Result) []country.Citation {
	seen := make(map[string]bool)
	var out []country.Citation
	for _, tr := range results {
		if tr.Failed() {
			continue
		}
		for _, id := range tr.Citations {
			if seen[id] {
				continue
			}
			if cit, ok := cc.CitationByID(id); ok {
				seen[id] = true
				out = append(out, cit)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, cc.Citations...)
	}
	return out
}

func firstCitationID(cc *country.Config) string {
	if len(cc.Citations) > 0 {
		return cc.Citations[0].ID
	}
	return "SOURCE-001"
}
