package validate

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/dativo-io/superadvisor/internal/country"
)

//go:embed compliance.rego
var compliancePolicy string

// citationRefPattern matches citation ids rendered inline, e.g. [AU-TAX-001].
var citationRefPattern = regexp.MustCompile(`\[[A-Z]{2}-[A-Z]+-\d{3}\]`)

// guaranteePhrases flag promissory language an advisory answer must not use.
var guaranteePhrases = []string{
	"guarantee", "guaranteed", "risk-free", "certain to", "assured return",
	"cannot lose", "no risk",
}

// amountPattern detects that the draft quotes monetary figures at all.
var amountPattern = regexp.MustCompile(`[0-9][0-9,]{3,}`)

// gate is the deterministic compliance check: draft features evaluated
// against the embedded Rego policy.
type gate struct {
	query rego.PreparedEvalQuery
}

func newGate(ctx context.Context) (*gate, error) {
	query, err := rego.New(
		rego.Query("data.advisory.compliance.violations"),
		rego.Module("compliance.rego", compliancePolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling compliance policy: %w", err)
	}
	return &gate{query: query}, nil
}

// check extracts draft features and evaluates the policy, returning the
// violation codes in sorted order.
func (g *gate) check(ctx context.Context, draft string, cc *country.Config, identifierLeak bool) ([]string, error) {
	lower := strings.ToLower(draft)

	var found []string
	for _, phrase := range guaranteePhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, phrase)
		}
	}

	input := map[string]any{
		"has_citation":               citationRefPattern.MatchString(draft),
		"guarantee_phrases":          found,
		"identifier_leak":            identifierLeak,
		"mentions_amounts":           amountPattern.MatchString(draft),
		"uses_jurisdiction_currency": strings.Contains(draft, cc.CurrencySymbol) || strings.Contains(draft, cc.Currency),
		"draft_length":               len(draft),
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating compliance policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected compliance policy result %T", rs[0].Expressions[0].Value)
	}
	codes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			codes = append(codes, s)
		}
	}
	sort.Strings(codes)
	return codes, nil
}
