package advisor

// StageCost aggregates one pipeline stage's spend.
type StageCost struct {
	CostUSD   float64 `json:"cost_usd"`
	Tokens    int     `json:"tokens"`
	Attempts  int     `json:"attempts"`
	Method    string  `json:"method,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// CostBreakdown is the derived, read-only cost view of a completed query.
// TotalUSD is by construction the exact sum of the three component costs.
type CostBreakdown struct {
	Classification StageCost `json:"classification"`
	Synthesis      StageCost `json:"synthesis"`
	Validation     StageCost `json:"validation"`
	TotalUSD       float64   `json:"total_usd"`
}

// Summarize is a pure function over a terminal AgentState: it sums cost and
// token counts across the classification and every executed attempt pair.
// Calling it twice on the same state yields identical values.
func Summarize(s *AgentState) *CostBreakdown {
	cb := &CostBreakdown{}

	if s.Classification != nil {
		cb.Classification = StageCost{
			CostUSD:   s.Classification.CostUSD,
			Method:    s.Classification.Method,
			LatencyMS: s.Classification.LatencyMS,
			Attempts:  1,
		}
	}

	for _, pair := range s.Attempts {
		if pair.Synthesis != nil {
			cb.Synthesis.CostUSD += pair.Synthesis.CostUSD
			cb.Synthesis.Tokens += pair.Synthesis.TokensIn + pair.Synthesis.TokensOut
			cb.Synthesis.LatencyMS += pair.Synthesis.LatencyMS
			cb.Synthesis.Attempts++
		}
		if pair.Verdict != nil {
			cb.Validation.CostUSD += pair.Verdict.CostUSD
			cb.Validation.LatencyMS += pair.Verdict.LatencyMS
			cb.Validation.Attempts++
		}
	}

	cb.TotalUSD = cb.Classification.CostUSD + cb.Synthesis.CostUSD + cb.Validation.CostUSD
	return cb
}
