package advisor

import (
	"time"

	"github.com/dativo-io/superadvisor/internal/anonymize"
	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/member"
	"github.com/dativo-io/superadvisor/internal/synth"
	"github.com/dativo-io/superadvisor/internal/tools"
	"github.com/dativo-io/superadvisor/internal/validate"
)

// State names the controller's position in the per-query state machine.
type State string

const (
	StateClassifying      State = "CLASSIFYING"
	StateOffTopicDeclined State = "OFF_TOPIC_DECLINED"
	StatePlanningTools    State = "PLANNING_TOOLS"
	StateExecutingTools   State = "EXECUTING_TOOLS"
	StateSynthesizing     State = "SYNTHESIZING"
	StateValidating       State = "VALIDATING"
	StateRetrying         State = "RETRYING"
	StatePassed           State = "PASSED"
	StateBlocked          State = "BLOCKED"
	StateFatalError       State = "FATAL_ERROR"
)

// Terminal reports whether the state ends the query.
func (s State) Terminal() bool {
	switch s {
	case StateOffTopicDeclined, StatePassed, StateBlocked, StateFatalError:
		return true
	}
	return false
}

// Query is the immutable input to one pipeline run.
type Query struct {
	Text           string `json:"text"`
	MemberID       string `json:"member_id"`
	SessionID      string `json:"session_id"`
	Country        string `json:"country"`
	ValidationMode string `json:"validation_mode,omitempty"`
}

// AttemptPair couples one synthesis attempt with its verdict. Retries append
// pairs; nothing is overwritten.
type AttemptPair struct {
	Synthesis *synth.Attempt    `json:"synthesis"`
	Verdict   *validate.Verdict `json:"verdict"`
}

// Transition records one timed state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// AgentState is the mutable aggregate for one query. The controller is its
// single owner; it is never shared across queries and is discarded once the
// audit record is built.
type AgentState struct {
	Query          *Query
	CorrelationID  string
	Context        *member.Context // anonymized view
	Tokens         *anonymize.TokenMap
	Classification *classify.Result
	Plan           *tools.Plan
	ToolResults    []tools.Result
	Attempts       []AttemptPair
	AttemptCount   int
	State          State
	Transitions    []Transition
	StartedAt      time.Time
}

func newAgentState(q *Query, correlationID string) *AgentState {
	return &AgentState{
		Query:         q,
		CorrelationID: correlationID,
		State:         StateClassifying,
		StartedAt:     time.Now(),
	}
}

// transition moves the state machine and records the timing.
func (s *AgentState) transition(to State) {
	s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: time.Now()})
	s.State = to
}

// appendAttempt records a synthesis/verdict pair and bumps the counter.
func (s *AgentState) appendAttempt(attempt *synth.Attempt, verdict *validate.Verdict) {
	s.Attempts = append(s.Attempts, AttemptPair{Synthesis: attempt, Verdict: verdict})
	s.AttemptCount++
}

// lastAttempt returns the most recent pair, or nil.
func (s *AgentState) lastAttempt() *AttemptPair {
	if len(s.Attempts) == 0 {
		return nil
	}
	return &s.Attempts[len(s.Attempts)-1]
}
