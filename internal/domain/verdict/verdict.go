// Package verdict defines the standardized result envelope every agent
// returns, and the weighted-vote aggregation used to resolve disagreement
// between agents judging the same question.
package verdict

import (
	"errors"
	"fmt"
	"time"
)

// Decision is the judgement an agent renders.
type Decision string

const (
	DecisionApprove     Decision = "approve"
	DecisionReject      Decision = "reject"
	DecisionConditional Decision = "conditional"
	DecisionSkip        Decision = "skip"
)

// Valid reports whether d is one of the four known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionConditional, DecisionSkip:
		return true
	}
	return false
}

var (
	ErrAgentNameRequired = errors.New("agent_name is required")
	ErrInvalidDecision   = errors.New("invalid decision: must be approve, reject, conditional, or skip")
	ErrConfidenceRange   = errors.New("confidence must be in [0,1]")
)

// Verdict is the envelope produced once per agent execution. It is immutable
// after creation: the runner records it into the session shared data and all
// downstream consumers treat it as read-only.
type Verdict struct {
	AgentName  string            `json:"agent_name"`
	Decision   Decision          `json:"decision"`
	Reasoning  string            `json:"reasoning"`
	Payload    map[string]any    `json:"payload"`
	Confidence float64           `json:"confidence"`
	Flags      []string          `json:"flags,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New creates a verdict with the timestamp set and an empty payload mapping.
func New(agentName string, decision Decision, reasoning string, confidence float64) *Verdict {
	return &Verdict{
		AgentName:  agentName,
		Decision:   decision,
		Reasoning:  reasoning,
		Payload:    map[string]any{},
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// Validate enforces the envelope invariants. A violation fails outright;
// values are never coerced into range.
func (v *Verdict) Validate() error {
	if v.AgentName == "" {
		return ErrAgentNameRequired
	}
	if !v.Decision.Valid() {
		return fmt.Errorf("%w, got %q", ErrInvalidDecision, v.Decision)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w, got %g", ErrConfidenceRange, v.Confidence)
	}
	return nil
}

// HasConcerns reports whether any concern flags were raised.
func (v *Verdict) HasConcerns() bool {
	return len(v.Flags) > 0
}

// NeedsEscalation reports whether a human or higher authority should review
// this verdict rather than proceed automatically.
func (v *Verdict) NeedsEscalation(threshold float64) bool {
	return v.Confidence < threshold || v.HasConcerns()
}
