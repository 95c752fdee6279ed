package models

import "fmt"

// FailureKind classifies an agent failure so the fallback manager can
// dispatch on it. Agents must return typed failures rather than generic
// errors.
type FailureKind string

const (
	FailureTimeout            FailureKind = "timeout"
	FailureLowConfidence      FailureKind = "low_confidence"
	FailureResourceExhaustion FailureKind = "resource_exhaustion"
	FailureUnavailable        FailureKind = "unavailable"
)

// AgentFailure is a typed extraction failure. Use errors.As to recover the
// kind from a wrapped error chain.
type AgentFailure struct {
	Kind  FailureKind
	Agent string
	Err   error
}

func (f *AgentFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s agent %s: %v", f.Agent, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s agent %s", f.Agent, f.Kind)
}

func (f *AgentFailure) Unwrap() error { return f.Err }

// NewAgentFailure wraps err as a typed failure from the named agent.
func NewAgentFailure(kind FailureKind, agent string, err error) *AgentFailure {
	return &AgentFailure{Kind: kind, Agent: agent, Err: err}
}
