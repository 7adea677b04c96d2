package core

import (
	"context"
	"encoding/json"
)

// Kind tags the concrete persona variant behind an Agent. Callers that need
// variant specific behavior dispatch on Kind rather than on concrete types.
type Kind int

const (
	// KindBasic is a single completion wrapper with no sub-agents.
	KindBasic Kind = iota
	// KindDelegating routes messages to named sub-agents through a delegator.
	KindDelegating
)

// String returns a readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindDelegating:
		return "delegating"
	default:
		return "unknown"
	}
}

// Agent is the capability a delegator consumes from each persona.
//
// Implementations must:
//   - Return a stable Name; it is the key of the agent's subhistory
//   - Never alias the returned History with internal state
//   - Leave history unchanged when Send fails
type Agent interface {
	// Name returns the stable identity of the agent.
	Name() string

	// Kind reports the persona variant.
	Kind() Kind

	// Send delivers one inbound message and returns the agent's proposal.
	Send(ctx context.Context, message string) (ProposedResponse, error)

	// History returns a deep copy of the agent's conversation tree.
	History() *History

	// SetHistory replaces the agent's state from a restored tree.
	SetHistory(h *History) error

	// LastAssistantResponse rebuilds the most recent proposal from history.
	// It returns nil when the agent has not produced any output yet.
	LastAssistantResponse() (*ProposedResponse, error)

	// Finalize converts a terminal proposal into the agent's final result.
	Finalize(pr ProposedResponse) (any, error)

	// Run sends a message and drives it to a finalized result.
	Run(ctx context.Context, message string) (any, error)
}

// Parent is implemented by delegating agents so nested name stacks can be
// resolved one hop at a time.
type Parent interface {
	Subagent(name string) (Agent, error)
}

// Describer is implemented by agents that carry an LLM-facing description.
type Describer interface {
	Info() (AgentInfo, bool)
}

// AgentInfo describes a sub-agent to the coordinator model that chooses
// between sub-agents. It is prompt material, not runtime configuration.
type AgentInfo struct {
	Description     string   `json:"description" yaml:"description"`
	ExampleMessages []string `json:"example_messages" yaml:"example_messages"`
}

// FormatForPrompt renders the info plus the agent name as indented JSON.
func (i AgentInfo) FormatForPrompt(name string) (string, error) {
	examples := i.ExampleMessages
	if examples == nil {
		examples = []string{}
	}
	b, err := json.MarshalIndent(struct {
		Description     string   `json:"description"`
		ExampleMessages []string `json:"example_messages"`
		Name            string   `json:"name"`
	}{i.Description, examples, name}, "", "    ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
