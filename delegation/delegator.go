package delegation

import (
	"context"

	"github.com/hupe1980/personamesh/core"
	"github.com/hupe1980/personamesh/history"
	"github.com/hupe1980/personamesh/logging"
)

// Delegator is the routing state machine owned by a delegating agent.
type Delegator interface {
	// Name returns the name of the owning (root) agent.
	Name() string

	// SendMessage starts a turn (or forwards to the active delegate) and
	// returns the resulting proposal.
	SendMessage(ctx context.Context, text string) (core.ProposedResponse, error)

	// ProcessProposedResponse advances the turn by one step.
	ProcessProposedResponse(ctx context.Context, pr core.ProposedResponse) (core.ProposedResponse, error)

	// InProcessingLoop reports whether a turn is open (a pending inbound
	// message exists).
	InProcessingLoop() bool

	// CurrentDelegate returns the active sub-agent, or nil when idle.
	CurrentDelegate() core.Agent

	// PendingMessage returns the inbound message of the open turn.
	PendingMessage() (string, bool)

	// History returns a deep copy of the conversation tree.
	History() *core.History

	// SetHistory restores state from a persisted tree.
	SetHistory(h *core.History) error

	// Resume restores state from a persisted tree and reports what was recovered.
	Resume(h *core.History) (Resumption, error)

	// Subagent returns the named sub-agent.
	Subagent(name string) (core.Agent, error)

	// Subagents returns the sub-agents in registration order.
	Subagents() []core.Agent

	// LastAssistantResponse rebuilds the most recent proposal from history.
	LastAssistantResponse() (*core.ProposedResponse, error)
}

// Resumption describes the state recovered from a snapshot.
type Resumption struct {
	// Discarded is the unanswered message removed from the snapshot; the
	// caller resends it when Pending is empty, otherwise the turn continues
	// by processing LastAssistantResponse.
	Discarded *core.Message
	// DiscardedStack is the owner path of Discarded.
	DiscardedStack []string
	// Pending is the inbound message of the open turn, if any.
	Pending *string
	// Delegate is the name of the active sub-agent, empty when idle.
	Delegate string
}

// InTurn reports whether the snapshot was taken inside an open turn.
func (r Resumption) InTurn() bool { return r.Pending != nil }

// popUnanswered removes the trailing unanswered user message from the tree
// in place. It returns the removed entry and the flattened transcript
// without it.
func popUnanswered(tree *core.History, root string) (*history.FlatEntry, []history.FlatEntry) {
	entries := history.Flatten(tree, root)

	last, ok := history.Last(entries)
	if !ok || !last.Message.IsUser() {
		return nil, entries
	}

	node := tree
	for _, name := range last.Stack[1:] {
		node = node.Subhistories[name]
	}

	node.Messages = removeLast(node.Messages, last.Message)
	if n := len(node.FinalMessages); n > 0 && sameMessage(node.FinalMessages[n-1], last.Message) {
		node.FinalMessages = node.FinalMessages[:n-1]
	}

	return &last, entries[:len(entries)-1]
}

func removeLast(msgs []core.Message, target core.Message) []core.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if sameMessage(msgs[i], target) {
			out := make([]core.Message, 0, len(msgs)-1)
			out = append(out, msgs[:i]...)
			return append(out, msgs[i+1:]...)
		}
	}
	return msgs
}

func sameMessage(a, b core.Message) bool {
	return a.Role == b.Role && a.Content == b.Content && a.Timestamp.Equal(b.Timestamp)
}

func saveSubs(r *Registry) map[string]*core.History {
	subs := make(map[string]*core.History, r.Len())
	for _, a := range r.Agents() {
		subs[a.Name()] = a.History()
	}
	return subs
}

func restoreSubs(r *Registry, subs map[string]*core.History, logger logging.Logger) {
	for _, a := range r.Agents() {
		h, ok := subs[a.Name()]
		if !ok {
			continue
		}
		if err := a.SetHistory(h); err != nil {
			logger.Error("Failed to restore sub-agent history", "agent", a.Name(), "error", err)
		}
	}
}

func cloneMessages(msgs []core.Message) []core.Message {
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out
}

func strPtr(s string) *string { return &s }
