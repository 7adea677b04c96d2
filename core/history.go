package core

// History is the recursive conversation tree owned by one agent.
//
// Contract:
//   - Messages is the agent's own local exchange. For a delegating agent it
//     holds only the coordinator-facing turns; sub-agent turns live in
//     Subhistories.
//   - FinalMessages is the externally meaningful subset: inbound user turns
//     and finalized outbound turns. It is always a subsequence of Messages
//     for non-delegating agents (where the two are identical).
//   - Subhistories is keyed by stable sub-agent name. Entries appear the
//     first time a sub-agent is engaged.
//
// A History is exclusively owned by its agent; callers receive clones.
type History struct {
	Messages      []Message           `json:"messages"`
	FinalMessages []Message           `json:"final_messages"`
	Subhistories  map[string]*History `json:"subhistories"`
}

// NewHistory returns an empty history with initialized collections.
func NewHistory() *History {
	return &History{
		Messages:      []Message{},
		FinalMessages: []Message{},
		Subhistories:  map[string]*History{},
	}
}

// Clone performs a deep copy so the result can diverge independently.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	clone := &History{
		Messages:      cloneMessages(h.Messages),
		FinalMessages: cloneMessages(h.FinalMessages),
		Subhistories:  make(map[string]*History, len(h.Subhistories)),
	}
	for name, sub := range h.Subhistories {
		clone.Subhistories[name] = sub.Clone()
	}
	return clone
}

// Sub returns the named subhistory, or nil when the sub-agent was never engaged.
func (h *History) Sub(name string) *History {
	if h == nil || h.Subhistories == nil {
		return nil
	}
	return h.Subhistories[name]
}

// LastFinal returns the most recent final message, if any.
func (h *History) LastFinal() (Message, bool) {
	if h == nil || len(h.FinalMessages) == 0 {
		return Message{}, false
	}
	return h.FinalMessages[len(h.FinalMessages)-1], true
}

// Len returns the number of local messages across the whole tree.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	n := len(h.Messages)
	for _, sub := range h.Subhistories {
		n += sub.Len()
	}
	return n
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
