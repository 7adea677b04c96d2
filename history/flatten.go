// Package history converts the nested per-agent conversation tree into a
// single chronological transcript annotated with the delegation stack that
// owns each message.
package history

import (
	"sort"
	"strings"

	"github.com/hupe1980/personamesh/core"
)

// FlatEntry is one message of a flattened tree. Stack is the path of agent
// names from the root agent down to the agent owning Message.
type FlatEntry struct {
	Stack   []string
	Message core.Message
}

// Owner returns the name of the agent that owns the message.
func (e FlatEntry) Owner() string {
	if len(e.Stack) == 0 {
		return ""
	}
	return e.Stack[len(e.Stack)-1]
}

// Depth returns the number of delegation hops below the root.
func (e FlatEntry) Depth() int {
	if len(e.Stack) == 0 {
		return 0
	}
	return len(e.Stack) - 1
}

// DelegateOf returns the stack element directly after root, i.e. the root's
// immediate delegate on the path to the owner. ok is false when the entry is
// owned by root itself or root is not on the stack.
func (e FlatEntry) DelegateOf(root string) (string, bool) {
	for i, name := range e.Stack {
		if name == root {
			if i+1 < len(e.Stack) {
				return e.Stack[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// Path renders the stack as "root > child > grandchild".
func (e FlatEntry) Path() string { return strings.Join(e.Stack, " > ") }

type workItem struct {
	stack   []string
	history *core.History
}

// Flatten walks h breadth first, root first, emitting one entry per local
// message, then stable-sorts the full set by timestamp. Ties keep traversal
// order. Sibling subhistories are visited in name order so flattening the
// same tree always yields the same sequence.
func Flatten(h *core.History, rootName string) []FlatEntry {
	if h == nil {
		return nil
	}

	var entries []FlatEntry
	queue := []workItem{{stack: []string{rootName}, history: h}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, m := range item.history.Messages {
			entries = append(entries, FlatEntry{Stack: item.stack, Message: m})
		}

		for _, name := range SubNames(item.history) {
			stack := make([]string, len(item.stack)+1)
			copy(stack, item.stack)
			stack[len(item.stack)] = name
			queue = append(queue, workItem{stack: stack, history: item.history.Subhistories[name]})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Message.Timestamp.Before(entries[j].Message.Timestamp)
	})

	return entries
}

// SubNames returns the subhistory names of h in sorted order.
func SubNames(h *core.History) []string {
	if h == nil || len(h.Subhistories) == 0 {
		return nil
	}
	names := make([]string, 0, len(h.Subhistories))
	for name, sub := range h.Subhistories {
		if sub != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Last returns the final entry of a flattened transcript.
func Last(entries []FlatEntry) (FlatEntry, bool) {
	if len(entries) == 0 {
		return FlatEntry{}, false
	}
	return entries[len(entries)-1], true
}

// LastOfRole scans backward for the most recent entry authored by role.
func LastOfRole(entries []FlatEntry, role core.Role) (FlatEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Message.Role == role {
			return entries[i], true
		}
	}
	return FlatEntry{}, false
}
