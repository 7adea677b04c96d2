package testutil

import (
	"time"

	"github.com/hupe1980/personamesh/core"
)

// HistoryBuilder helps construct history trees with fluent chaining.
// Every added message takes the next reading of the builder's clock unless
// At is used. Example:
//
//	h := NewHistoryBuilder(clk).User("hi").Final().Assistant("hello").Final().
//		Sub("writer", NewHistoryBuilder(clk).User("draft").Build()).Build()
type HistoryBuilder struct {
	clock *TickingClock
	h     *core.History
	at    *time.Time
}

// NewHistoryBuilder creates a builder stamping messages from clock.
// A nil clock gets a fresh TickingClock.
func NewHistoryBuilder(clock *TickingClock) *HistoryBuilder {
	if clock == nil {
		clock = NewTickingClock()
	}
	return &HistoryBuilder{clock: clock, h: core.NewHistory()}
}

// At pins the timestamp of the next added message (chainable).
func (b *HistoryBuilder) At(ts time.Time) *HistoryBuilder { b.at = &ts; return b }

// User appends a user message (chainable).
func (b *HistoryBuilder) User(content string) *HistoryBuilder {
	return b.add(core.RoleUser, content)
}

// System appends a system message (chainable).
func (b *HistoryBuilder) System(content string) *HistoryBuilder {
	return b.add(core.RoleSystem, content)
}

// Assistant appends an assistant message (chainable).
func (b *HistoryBuilder) Assistant(content string) *HistoryBuilder {
	return b.add(core.RoleAssistant, content)
}

// Final copies the most recently added message into FinalMessages (chainable).
func (b *HistoryBuilder) Final() *HistoryBuilder {
	if n := len(b.h.Messages); n > 0 {
		b.h.FinalMessages = append(b.h.FinalMessages, b.h.Messages[n-1])
	}
	return b
}

// Sub attaches a subhistory under name (chainable).
func (b *HistoryBuilder) Sub(name string, sub *core.History) *HistoryBuilder {
	b.h.Subhistories[name] = sub
	return b
}

// Build returns the assembled history.
func (b *HistoryBuilder) Build() *core.History { return b.h }

func (b *HistoryBuilder) add(role core.Role, content string) *HistoryBuilder {
	ts := b.clock.Now()
	if b.at != nil {
		ts = *b.at
		b.at = nil
	}
	b.h.Messages = append(b.h.Messages, core.NewMessage(role, content, ts))
	return b
}
