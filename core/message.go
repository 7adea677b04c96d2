package core

import (
	"fmt"
	"time"
)

// Role identifies the author class of a Message.
type Role string

const (
	// RoleUser marks inbound messages (from a human or from a delegator).
	RoleUser Role = "user"
	// RoleSystem marks prompt / instruction messages.
	RoleSystem Role = "system"
	// RoleAssistant marks completions produced by a model.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSystem, RoleAssistant:
		return true
	default:
		return false
	}
}

// ParseRole converts a raw role string into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// Message is a single conversational record. After creation it should be
// treated as immutable; it is passed and stored by value.
//
// Timestamps carry microsecond precision in UTC so a persisted message
// decodes back to an identical value.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the given instant.
func NewMessage(role Role, content string, ts time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: NormalizeTime(ts)}
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(content string, ts time.Time) Message {
	return NewMessage(RoleUser, content, ts)
}

// NewSystemMessage creates a system (instruction) message.
func NewSystemMessage(content string, ts time.Time) Message {
	return NewMessage(RoleSystem, content, ts)
}

// NewAssistantMessage creates a model-authored message.
func NewAssistantMessage(content string, ts time.Time) Message {
	return NewMessage(RoleAssistant, content, ts)
}

// IsUser reports whether the message was authored by the user role.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// IsSystem reports whether the message is a system message.
func (m Message) IsSystem() bool { return m.Role == RoleSystem }

// IsAssistant reports whether the message was produced by a model.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// String renders a compact debug representation.
func (m Message) String() string {
	return fmt.Sprintf("[%s] %s", m.Role, m.Content)
}

// NormalizeTime strips the monotonic reading, converts to UTC and truncates
// to microseconds, the precision of the persisted record.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Clock supplies message timestamps. Delegators and messengers accept a
// Clock so tests can produce strictly increasing, deterministic instants.
type Clock func() time.Time

// SystemClock returns the current wall clock time.
func SystemClock() time.Time { return time.Now() }

// Now returns the clock reading, falling back to the system clock when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return SystemClock()
	}
	return c()
}
