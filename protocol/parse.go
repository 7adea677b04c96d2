package protocol

import (
	"strings"

	"github.com/hupe1980/personamesh/core"
)

// Fence is the delimiter separating label and value fragments.
const Fence = "```"

type field int

const (
	fieldNone field = iota
	fieldReasoning
	fieldRecipient
	fieldMessage
)

// Parse decodes a completion into a ProposedResponse.
//
// The text is split on fences and blank fragments are dropped. The scan is
// single pass: a fragment naming a field is a label and the fragment right
// after it is that field's value. Values are never rescanned for labels.
// A reasoning or recipient value of "null" leaves the field absent. The
// message is taken verbatim, "null" included, and a later message block
// replaces an earlier one. A missing message yields a *core.ProtocolError.
func Parse(text string) (core.ProposedResponse, error) {
	var (
		pending   field
		message   string
		haveMsg   bool
		reasoning *string
		recipient *string
	)

	for _, frag := range strings.Split(text, Fence) {
		trimmed := strings.TrimSpace(frag)
		if trimmed == "" {
			continue
		}

		if pending != fieldNone {
			value, ok := valueOf(trimmed)
			switch pending {
			case fieldReasoning:
				if ok {
					reasoning = &value
				}
			case fieldRecipient:
				if ok {
					recipient = &value
				}
			case fieldMessage:
				message, haveMsg = trimmed, true
			}
			pending = fieldNone
			continue
		}

		pending = labelOf(trimmed)
	}

	if !haveMsg {
		return core.ProposedResponse{}, &core.ProtocolError{Raw: text}
	}

	return core.ProposedResponse{
		Message:   message,
		Recipient: recipient,
		Reasoning: reasoning,
	}, nil
}

// labelOf classifies a fragment. Priority is reasoning, recipient, message.
func labelOf(fragment string) field {
	lower := strings.ToLower(fragment)
	switch {
	case strings.Contains(lower, "reasoning"):
		return fieldReasoning
	case strings.Contains(lower, "recipient"):
		return fieldRecipient
	case strings.Contains(lower, "message"):
		return fieldMessage
	default:
		return fieldNone
	}
}

func valueOf(trimmed string) (string, bool) {
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	return trimmed, true
}

// Format renders a ProposedResponse back into the wire protocol. Absent
// fields are written as null.
func Format(pr core.ProposedResponse) string {
	var sb strings.Builder
	writeBlock(&sb, "Reasoning", pr.Reasoning)
	sb.WriteString("\n")
	msg := pr.Message
	writeBlock(&sb, "Message", &msg)
	sb.WriteString("\n")
	writeBlock(&sb, "Recipient", pr.Recipient)
	return sb.String()
}

func writeBlock(sb *strings.Builder, header string, value *string) {
	sb.WriteString("## ")
	sb.WriteString(header)
	sb.WriteString("\n")
	sb.WriteString(Fence)
	sb.WriteString("\n")
	if value == nil {
		sb.WriteString("null")
	} else {
		sb.WriteString(*value)
	}
	sb.WriteString("\n")
	sb.WriteString(Fence)
	sb.WriteString("\n")
}
