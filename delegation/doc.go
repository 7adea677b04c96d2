// Package delegation implements the state machines that route one inbound
// message through a set of named sub-agents until a final answer exists.
//
// Two variants are provided:
//
//   - AgentDelegator: a coordinator agent picks the next recipient on every
//     step by emitting the Reasoning/Message/Recipient protocol. Sub-agent
//     output is reported back to the coordinator, which either delegates
//     again or answers (no recipient), finalizing the turn.
//   - LinearDelegator: a fixed pipeline. Each stage's output, optionally
//     transformed by a MessageBuilder, feeds the next stage; the last
//     stage's (transformed) output is the final answer.
//
// A caller drives a turn by calling SendMessage once and then
// ProcessProposedResponse with each returned proposal while
// InProcessingLoop reports true.
//
// Both delegators can be rebuilt from a persisted history tree (SetHistory,
// Resume). An unanswered trailing user message is discarded so the caller
// can resend it, and the active delegate and pending inbound message are
// recovered from the flattened transcript. Resume is only reliable for one
// level of delegation.
//
// Delegators are not safe for concurrent use; a turn is strictly sequential.
package delegation
