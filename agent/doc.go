// Package agent contains the persona implementations consumed by the
// delegation engines. The package focuses on three concerns:
//
//  1. Completion plumbing (Messenger, PromptTemplate)
//  2. Single completion personas (BasicAgent)
//  3. Routing personas driven by a delegation.Delegator (DelegatingAgent)
//
// Both persona kinds implement core.Agent and are told apart by core.Kind.
// Per-instance behavior (post-processing of a basic agent's answer, the
// finalizer of a delegating agent) is set at construction through options.
//
// Execution model:
//   - Send delivers one message and returns a proposal
//   - DelegatingAgent.Process advances an open turn by one step
//   - Run drives a turn to its finalized result
//
// A messenger is the only place a completion call happens; it retries
// transient failures with linear backoff and leaves history untouched when
// a call finally fails.
package agent
