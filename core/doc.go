// Package core provides the foundational domain types and interfaces used by
// personamesh. It defines the core abstractions for:
//
//   - Messages (immutable role/content/timestamp records)
//   - Histories (the recursive per-agent conversation tree)
//   - Proposed responses (a parsed routing decision for one step)
//   - Agents (the capability every persona exposes to a delegator)
//   - Snapshot stores (persistence of encoded history trees)
//
// Implementation concerns (completion calls, delegation state machines,
// encoding) live in sibling packages so this package stays dependency free.
package core
