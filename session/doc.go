// Package session houses concrete implementations of core.SessionStore.
// The interface itself lives in core so higher level packages never depend
// on concrete storage. Stores keep encoded history snapshots as opaque
// bytes keyed by session id; encoding belongs to the codec package.
//
// Additional backends live in sub-packages (sqlite, redis); only the wiring
// layer decides which implementation to instantiate.
package session
