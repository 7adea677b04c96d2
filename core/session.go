package core

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by SessionStore.Load for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists encoded history snapshots keyed by session id.
// Stores treat the payload as opaque bytes; encoding and validation belong
// to the codec so a corrupt record never reaches a live agent.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, data []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}
