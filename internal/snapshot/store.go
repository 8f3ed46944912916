// Package snapshot implements key-value persistence of
// opaque per-session CRDT state. Store is intentionally narrow — put/get
// over a session id — so the hub can swap backends without touching any
// other package, the same "repository sitting behind an interface" shape a
// pluggable update-log persistence layer would use.
package snapshot

import "context"

// Store persists and retrieves one opaque blob per session id. Get
// reports ok=false both when nothing has ever been stored for id and when
// the stored bytes are corrupt — callers MUST treat both cases as "start
// fresh", per the torn-snapshot tolerance contract.
type Store interface {
	Put(ctx context.Context, sessionID string, data []byte) error
	Get(ctx context.Context, sessionID string) (data []byte, ok bool, err error)
	Close() error
}
