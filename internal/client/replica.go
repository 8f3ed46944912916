// Package client implements the client-side mirror of a session's document:
// the same four CRDT containers as the hub, kept in sync over one
// websocket connection, with reconnect-with-backoff and a heartbeat timer.
//
// Per the structural-op routing decision recorded in DESIGN.md, a
// replica's write_file/move_file/delete_file/update_activity calls are
// requests sent to the hub rather than local transactions: only the hub
// ever runs the precondition check against the authoritative merged
// document, so the replica's own copy is mutated exclusively by applying
// inbound sync frames (origin "hub"), never by a locally optimistic edit.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"collabfs/internal/crdt"
	"collabfs/internal/model"
	"collabfs/internal/protocol"
	"collabfs/internal/session"
)

// Config carries everything a Replica needs to reach and join one hub
// session.
type Config struct {
	// HubURL is the hub's base address, e.g. "ws://localhost:8080".
	HubURL    string
	SessionID string
	UserID    string

	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	return c
}

// Replica is one client's mirror of a session's document plus its
// connection lifecycle. The embedded document is the same type the hub's
// Session wraps; Replica adds the networking half.
type Replica struct {
	cfg Config
	doc *crdt.Document

	mu        sync.Mutex
	ws        *websocket.Conn
	send      chan []byte
	connected bool

	closed    chan struct{}
	closeOnce sync.Once
	lastErr   error

	joined chan model.SessionStats
}

// New creates a disconnected Replica. Call Connect to open the stream.
func New(cfg Config) *Replica {
	cfg = cfg.withDefaults()
	return &Replica{
		cfg:    cfg,
		doc:    crdt.NewDocument(cfg.UserID),
		closed: make(chan struct{}),
		joined: make(chan model.SessionStats, 1),
	}
}

// WaitJoined blocks until the hub's "joined" frame arrives (or ctx expires),
// returning the session stats it carried. The channel buffers one joined
// frame: a reconnect's joined frame is buffered if the previous one was
// already consumed, and dropped otherwise.
func (r *Replica) WaitJoined(ctx context.Context) (model.SessionStats, error) {
	select {
	case stats := <-r.joined:
		return stats, nil
	case <-ctx.Done():
		return model.SessionStats{}, ctx.Err()
	}
}

// Document exposes the local mirror for reads and for registering a
// change listener — the hook a disk-mirroring adapter uses to learn about
// network-originated updates (bytes + origin), per the public interface.
func (r *Replica) Document() *crdt.Document {
	return r.doc
}

// Connect dials the hub, performs the join handshake, and starts the
// read/write/heartbeat goroutines. It returns once the initial connection
// succeeds; subsequent disconnects are handled internally by the
// reconnect loop until attempts are exhausted.
func (r *Replica) Connect(ctx context.Context) error {
	if err := r.dialAndJoin(ctx); err != nil {
		return err
	}
	return nil
}

func (r *Replica) wsURL() (string, error) {
	u, err := url.Parse(r.cfg.HubURL)
	if err != nil {
		return "", fmt.Errorf("client: parse hub url: %w", err)
	}
	u.Path = fmt.Sprintf("/ws/session/%s", r.cfg.SessionID)
	return u.String(), nil
}

func (r *Replica) dialAndJoin(ctx context.Context) error {
	target, err := r.wsURL()
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", target, err)
	}

	r.mu.Lock()
	r.ws = ws
	r.send = make(chan []byte, 256)
	r.connected = true
	r.mu.Unlock()

	join, err := protocol.EncodeControl(protocol.Control{
		Type:      protocol.ControlJoin,
		UserID:    r.cfg.UserID,
		SessionID: r.cfg.SessionID,
	})
	if err != nil {
		ws.Close()
		return err
	}

	go r.writePump()
	r.trySend(protocol.Encode(join))

	// The other half of the bidirectional handshake: announce what this
	// replica already has, so the hub can answer with exactly what it is
	// missing (S4 — reconnect resync relies on this on every (re)connect).
	sv := crdt.EncodeStateVector(r.doc.StateVector())
	r.trySend(protocol.Encode(protocol.Sync(protocol.SyncStepVector, sv)))

	go r.heartbeatLoop()
	go r.readLoop(ctx)

	return nil
}

func (r *Replica) trySend(data []byte) {
	r.mu.Lock()
	ch := r.send
	r.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- data:
	default:
		log.Printf("client: outbound queue full, dropping frame")
	}
}

func (r *Replica) writePump() {
	r.mu.Lock()
	ws, ch := r.ws, r.send
	r.mu.Unlock()

	for data := range ch {
		if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

func (r *Replica) heartbeatLoop() {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f, err := protocol.EncodeControl(protocol.Control{
				Type:      protocol.ControlHeartbeat,
				UserID:    r.cfg.UserID,
				SessionID: r.cfg.SessionID,
			})
			if err != nil {
				continue
			}
			if !r.isConnected() {
				return
			}
			r.trySend(protocol.Encode(f))
		case <-r.closed:
			return
		}
	}
}

func (r *Replica) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// readLoop consumes frames until the stream breaks, then hands off to the
// reconnect loop. It only returns for good once reconnection is exhausted
// or Close was called.
func (r *Replica) readLoop(ctx context.Context) {
	for {
		r.mu.Lock()
		ws := r.ws
		r.mu.Unlock()

		_, data, err := ws.ReadMessage()
		if err != nil {
			r.handleDisconnect(ctx, err)
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			log.Printf("client: %v", err)
			continue
		}
		r.dispatch(f)
	}
}

func (r *Replica) dispatch(f protocol.Frame) {
	switch f.Kind {
	case protocol.KindSync:
		r.handleSync(f)
	case protocol.KindCustom:
		r.handleControl(f)
	case protocol.KindAwareness:
		// Pure relay; this core has no awareness consumer of its own.
	}
}

func (r *Replica) handleSync(f protocol.Frame) {
	switch f.SyncStep {
	case protocol.SyncStepVector:
		remote, err := crdt.DecodeStateVector(f.Payload)
		if err != nil {
			log.Printf("client: decode state vector: %v", err)
			return
		}
		missing := r.doc.Diff(remote)
		answer := protocol.Sync(protocol.SyncStepAnswer, crdt.EncodeChanges(missing))
		r.trySend(protocol.Encode(answer))
	case protocol.SyncStepAnswer, protocol.SyncStepUpdate:
		changes, err := crdt.DecodeChanges(f.Payload)
		if err != nil {
			log.Printf("client: decode changes: %v", err)
			return
		}
		// origin "hub" suppresses re-broadcast: nothing in this package
		// ever sends on origin other than the local listener hooks a
		// disk-mirror adapter might install, and those only fire on
		// locally-originated transactions, which this replica no longer
		// performs for mutating operations (see the routing note above).
		r.doc.ApplyUpdate(changes, "hub")
	}
}

func (r *Replica) handleControl(f protocol.Frame) {
	ctrl, err := protocol.DecodeControl(f)
	if err != nil {
		log.Printf("client: %v", err)
		return
	}
	switch ctrl.Type {
	case protocol.ControlError:
		log.Printf("client: hub reported error: %s", ctrl.Error)
	case protocol.ControlJoined:
		var data protocol.JoinedData
		if err := json.Unmarshal(ctrl.Data, &data); err == nil {
			select {
			case r.joined <- data.Stats:
			default:
			}
		}
	case protocol.ControlParticipantJoin, protocol.ControlParticipantLeave, protocol.ControlActivityUpdate:
		// Presence/roster bookkeeping is an adapter concern above this
		// core; the underlying activity container is already kept
		// current by the sync broadcast the hub's own transaction
		// produces.
	}
}

// handleDisconnect tears down the current connection and hands off to the
// bounded-backoff reconnect loop.
func (r *Replica) handleDisconnect(ctx context.Context, cause error) {
	r.mu.Lock()
	r.connected = false
	if r.ws != nil {
		r.ws.Close()
	}
	if r.send != nil {
		close(r.send)
		r.send = nil
	}
	r.mu.Unlock()

	select {
	case <-r.closed:
		return
	default:
	}

	if err := r.reconnect(ctx); err != nil {
		r.mu.Lock()
		r.lastErr = fmt.Errorf("%w: %v (last error: %v)", model.ErrPermanentDisconnect, err, cause)
		r.mu.Unlock()
		log.Printf("client: %v", r.lastErr)
	}
}

// reconnect retries dialAndJoin with exponential backoff (base 1s, factor
// 2) bounded to MaxReconnectAttempts. cenkalti/backoff v2's BackOff
// interface has no built-in attempt cap, so the count is enforced here
// directly rather than via a retries-wrapper helper.
func (r *Replica) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxReconnectAttempts; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closed:
			return fmt.Errorf("client: closed during reconnect")
		}

		if err := r.dialAndJoin(ctx); err != nil {
			lastErr = err
			log.Printf("client: reconnect attempt %d/%d failed: %v", attempt, r.cfg.MaxReconnectAttempts, err)
			continue
		}
		log.Printf("client: reconnected on attempt %d", attempt)
		return nil
	}
	return fmt.Errorf("client: exhausted %d reconnect attempts: %w", r.cfg.MaxReconnectAttempts, lastErr)
}

// Err reports the terminal disconnect error once reconnection has been
// exhausted, nil otherwise.
func (r *Replica) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Close ends the connection and prevents further reconnect attempts.
func (r *Replica) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws != nil {
		return r.ws.Close()
	}
	return nil
}

// ListFiles and ReadFile serve directly from the local mirror: both are
// pure reads against the merged document, which is always eventually
// consistent with the hub's.
func (r *Replica) ListFiles(prefix string) []session.FileEntry {
	var out []session.FileEntry
	for _, path := range r.doc.ListFiles() {
		if !hasPrefix(path, prefix) {
			continue
		}
		meta, _ := r.doc.FileMeta(path)
		out = append(out, session.FileEntry{Path: path, Meta: meta})
	}
	return out
}

func hasPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(prefix) > len(path) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func (r *Replica) ReadFile(path string) (string, error) {
	return r.doc.ReadFile(path)
}

// WriteFile, MoveFile, DeleteFile and UpdateActivity send requests to the
// hub; they do not mutate the local document directly. The hub's
// resulting broadcast — which always reaches every connection, including
// the requester's — is what updates this replica's mirror.
func (r *Replica) WriteFile(path, content string, mode model.WriteMode) error {
	f, err := protocol.NewWriteFileRequest(r.cfg.UserID, r.cfg.SessionID, path, content, mode)
	if err != nil {
		return err
	}
	r.trySend(protocol.Encode(f))
	return nil
}

func (r *Replica) MoveFile(oldPath, newPath string) error {
	f, err := protocol.NewMoveFileRequest(r.cfg.UserID, r.cfg.SessionID, oldPath, newPath)
	if err != nil {
		return err
	}
	r.trySend(protocol.Encode(f))
	return nil
}

func (r *Replica) DeleteFile(path string) error {
	f, err := protocol.NewDeleteFileRequest(r.cfg.UserID, r.cfg.SessionID, path)
	if err != nil {
		return err
	}
	r.trySend(protocol.Encode(f))
	return nil
}

func (r *Replica) UpdateActivity(action model.ActivityAction, currentFile string) error {
	f, err := protocol.EncodeControl(protocol.Control{
		Type:      protocol.ControlUpdateActivity,
		UserID:    r.cfg.UserID,
		SessionID: r.cfg.SessionID,
		Activity:  &protocol.ActivityFields{Action: action, CurrentFile: currentFile},
	})
	if err != nil {
		return err
	}
	r.trySend(protocol.Encode(f))
	return nil
}
