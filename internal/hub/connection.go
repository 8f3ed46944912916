package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"collabfs/internal/crdt"
	"collabfs/internal/diffutil"
	"collabfs/internal/middleware"
	"collabfs/internal/model"
	"collabfs/internal/protocol"
)

// conn is one live websocket connection: a room membership plus the
// outbound queue writePump drains. Reads and writes happen on separate
// goroutines, matching the teacher's ReadPump/WritePump split; send is the
// only thing shared between them, and it is only ever closed once.
type conn struct {
	id  string
	ws  *websocket.Conn
	hub *Hub

	send chan []byte

	sessionID string
	userID    string

	mu         sync.Mutex
	lastSeenAt time.Time

	closeOnce sync.Once
}

func (c *conn) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

func (c *conn) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeenAt
}

// trySend enqueues data without blocking. A full queue means the peer is
// too slow to keep up; the caller treats false as "drop this connection"
// rather than stalling every other peer in the room.
func (c *conn) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
		close(c.send)
	})
}

// writePump drains send onto the websocket and pings the transport on an
// interval, so a connection with nothing to relay still proves it is
// alive.
func (c *conn) writePump() {
	interval := c.hub.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// readLoop owns the connection's lifetime: it decodes every inbound frame
// and dispatches it, and always unwinds through the hub's removeConn on
// exit, whatever the reason (read error, malformed frame, explicit leave).
func (c *conn) readLoop(ctx context.Context) {
	defer c.hub.removeConn(c)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		f, err := protocol.Decode(data)
		if err != nil {
			log.Printf("hub: conn %s: %v", c.id, err)
			return
		}

		if c.sessionID == "" && !isJoinFrame(f) {
			log.Printf("hub: conn %s: frame before join: %v", c.id, model.ErrUnknownSession)
			return
		}

		switch f.Kind {
		case protocol.KindCustom:
			if !c.handleControl(ctx, f) {
				return
			}
		case protocol.KindSync:
			c.handleSync(f)
		case protocol.KindAwareness:
			c.handleAwareness(data)
		}
	}
}

func isJoinFrame(f protocol.Frame) bool {
	if f.Kind != protocol.KindCustom {
		return false
	}
	ctrl, err := protocol.DecodeControl(f)
	return err == nil && ctrl.Type == protocol.ControlJoin
}

// handleControl dispatches one decoded custom frame. It returns false when
// the connection should be torn down (explicit leave, or a decode
// failure).
func (c *conn) handleControl(ctx context.Context, f protocol.Frame) bool {
	ctrl, err := protocol.DecodeControl(f)
	if err != nil {
		log.Printf("hub: conn %s: %v", c.id, err)
		return false
	}

	switch ctrl.Type {
	case protocol.ControlJoin:
		c.handleJoin(ctx, ctrl)
	case protocol.ControlLeave:
		return false
	case protocol.ControlHeartbeat:
		// touch() on every inbound frame already satisfies this.
	case protocol.ControlUpdateActivity:
		c.handleUpdateActivity(ctrl)
	case protocol.ControlWriteFile:
		c.handleWriteFile(ctrl)
	case protocol.ControlMoveFile:
		c.handleMoveFile(ctx, ctrl)
	case protocol.ControlDeleteFile:
		c.handleDeleteFile(ctrl)
	default:
		log.Printf("hub: conn %s: unexpected control type %q", c.id, ctrl.Type)
	}
	return true
}

func (c *conn) handleJoin(ctx context.Context, ctrl protocol.Control) {
	c.sessionID = ctrl.SessionID
	c.userID = ctrl.UserID

	rm := c.hub.getOrCreateRoom(ctx, c.sessionID)

	rm.connsMu.Lock()
	rm.conns[c.id] = c
	rm.emptiedAt = time.Time{}
	rm.connsMu.Unlock()

	rm.sess.AddParticipant(c.userID)

	joined, err := protocol.NewJoined(c.sessionID, rm.sess.Stats())
	if err == nil {
		c.trySend(protocol.Encode(joined))
	}

	c.hub.broadcastParticipantEvent(c.sessionID, c.userID, c.id, true)

	// Announce the hub's own state so the new peer can answer with what
	// it has that the hub is missing, the other half of the bidirectional
	// handshake alongside the step-0 vector the peer sends on its own.
	sv := crdt.EncodeStateVector(rm.sess.Document().StateVector())
	c.trySend(protocol.Encode(protocol.Sync(protocol.SyncStepVector, sv)))
}

func (c *conn) handleUpdateActivity(ctrl protocol.Control) {
	if ctrl.Activity == nil {
		return
	}
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}

	userID := ctrl.UserID
	if userID == "" {
		userID = c.userID
	}

	var partial model.ActivityPartial
	if ctrl.Activity.Action != "" {
		action := ctrl.Activity.Action
		partial.Action = &action
	}
	if ctrl.Activity.CurrentFile != "" {
		file := ctrl.Activity.CurrentFile
		partial.CurrentFile = &file
	}
	rm.sess.UpdateActivity(userID, partial, time.Now().UnixMilli())

	// Forward the lighter-weight custom frame directly, on top of the
	// step-2 sync broadcast UpdateActivity's own transaction already
	// triggers: the two ways of hearing about the same change are
	// redundant but harmless, since applying a change twice is a no-op.
	c.hub.broadcastActivity(c.sessionID, userID, *ctrl.Activity, c.id)
}

func (c *conn) handleWriteFile(ctrl protocol.Control) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}
	var req protocol.WriteFileRequest
	if err := decodeData(ctrl.Data, &req); err != nil {
		c.sendError(err.Error())
		return
	}
	rm.sess.WriteFile(req.Path, req.Content, ctrl.UserID, req.Mode, time.Now().UnixMilli())
}

func (c *conn) handleMoveFile(ctx context.Context, ctrl protocol.Control) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}
	var req protocol.MoveFileRequest
	if err := decodeData(ctrl.Data, &req); err != nil {
		c.sendError(err.Error())
		return
	}

	// DestinationExists means two writers raced to the same new path; the
	// loser's would-be content is still readable from the session a moment
	// before MoveFile logs the failure, so grab it first for the trace diff.
	var losingContent string
	if req.NewPath != "" {
		losingContent, _ = rm.sess.ReadFile(req.OldPath)
	}

	res := rm.sess.MoveFile(req.OldPath, req.NewPath, ctrl.UserID, time.Now().UnixMilli())
	if !res.Success {
		c.sendError(res.Err.Error())
		if res.Err == model.ErrDestinationExists {
			c.traceMoveRace(ctx, req.NewPath, losingContent)
		}
	}
}

// traceMoveRace attaches a unified diff between the content that already
// occupies newPath and the content this connection tried to move there, so
// the race is debuggable from the trace alone rather than from the bare
// DestinationExists error.
func (c *conn) traceMoveRace(ctx context.Context, newPath, losingContent string) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}
	winningContent, err := rm.sess.ReadFile(newPath)
	if err != nil {
		return
	}
	diff := diffutil.Unified(newPath, winningContent, losingContent)
	middleware.AddSpanEvent(ctx, "hub.move_race",
		attribute.String("session.id", c.sessionID),
		attribute.String("path", newPath),
		attribute.String("diff", diff),
	)
}

func (c *conn) handleDeleteFile(ctrl protocol.Control) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}
	var req protocol.DeleteFileRequest
	if err := decodeData(ctrl.Data, &req); err != nil {
		c.sendError(err.Error())
		return
	}
	res := rm.sess.DeleteFile(req.Path, ctrl.UserID, time.Now().UnixMilli())
	if !res.Success {
		c.sendError(res.Err.Error())
	}
}

func (c *conn) sendError(message string) {
	f, err := protocol.NewError(message)
	if err != nil {
		return
	}
	c.trySend(protocol.Encode(f))
}

// handleSync answers a step-0 vector directly (never broadcast, it is only
// meaningful to the asker), and applies an inbound step-1/step-2 update
// against the room's document, which lets the document's own listener take
// care of relaying it onward.
func (c *conn) handleSync(f protocol.Frame) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}

	switch f.SyncStep {
	case protocol.SyncStepVector:
		remote, err := crdt.DecodeStateVector(f.Payload)
		if err != nil {
			log.Printf("hub: conn %s: decode state vector: %v", c.id, err)
			return
		}
		missing := rm.sess.Document().Diff(remote)
		answer := protocol.Sync(protocol.SyncStepAnswer, crdt.EncodeChanges(missing))
		c.trySend(protocol.Encode(answer))
	case protocol.SyncStepAnswer, protocol.SyncStepUpdate:
		changes, err := crdt.DecodeChanges(f.Payload)
		if err != nil {
			log.Printf("hub: conn %s: decode changes: %v", c.id, err)
			return
		}
		rm.sess.Document().ApplyUpdate(changes, c.id)
	}
}

// handleAwareness relays cursor/presence bytes verbatim; the hub never
// interprets them.
func (c *conn) handleAwareness(raw []byte) {
	rm, ok := c.hub.roomFor(c.sessionID)
	if !ok {
		return
	}
	c.hub.broadcastRaw(rm, raw, c.id)
}
