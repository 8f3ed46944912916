package hub

import (
	"encoding/json"
	"fmt"
	"log"

	"collabfs/internal/crdt"
	"collabfs/internal/protocol"
)

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("hub: missing request payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("hub: decode request payload: %w", err)
	}
	return nil
}

// broadcastChanges turns a document mutation into a step-2 update frame.
// Origin "session"/"restore" has no single originating connection, so
// every live connection gets the frame; any other origin is a connection
// id and is excluded, since that peer is the one that sent it.
func (h *Hub) broadcastChanges(sessionID string, changes []crdt.Change, origin string) {
	rm, ok := h.roomFor(sessionID)
	if !ok {
		return
	}
	exclude := ""
	if origin != "session" && origin != "restore" {
		exclude = origin
	}
	frame := protocol.Sync(protocol.SyncStepUpdate, crdt.EncodeChanges(changes))
	h.broadcastRaw(rm, protocol.Encode(frame), exclude)
}

// broadcastParticipantEvent announces a join or leave to every other
// connection in the room.
func (h *Hub) broadcastParticipantEvent(sessionID, userID, excludeConnID string, joined bool) {
	rm, ok := h.roomFor(sessionID)
	if !ok {
		return
	}
	typ := protocol.ControlParticipantLeave
	if joined {
		typ = protocol.ControlParticipantJoin
	}
	frame, err := protocol.NewParticipantEvent(typ, userID)
	if err != nil {
		return
	}
	h.broadcastRaw(rm, protocol.Encode(frame), excludeConnID)
}

// broadcastActivity relays a presence update to every other connection.
func (h *Hub) broadcastActivity(sessionID, userID string, activity protocol.ActivityFields, excludeConnID string) {
	rm, ok := h.roomFor(sessionID)
	if !ok {
		return
	}
	frame, err := protocol.NewActivityUpdate(userID, activity)
	if err != nil {
		return
	}
	h.broadcastRaw(rm, protocol.Encode(frame), excludeConnID)
}

// broadcastRaw fans data out to every connection in rm except
// excludeConnID, dropping (and closing) any connection whose outbound
// queue is already full rather than blocking the rest of the room.
func (h *Hub) broadcastRaw(rm *room, data []byte, excludeConnID string) {
	rm.connsMu.Lock()
	targets := make([]*conn, 0, len(rm.conns))
	for id, c := range rm.conns {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	rm.connsMu.Unlock()

	for _, c := range targets {
		if !c.trySend(data) {
			log.Printf("hub: conn %s: outbound queue full, dropping", c.id)
			h.removeConn(c)
		}
	}
}
