// Package hub implements the central relay+applicator: it accepts
// websocket connections, registers them against sessions, relays sync and
// awareness frames between peers, applies hub-authoritative structural
// operations, persists periodic snapshots, and drains every session on
// graceful shutdown.
//
// The shape is the direct generalization of a register/unregister/broadcast
// channel-driven session manager: one room per session id, one goroutine
// per connection for reads and writes, a non-blocking broadcast that drops
// slow peers instead of stalling the room.
package hub

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"collabfs/internal/crdt"
	"collabfs/internal/middleware"
	"collabfs/internal/session"
	"collabfs/internal/snapshot"
)

// Config carries the tunables the hub needs that aren't wire-protocol
// constants: how often to snapshot, how long a silent connection is
// tolerated, and the per-connection outbound queue limit before a peer is
// considered too slow.
type Config struct {
	SnapshotInterval          time.Duration
	HeartbeatInterval         time.Duration
	HeartbeatTimeout          time.Duration
	BackpressureHighWaterMark int
}

// Hub owns every live session room and the snapshot store backing them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*room

	store snapshot.Store
	cfg   Config

	upgrader websocket.Upgrader
	cron     *cron.Cron
}

// room is one session's set of live connections.
type room struct {
	sess *session.Session

	connsMu   sync.Mutex
	conns     map[string]*conn // connection id -> conn
	emptiedAt time.Time        // zero while participants remain
}

// New creates a Hub backed by store, with the websocket upgrader
// permissive on origin the way the teacher's collaboration package is
// (origin validation is out of this core's scope, per the Non-goals on
// authentication/authorization).
func New(store snapshot.Store, cfg Config) *Hub {
	return &Hub{
		sessions: make(map[string]*room),
		store:    store,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the mux router exposing the websocket upgrade endpoint and
// a health/stats endpoint, the two adapters named as living outside the
// core but worth the one-line route.
func (h *Hub) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.HandleFunc("/ws/session/{id}", h.handleUpgrade)
	r.HandleFunc("/healthz", h.handleHealthz).Methods("GET")
	return r
}

func (h *Hub) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, n)
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "Hub.Connect",
		attribute.String("session.id", mux.Vars(r)["id"]))
	defer span.End()

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   wsConn,
		hub:  h,
		send: make(chan []byte, h.cfg.BackpressureHighWaterMark),
	}
	c.touch()
	go c.writePump()
	c.readLoop(ctx)
}

// getOrCreateRoom returns the room for sessionID, restoring from the
// snapshot store and wiring the change listener the first time this
// process sees the session.
func (h *Hub) getOrCreateRoom(ctx context.Context, sessionID string) *room {
	h.mu.Lock()
	if rm, ok := h.sessions[sessionID]; ok {
		h.mu.Unlock()
		return rm
	}
	sess := session.New(sessionID, sessionID, time.Now().UnixMilli())
	rm := &room{sess: sess, conns: make(map[string]*conn)}
	h.sessions[sessionID] = rm
	h.mu.Unlock()

	if data, ok, err := h.store.Get(ctx, sessionID); err != nil {
		log.Printf("hub: snapshot get %q: %v", sessionID, err)
	} else if ok {
		if err := sess.RestoreFrom(data); err != nil {
			log.Printf("hub: snapshot restore %q: %v", sessionID, err)
		}
	}

	// One listener per session translates every document mutation —
	// hub-authoritative writes, activity updates, and peer-applied sync
	// answers alike — into a step-2 broadcast. Origin "session"/"restore"
	// means the change has no single originating connection, so every
	// live connection gets it; any other origin is a connection id, so
	// that connection is excluded (it already has what it just sent).
	sess.Document().OnUpdate(func(changes []crdt.Change, origin string) {
		h.broadcastChanges(sessionID, changes, origin)
	})

	return rm
}

func (h *Hub) roomFor(sessionID string) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.sessions[sessionID]
	return rm, ok
}

// removeConn drops c from its room, and if that empties the room's
// participant set, snapshots and evicts the session immediately (the cron
// idle sweep is a backstop for any process that dies mid-cleanup).
func (h *Hub) removeConn(c *conn) {
	defer c.close()

	if c.sessionID == "" {
		return
	}
	rm, ok := h.roomFor(c.sessionID)
	if !ok {
		return
	}

	rm.connsMu.Lock()
	delete(rm.conns, c.id)
	empty := len(rm.conns) == 0
	if empty {
		rm.emptiedAt = time.Now()
	}
	rm.connsMu.Unlock()

	if c.userID != "" {
		rm.sess.RemoveParticipant(c.userID, time.Now().UnixMilli())
		h.broadcastParticipantEvent(c.sessionID, c.userID, c.id, false)
	}

	if empty {
		h.snapshotAndEvict(context.Background(), c.sessionID)
	}
}

func (h *Hub) snapshotAndEvict(ctx context.Context, sessionID string) {
	h.mu.Lock()
	rm, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	rm.connsMu.Lock()
	stillEmpty := len(rm.conns) == 0
	rm.connsMu.Unlock()
	if !stillEmpty {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if err := h.store.Put(ctx, sessionID, rm.sess.SnapshotBytes()); err != nil {
		log.Printf("hub: final snapshot %q: %v", sessionID, err)
	}
}

// StartScheduler arms the cron-driven periodic snapshot tick and the
// hub-wide heartbeat/idle sweep: one shared ticker per concern instead of a
// timer per session.
func (h *Hub) StartScheduler() {
	h.cron = cron.New()
	interval := h.cfg.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := h.cron.AddFunc(fmt.Sprintf("@every %s", interval), h.snapshotAllSessions); err != nil {
		log.Printf("hub: invalid snapshot schedule: %v", err)
	}
	if _, err := h.cron.AddFunc("@every 30s", h.sweep); err != nil {
		log.Printf("hub: invalid sweep schedule: %v", err)
	}
	h.cron.Start()
}

func (h *Hub) snapshotAllSessions() {
	ctx := context.Background()
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	rooms := make([]*room, 0, len(h.sessions))
	for id, rm := range h.sessions {
		ids = append(ids, id)
		rooms = append(rooms, rm)
	}
	h.mu.RUnlock()

	for i, rm := range rooms {
		if err := h.store.Put(ctx, ids[i], rm.sess.SnapshotBytes()); err != nil {
			log.Printf("hub: snapshot %q: %v", ids[i], err)
		}
	}
}

// sweep closes connections silent longer than HeartbeatTimeout (90s, three
// default heartbeat intervals, when unset), and
// evicts any session whose participants emptied but whose eviction was
// never completed synchronously.
func (h *Hub) sweep() {
	timeout := h.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	now := time.Now()

	h.mu.RLock()
	rooms := make(map[string]*room, len(h.sessions))
	for id, rm := range h.sessions {
		rooms[id] = rm
	}
	h.mu.RUnlock()

	for sessionID, rm := range rooms {
		rm.connsMu.Lock()
		var stale []*conn
		for _, c := range rm.conns {
			if now.Sub(c.lastSeen()) > timeout {
				stale = append(stale, c)
			}
		}
		empty := len(rm.conns) == 0 && !rm.emptiedAt.IsZero()
		rm.connsMu.Unlock()

		for _, c := range stale {
			log.Printf("hub: connection %s silent past %s, closing", c.id, timeout)
			h.removeConn(c)
		}
		if empty {
			h.snapshotAndEvict(context.Background(), sessionID)
		}
	}
}

// Shutdown stops the scheduler, then snapshots every live session in
// parallel before returning: the shutdown completes only after every final
// snapshot returns, successfully or logged.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.cron != nil {
		h.cron.Stop()
	}

	h.mu.RLock()
	rooms := make(map[string]*room, len(h.sessions))
	for id, rm := range h.sessions {
		rooms[id] = rm
	}
	h.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for id, rm := range rooms {
		id, rm := id, rm
		g.Go(func() error {
			if err := h.store.Put(gctx, id, rm.sess.SnapshotBytes()); err != nil {
				err = fmt.Errorf("hub: shutdown snapshot %q: %w", id, err)
				log.Print(err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
