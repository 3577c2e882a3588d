// Package transport implements the WebSocket Session Transport (C8): one
// connection per session, a bounded per-session send queue, turn
// serialization, and the exact message kinds in spec.md §6, grounded on
// the teacher's gorilla/websocket hub
// (codeready-toolchain-tarsy/pkg/api/websocket.go) generalized from
// broadcast to per-session delivery.
package transport

import (
	"net/http"
	"sync"
	"time"

	"cogstream/internal/config"
	"cogstream/internal/engine"
	"cogstream/internal/observability"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every live Session, keyed by session id. Constructed once at
// startup and passed by reference to the HTTP server, per spec.md §9's
// "construct at startup" guidance for long-lived singletons.
type Hub struct {
	resolver         ScopeResolver
	thinker          engine.Think
	sendBufferSize   int
	slowConsumerWait time.Duration
	queueOnBusy      bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(resolver ScopeResolver, thinker engine.Think, cfg config.TransportConfig) *Hub {
	bufSize := cfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}
	wait := cfg.SlowConsumerWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Hub{
		resolver:         resolver,
		thinker:          thinker,
		sendBufferSize:   bufSize,
		slowConsumerWait: wait,
		queueOnBusy:      cfg.QueueOnBusy,
		sessions:         make(map[string]*Session),
	}
}

// HandleWS upgrades the request and blocks for the connection's
// lifetime, running its read loop on the calling goroutine — the
// pattern the teacher's own HandleWS uses, generalized to track per-
// session state rather than broadcasting to all clients.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.LoggerWithTrace(r.Context()).Warn().Err(err).Msg("transport_upgrade_failed")
		return
	}

	s := newSession(sessionID, conn, h)
	h.register(s)
	s.run()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[s.id]; ok {
		old.close()
	}
	h.sessions[s.id] = s
}

func (h *Hub) unregister(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Session looks up a live session by id, for admin/introspection use.
func (h *Hub) Session(sessionID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
