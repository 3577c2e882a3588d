package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cogstream/internal/domain"
	"cogstream/internal/engine"
	"cogstream/internal/observability"

	"github.com/gorilla/websocket"
)

// ScopeResolver resolves an opaque credential into a scope (C9's
// contract, consumed here as an interface so transport never imports
// internal/authgate directly).
type ScopeResolver interface {
	Resolve(ctx context.Context, credential string) (domain.Scope, error)
}

// Session owns one WebSocket connection: its send queue, read loop, and
// the session's turn-serialization state. Mirrors the teacher's
// register/unregister/per-connection-goroutine hub shape
// (codeready-toolchain-tarsy/pkg/api/websocket.go), generalized from a
// broadcast hub to per-session bounded send queues plus the turn
// lifecycle spec.md §4.8 requires.
type Session struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	resolver ScopeResolver
	thinker  engine.Think

	send             chan []byte
	slowConsumerWait time.Duration
	queueOnBusy      bool

	mu            sync.Mutex
	verified      bool
	closed        bool
	scope         domain.Scope
	turnActive    bool
	turnCancel    context.CancelFunc
	pendingDiv    *string
	queuedMessage *inFrame

	connectedAt time.Time
	turnCount   int

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn, hub *Hub) *Session {
	return &Session{
		id:               id,
		conn:             conn,
		hub:              hub,
		resolver:         hub.resolver,
		thinker:          hub.thinker,
		send:             make(chan []byte, hub.sendBufferSize),
		slowConsumerWait: hub.slowConsumerWait,
		queueOnBusy:      hub.queueOnBusy,
		connectedAt:      time.Now(),
		done:             make(chan struct{}),
	}
}

// run drives the connection until it closes: a write pump goroutine plus
// a blocking read loop on the caller's goroutine.
func (s *Session) run() {
	go s.writePump()
	s.enqueueJSON(connectedOut{Type: kindConnected})
	s.readLoop()
}

func (s *Session) writePump() {
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.enqueueJSON(errorOut{Type: kindError, Code: "bad_request", Message: "malformed frame"})
			continue
		}
		s.handle(&f)
	}
}

func (s *Session) handle(f *inFrame) {
	switch f.Type {
	case kindVerify:
		s.handleVerify(f)
	case kindMessage:
		s.handleMessage(f)
	case kindSetDivision:
		s.handleSetDivision(f)
	case kindPing:
		s.enqueueJSON(pongOut{Type: kindPong})
	default:
		s.enqueueJSON(errorOut{Type: kindError, Code: "bad_request", Message: "unknown frame type"})
	}
}

func (s *Session) handleVerify(f *inFrame) {
	ctx := context.Background()
	scope, err := s.resolver.Resolve(ctx, f.Credential)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("session_id", s.id).Msg("transport_verify_resolve_failed")
		scope = domain.Scope{}
	}
	s.mu.Lock()
	s.verified = true
	s.scope = scope
	s.mu.Unlock()
	s.enqueueJSON(verifiedOut{Type: kindVerified, Scope: verifiedScope{
		TenantID:    scope.TenantID,
		UserID:      scope.UserID,
		Departments: scope.AllowedDepartments,
	}})
}

func (s *Session) handleMessage(f *inFrame) {
	s.mu.Lock()
	if !s.verified {
		s.mu.Unlock()
		s.enqueueJSON(errorOut{Type: kindError, Code: "unauthorized", Message: "verify required"})
		return
	}
	if s.turnActive {
		if s.queueOnBusy {
			fCopy := *f
			s.queuedMessage = &fCopy
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.enqueueJSON(errorOut{Type: kindError, Code: "turn_in_flight", Message: "a turn is already in flight"})
		return
	}
	s.turnActive = true
	scope := s.scope
	if f.Division != "" {
		scope.AllowedDepartments = []string{f.Division}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.turnCancel = cancel
	s.mu.Unlock()

	go s.runTurn(ctx, f.Content, scope)
}

func (s *Session) runTurn(ctx context.Context, content string, scope domain.Scope) {
	ch := s.thinker.Think(ctx, content, engine.SessionState{SessionID: s.id, Scope: scope})
	for c := range ch {
		switch c.Kind {
		case engine.ChunkText:
			s.enqueueJSON(streamChunkOut{Type: kindStreamChunk, Content: c.Content, Done: c.Done})
		case engine.ChunkMetadata:
			s.enqueueJSON(cognitiveStateOut{Type: kindCognitiveState, Phase: string(c.Phase), ToolsUsed: toolNames(c.ToolsUsed)})
		case engine.ChunkError:
			msg := ""
			if c.Err != nil {
				msg = c.Err.Error()
			}
			s.enqueueJSON(errorOut{Type: kindError, Code: "upstream_partial", Message: msg})
		}
	}

	s.mu.Lock()
	s.turnActive = false
	s.turnCancel = nil
	s.turnCount++
	div := s.pendingDiv
	s.pendingDiv = nil
	if div != nil {
		s.scope.AllowedDepartments = []string{*div}
	}
	queued := s.queuedMessage
	s.queuedMessage = nil
	duration := time.Since(s.connectedAt)
	turns := s.turnCount
	s.mu.Unlock()

	s.enqueueJSON(sessionAnalyticsOut{Type: kindSessionAnalytics, SessionDurationMS: duration.Milliseconds(), TurnCount: turns})

	if queued != nil {
		s.handleMessage(queued)
	}
}

func (s *Session) handleSetDivision(f *inFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turnActive {
		// Applied only between turns (spec.md §4.9): stash it and apply
		// once the in-flight turn's goroutine observes it.
		div := f.Division
		s.pendingDiv = &div
		return
	}
	s.scope.AllowedDepartments = []string{f.Division}
}

func (s *Session) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.enqueue(data)
}

func (s *Session) enqueue(msg []byte) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.send <- msg:
		return
	case <-s.done:
		return
	default:
	}
	timer := time.NewTimer(s.slowConsumerWait)
	defer timer.Stop()
	select {
	case s.send <- msg:
	case <-timer.C:
		observability.LoggerWithTrace(context.Background()).Warn().Str("session_id", s.id).Msg("transport_slow_consumer_closing")
		s.close()
	case <-s.done:
	}
}

// close tears the connection down exactly once: cancels any in-flight
// turn so its HTTP/embedding/LLM calls unwind promptly (§5 Cancellation,
// §8 property 7), stops the write pump, and unregisters from the hub.
// The send channel is never closed explicitly — only the closed flag and
// done channel gate further sends — so a concurrent enqueue can never
// race a send against a closed channel.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.turnCancel != nil {
			s.turnCancel()
		}
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
		s.hub.unregister(s.id)
	})
}

func toolNames(kinds []domain.ToolKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
