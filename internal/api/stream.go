package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/coordi/internal/view"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Stream event types.
const (
	EventView     = "view"
	EventRedirect = "redirect"
	EventClosed   = "closed"
)

const subscriberBuffer = 16

// Event is one message on a view stream.
type Event struct {
	Type     string     `json:"type"`
	View     *view.View `json:"view,omitempty"`
	Location string     `json:"location,omitempty"`
}

type subscriber struct {
	mu     sync.Mutex
	closed bool
	events chan Event
}

// send delivers ev without blocking and reports whether it was queued.
func (s *subscriber) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Hub fans session events out to websocket subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a subscriber for sessionID. The returned function
// unregisters it.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{events: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	return sub.events, func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
}

// Publish sends ev to every subscriber of sessionID. Slow subscribers miss
// events rather than block the dialogue.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		if !sub.send(ev) {
			slog.Debug("Dropping stream event for slow subscriber", "session_id", sessionID, "type", ev.Type)
		}
	}
}

// Broadcast sends ev to every subscriber of every session.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Publish(id, ev)
	}
}

// CloseSession ends every stream of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	set := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()

	for sub := range set {
		sub.send(Event{Type: EventClosed})
		sub.close()
	}
}

// StreamHandler serves the websocket view stream.
type StreamHandler struct {
	registry *Registry
	origins  []string
	logger   *slog.Logger
}

// NewStreamHandler creates a stream handler. origins are accepted websocket
// origin patterns; empty accepts any.
func NewStreamHandler(registry *Registry, origins []string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &StreamHandler{registry: registry, origins: origins, logger: logger}
}

// ServeHTTP upgrades the request and pushes a view on every state change.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := h.registry.Get(id)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", id)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", id)
		}
	}()

	events, unsubscribe := h.registry.hub.Subscribe(id)
	defer unsubscribe()

	// The client never sends; CloseRead cancels ctx once it goes away.
	ctx := ws.CloseRead(r.Context())

	current := sess.View()
	if err := writeEvent(ctx, ws, Event{Type: EventView, View: &current}); err != nil {
		h.logger.Debug("Failed to send initial view", "error", err, "session_id", id)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, ws, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("WebSocket write error", "error", err, "session_id", id)
				}
				return
			}
			if ev.Type == EventRedirect || ev.Type == EventClosed {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
