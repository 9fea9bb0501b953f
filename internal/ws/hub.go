// Package ws carries the persistent bidirectional connections the dispatch
// engine is reached over: one session per client, an envelope-framed event
// protocol, and a hub for targeted and broadcast delivery.
package ws

import (
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Hub tracks live sessions by connection id. It implements both
// dispatch.Sender and presence.Publisher.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{sessions: make(map[string]*Session), logger: logger}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	observability.ConnectionsActive.Inc()
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	_, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.mu.Unlock()
	if ok {
		observability.ConnectionsActive.Dec()
	}
}

// Send enqueues one event for a single connection. It never blocks: if the
// session's buffer is full or the connection is gone, the message is dropped
// and false is returned.
func (h *Hub) Send(connID, event string, data any) bool {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return s.enqueue(outEnvelope{Event: event, Data: data})
}

// Broadcast fans an event out to every live session. Delivery failure to one
// subscriber does not affect the others.
func (h *Hub) Broadcast(event string, data any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	for _, s := range targets {
		s.enqueue(outEnvelope{Event: event, Data: data})
	}
}

// BroadcastDrivers implements presence.Publisher: every registry change
// pushes the full snapshot to all connected clients.
func (h *Hub) BroadcastDrivers(snapshot []models.DriverPresence) {
	h.Broadcast(models.EventDriversUpdate, snapshot)
}
