// Package presence tracks which drivers are currently connected and where.
// Entries are keyed by connection identity and live only as long as the
// connection does.
package presence

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ErrInvalidPresence rejects an upsert before any registry state changes.
var ErrInvalidPresence = errors.New("invalid presence data")

// Publisher receives the full snapshot after every successful mutation.
// Delivery is fire-and-forget; a failing subscriber must not affect the
// registry or other subscribers.
type Publisher interface {
	BroadcastDrivers(snapshot []models.DriverPresence)
}

// Registry is the injectable presence store. It is safe for concurrent use;
// mutations on different connections do not serialize behind each other
// beyond the map lock's critical section.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*models.DriverPresence
	order  []string // connection ids in first-insert order

	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(pub Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		byConn: make(map[string]*models.DriverPresence),
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert validates p and installs it as the live presence for connID,
// replacing any prior entry (last write wins). On success it returns the
// updated snapshot and broadcasts it to the publisher. On failure the
// registry is untouched.
func (r *Registry) Upsert(connID string, p models.DriverPresence) ([]models.DriverPresence, error) {
	if connID == "" || p.DriverID == "" || !p.Coord.Valid() {
		return nil, ErrInvalidPresence
	}
	p.ConnectionID = connID
	p.Available = true
	p.UpdatedAt = r.now()

	r.mu.Lock()
	if _, exists := r.byConn[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.byConn[connID] = &p
	snap := r.snapshotLocked()
	r.mu.Unlock()

	observability.PresenceUpserts.Inc()
	r.publish(snap)
	return snap, nil
}

// Remove drops the presence for connID. Removing an unknown connection is a
// no-op, not an error, and triggers no broadcast.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	if _, exists := r.byConn[connID]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	observability.PresenceRemovals.Inc()
	r.publish(snap)
}

// Snapshot returns a point-in-time copy in first-insert order. Callers may
// mutate the result freely; it shares nothing with registry storage.
func (r *Registry) Snapshot() []models.DriverPresence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// MarkUnavailable clears the available flag on every live presence owned by
// driverID, taking it out of future candidate sets until its next location
// update. Returns true if any entry changed.
func (r *Registry) MarkUnavailable(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, p := range r.byConn {
		if p.DriverID == driverID && p.Available {
			p.Available = false
			changed = true
		}
	}
	return changed
}

func (r *Registry) snapshotLocked() []models.DriverPresence {
	out := make([]models.DriverPresence, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byConn[id])
	}
	return out
}

func (r *Registry) publish(snap []models.DriverPresence) {
	if r.pub == nil {
		return
	}
	r.pub.BroadcastDrivers(snap)
}
