// Package lifecycle owns the ride-request state machine: a single transition
// out of pending, arbitrated by one check-and-set, with a cancellable expiry
// timer racing against acceptance and cancellation.
package lifecycle

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrInvalidTransition rejects a transition attempt on a ride that has
	// already left pending. Non-fatal; system state is unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotFound rejects operations naming a ride this process never created.
	ErrNotFound = errors.New("unknown ride")
)

// Transition describes one completed move out of pending, with everything a
// notifier needs to fan out the consequences.
type Transition struct {
	Ride          models.RideRequest
	RequesterConn string
	OfferedConns  []string
	ViaTimeout    bool
}

// Notifier observes every transition. Calls happen outside the manager lock
// and must not block on connection I/O.
type Notifier interface {
	RideTransitioned(tr Transition)
}

type ride struct {
	models.RideRequest
	requesterConn string
	offered       []string
	timer         *time.Timer
}

// Manager holds every ride this process has created, pending and terminal
// alike. Terminal rides stay resident so late transition attempts get a
// proper rejection instead of a lookup miss.
type Manager struct {
	mu     sync.Mutex
	rides  map[string]*ride
	ttl    time.Duration
	n      Notifier
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		rides:  make(map[string]*ride),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SetNotifier wires the transition observer. Must be called before any ride
// is created.
func (m *Manager) SetNotifier(n Notifier) { m.n = n }

// CreatePending registers a new pending ride and arms its expiry timer.
func (m *Manager) CreatePending(req models.RideRequest, requesterConn string, offeredConns []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &ride{
		RideRequest:   req,
		requesterConn: requesterConn,
		offered:       offeredConns,
	}
	r.Status = models.StatusPending
	id := req.RideID
	r.timer = time.AfterFunc(m.ttl, func() { m.expire(id) })
	m.rides[id] = r
}

// CreateTerminal registers a ride born in a terminal state (no_driver_found).
// No timer is armed and no transition is reported; the caller already knows
// the outcome and acks it synchronously.
func (m *Manager) CreateTerminal(req models.RideRequest, requesterConn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[req.RideID] = &ride{RideRequest: req, requesterConn: requesterConn}
}

// Accept is the single arbitration point for the race to win a ride. The
// first caller to find the ride pending wins; everyone after that gets
// ErrInvalidTransition along with the ride's current state so the rejection
// can say who beat them. When the driver reported no ETA, estimate runs for
// the winner only, after the check-and-set, so losing drivers never trigger
// routing work and never delay arbitration.
func (m *Manager) Accept(rideID, driverID string, etaMinutes int, estimate func() int) (models.RideRequest, error) {
	return m.transition(rideID, models.StatusAccepted, func(r *ride) {
		r.AcceptedBy = driverID
		r.ETAMinutes = etaMinutes
	}, false, func(tr *Transition) {
		if tr.Ride.ETAMinutes > 0 || estimate == nil {
			return
		}
		eta := estimate()
		tr.Ride.ETAMinutes = eta
		// the ride is already terminal, so this write cannot race another
		// transition
		m.mu.Lock()
		if r, ok := m.rides[rideID]; ok {
			r.ETAMinutes = eta
		}
		m.mu.Unlock()
	})
}

// Cancel is the requester-initiated transition. Legal only while pending and
// only from the connection that created the ride; every offered driver
// learns the rideID from its offer and must not be able to kill the request.
func (m *Manager) Cancel(rideID, requesterConn string) (models.RideRequest, error) {
	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return models.RideRequest{}, ErrNotFound
	}
	if r.requesterConn != requesterConn {
		cur := r.RideRequest
		m.mu.Unlock()
		return cur, ErrInvalidTransition
	}
	m.mu.Unlock()
	return m.transition(rideID, models.StatusCancelled, nil, false, nil)
}

// Get returns a copy of the ride's current state.
func (m *Manager) Get(rideID string) (models.RideRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.RideRequest{}, false
	}
	return r.RideRequest, true
}

// expire is the timer callback. It goes through the same check-and-set as
// Accept and Cancel, so a timer firing concurrently with an acceptance loses
// the race deterministically.
func (m *Manager) expire(rideID string) {
	if _, err := m.transition(rideID, models.StatusExpired, nil, true, nil); err != nil {
		// The ride left pending through another path first. Nothing to do.
		return
	}
}

// transition is the shared check-and-set. post, if set, runs on the winning
// path after the lock is released and before observers are told, so it may
// do slow work and amend the transition.
func (m *Manager) transition(rideID string, to models.RideStatus, apply func(*ride), viaTimeout bool, post func(*Transition)) (models.RideRequest, error) {
	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return models.RideRequest{}, ErrNotFound
	}
	if r.Status != models.StatusPending {
		cur := r.RideRequest
		m.mu.Unlock()
		return cur, ErrInvalidTransition
	}
	r.Status = to
	if apply != nil {
		apply(r)
	}
	if r.timer != nil && !viaTimeout {
		r.timer.Stop()
	}
	tr := Transition{
		Ride:          r.RideRequest,
		RequesterConn: r.requesterConn,
		OfferedConns:  append([]string(nil), r.offered...),
		ViaTimeout:    viaTimeout,
	}
	m.mu.Unlock()

	if post != nil {
		post(&tr)
	}
	m.logger.Info("ride transitioned", "ride_id", rideID, "status", to, "via_timeout", viaTimeout)
	if m.n != nil {
		m.n.RideTransitioned(tr)
	}
	return tr.Ride, nil
}
