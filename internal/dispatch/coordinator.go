// Package dispatch orchestrates the ride flow: proximity query against the
// live presence snapshot, offer fan-out, acceptance arbitration, and the
// side effects of every lifecycle transition.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	// ErrInvalidRequest rejects malformed requester input before any state
	// is created.
	ErrInvalidRequest = errors.New("invalid request data")
	// ErrDispatch is the opaque internal failure surfaced to callers.
	ErrDispatch = errors.New("dispatch failure")
)

// Sender delivers events to connected clients. Sends are fire-and-forget; a
// slow or dead connection drops the message rather than blocking dispatch.
type Sender interface {
	Send(connID, event string, data any) bool
	Broadcast(event string, data any)
}

// EventSink receives dispatch events bound for the durable side (Kafka in
// production).
type EventSink interface {
	PublishPresence(p models.DriverPresence) error
	PublishRideOutcome(r models.RideRequest) error
}

// AvailabilityFlags mirrors per-driver availability into the external
// durable store (Redis in production).
type AvailabilityFlags interface {
	SetAvailable(ctx context.Context, driverID string, available bool) error
}

// Coordinator wires the registry, geo index, and lifecycle manager together
// and owns every side effect of a ride transition. All collaborators except
// Registry, Geo, Rides, and Sender are optional.
type Coordinator struct {
	Registry *presence.Registry
	Geo      *geo.Index
	Rides    *lifecycle.Manager
	Sender   Sender

	Store     storage.RideStore
	Events    EventSink
	Flags     AvailabilityFlags
	Payments  payments.Gateway
	Estimator *eta.Estimator

	RadiusKm     float64
	HoldAmount   int64
	HoldCurrency string

	Logger *slog.Logger

	holdMu sync.Mutex
	holds  map[string]string // rideID -> payment intent id
}

func NewCoordinator(reg *presence.Registry, idx *geo.Index, rides *lifecycle.Manager, sender Sender, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Coordinator{
		Registry: reg,
		Geo:      idx,
		Rides:    rides,
		Sender:   sender,
		RadiusKm: geo.DefaultRadiusKm,
		Logger:   logger,
		holds:    make(map[string]string),
	}
	rides.SetNotifier(c)
	return c
}

// HandleLocationUpdate upserts the driver's presence for this connection.
// The registry broadcasts the updated snapshot itself; this only adds the
// durable-side publication.
func (c *Coordinator) HandleLocationUpdate(connID string, in models.LocationUpdate) error {
	_, err := c.Registry.Upsert(connID, models.DriverPresence{
		DriverID: in.DriverID,
		Name:     in.Name,
		Coord:    in.Coord,
	})
	if err != nil {
		return err
	}
	if c.Events != nil {
		p := models.DriverPresence{DriverID: in.DriverID, ConnectionID: connID, Name: in.Name, Coord: in.Coord, Available: true, UpdatedAt: time.Now()}
		if perr := c.Events.PublishPresence(p); perr != nil {
			c.Logger.Warn("presence publish failed", "driver_id", in.DriverID, "error", perr)
		}
	}
	return nil
}

// HandleNearbyQuery answers a one-shot ranked proximity query.
func (c *Coordinator) HandleNearbyQuery(in models.NearbyQuery) ([]models.Candidate, error) {
	origin := models.Coord{Lng: in.Lng, Lat: in.Lat}
	if !origin.Valid() {
		return nil, ErrInvalidRequest
	}
	var radius float64
	if in.RadiusKm != nil {
		radius = *in.RadiusKm
	}
	return c.Geo.Query(origin, radius, c.availableSnapshot()), nil
}

// HandleRideRequest creates a ride and fans out offers. The returned ride is
// the synchronous ack; offers and later transitions travel as separate
// events. Creation is a single atomic step: a validation failure leaves no
// ride behind.
func (c *Coordinator) HandleRideRequest(connID, requesterID string, in models.RideRequestInput) (models.RideRequest, error) {
	if !in.Pickup.Valid() {
		return models.RideRequest{}, ErrInvalidRequest
	}

	req := models.RideRequest{
		RideID:      newRideID(),
		RequesterID: requesterID,
		Pickup:      in.Pickup,
		CreatedAt:   time.Now(),
	}

	candidates := c.Geo.Query(in.Pickup, c.RadiusKm, c.availableSnapshot())
	if len(candidates) == 0 {
		req.Status = models.StatusNoDriverFound
		c.Rides.CreateTerminal(req, connID)
		c.recordOutcome(req)
		return req, nil
	}

	req.Status = models.StatusPending
	offered := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		offered = append(offered, cand.Presence.ConnectionID)
	}
	c.Rides.CreatePending(req, connID, offered)

	c.placeHold(req)

	for _, conn := range offered {
		if c.Sender.Send(conn, models.EventNewRide, req) {
			observability.OffersSent.Inc()
		}
	}
	c.Logger.Info("ride dispatched", "ride_id", req.RideID, "candidates", len(offered))
	return req, nil
}

// HandleRideAccept arbitrates a driver's attempt to win the ride. The
// lifecycle check-and-set is the single source of truth; late attempts come
// back with ErrInvalidTransition and the ride's current state. The fallback
// ETA estimate is handed to the manager as a callback so it only ever runs
// for the winning driver.
func (c *Coordinator) HandleRideAccept(connID string, in models.RideAccept) (models.RideRequest, error) {
	if in.RideID == "" || in.DriverID == "" {
		return models.RideRequest{}, ErrInvalidRequest
	}
	return c.Rides.Accept(in.RideID, in.DriverID, in.ETAMinutes, func() int {
		return c.estimatePickup(in.RideID, in.DriverID)
	})
}

// HandleRideCancel is the requester-initiated path out of pending. The
// manager enforces that only the ride's own connection can cancel it.
func (c *Coordinator) HandleRideCancel(connID string, in models.RideCancel) (models.RideRequest, error) {
	if in.RideID == "" {
		return models.RideRequest{}, ErrInvalidRequest
	}
	return c.Rides.Cancel(in.RideID, connID)
}

// HandleDisconnect tears down the session's presence. Any pending ride the
// driver was offered keeps running on its existing timeout; no cascade.
func (c *Coordinator) HandleDisconnect(connID string) {
	c.Registry.Remove(connID)
}

// RideTransitioned implements lifecycle.Notifier. It runs on whichever
// goroutine won the transition, so everything here is either a non-blocking
// send or handed to a worker goroutine.
func (c *Coordinator) RideTransitioned(tr lifecycle.Transition) {
	ride := tr.Ride

	c.Sender.Send(tr.RequesterConn, models.EventRideStatus, models.RideStatusNotice{
		RideID:     ride.RideID,
		Status:     ride.Status,
		DriverID:   ride.AcceptedBy,
		ETAMinutes: ride.ETAMinutes,
	})
	if tr.ViaTimeout {
		c.Sender.Send(tr.RequesterConn, models.EventRideTimeout, models.RideTimeoutNotice{RideID: ride.RideID})
	}

	if ride.Status == models.StatusAccepted {
		winnerConn := c.connForDriver(ride.AcceptedBy)
		for _, conn := range tr.OfferedConns {
			if conn == winnerConn {
				continue
			}
			c.Sender.Send(conn, models.EventRideWithdrawn, models.RideWithdrawn{RideID: ride.RideID})
		}
		c.Registry.MarkUnavailable(ride.AcceptedBy)
	}

	c.recordOutcome(ride)
}

// recordOutcome pushes a terminal ride to the durable collaborators. All of
// it is best-effort and off the caller's path.
func (c *Coordinator) recordOutcome(ride models.RideRequest) {
	observability.RideOutcomes.WithLabelValues(string(ride.Status)).Inc()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if c.Store != nil {
			if err := c.Store.SaveRide(ctx, ride); err != nil {
				c.Logger.Error("ride history write failed", "ride_id", ride.RideID, "error", err)
			}
		}
		if c.Events != nil {
			if err := c.Events.PublishRideOutcome(ride); err != nil {
				c.Logger.Warn("ride outcome publish failed", "ride_id", ride.RideID, "error", err)
			}
		}
		if c.Flags != nil && ride.Status == models.StatusAccepted {
			if err := c.Flags.SetAvailable(ctx, ride.AcceptedBy, false); err != nil {
				c.Logger.Warn("availability flag write failed", "driver_id", ride.AcceptedBy, "error", err)
			}
		}
		c.settleHold(ctx, ride)
	}()
}

func (c *Coordinator) placeHold(req models.RideRequest) {
	if c.Payments == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id, err := c.Payments.Hold(ctx, c.HoldAmount, c.HoldCurrency, req.RequesterID)
		if err != nil {
			c.Logger.Warn("fare hold failed", "ride_id", req.RideID, "error", err)
			return
		}
		c.holdMu.Lock()
		c.holds[req.RideID] = id
		c.holdMu.Unlock()
	}()
}

func (c *Coordinator) settleHold(ctx context.Context, ride models.RideRequest) {
	if c.Payments == nil {
		return
	}
	c.holdMu.Lock()
	intentID, ok := c.holds[ride.RideID]
	delete(c.holds, ride.RideID)
	c.holdMu.Unlock()
	if !ok {
		return
	}
	var err error
	if ride.Status == models.StatusAccepted {
		err = c.Payments.Capture(ctx, intentID)
	} else {
		err = c.Payments.Cancel(ctx, intentID)
	}
	if err != nil {
		c.Logger.Warn("fare hold settlement failed", "ride_id", ride.RideID, "status", ride.Status, "error", err)
	}
}

// estimatePickup computes a fallback ETA when the accepting driver did not
// report one. Failing everything, a flat minute keeps the requester notice
// populated.
func (c *Coordinator) estimatePickup(rideID, driverID string) int {
	ride, ok := c.Rides.Get(rideID)
	if !ok || c.Estimator == nil {
		return 1
	}
	for _, p := range c.Registry.Snapshot() {
		if p.DriverID == driverID {
			return c.Estimator.Minutes(p.Coord, ride.Pickup)
		}
	}
	return 1
}

func (c *Coordinator) connForDriver(driverID string) string {
	for _, p := range c.Registry.Snapshot() {
		if p.DriverID == driverID {
			return p.ConnectionID
		}
	}
	return ""
}

// availableSnapshot is the candidate population: live presences that have
// not been taken out of rotation by an acceptance.
func (c *Coordinator) availableSnapshot() []models.DriverPresence {
	snap := c.Registry.Snapshot()
	out := snap[:0]
	for _, p := range snap {
		if p.Available {
			out = append(out, p)
		}
	}
	return out
}

func newRideID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "ride_" + hex.EncodeToString(b)
}
