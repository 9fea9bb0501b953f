package ws

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// EventHandler is the dispatch-side surface the read loop routes events to.
type EventHandler interface {
	HandleLocationUpdate(connID string, in models.LocationUpdate) error
	HandleNearbyQuery(in models.NearbyQuery) ([]models.Candidate, error)
	HandleRideRequest(connID, requesterID string, in models.RideRequestInput) (models.RideRequest, error)
	HandleRideAccept(connID string, in models.RideAccept) (models.RideRequest, error)
	HandleRideCancel(connID string, in models.RideCancel) (models.RideRequest, error)
	HandleDisconnect(connID string)
}

// outEnvelope is the outbound frame. Data is marshalled as-is.
type outEnvelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Session is the explicit per-connection record: identity resolved at
// connect time plus the connection itself. All writes go through the send
// buffer so no caller ever blocks on this client's socket.
type Session struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	out    chan outEnvelope
	closed chan struct{}
	once   sync.Once
	hub    *Hub
	logger *slog.Logger
}

func NewSession(hub *Hub, conn *websocket.Conn, userID string) *Session {
	s := &Session{
		ID:     newConnID(),
		UserID: userID,
		conn:   conn,
		out:    make(chan outEnvelope, sendBuffer),
		closed: make(chan struct{}),
		hub:    hub,
	}
	s.logger = hub.logger.With("conn_id", s.ID, "user_id", userID)
	hub.register(s)
	go s.writePump()
	return s
}

// enqueue hands a frame to the write pump without blocking. Full buffer
// means the client is too slow; the frame is dropped and counted.
func (s *Session) enqueue(env outEnvelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		observability.MessagesDropped.Inc()
		s.logger.Warn("dropping outbound message, send buffer full", "event", env.Event)
		return false
	}
}

func (s *Session) writePump() {
	for {
		select {
		case env := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(env); err != nil {
				s.logger.Warn("write failed, closing session", "error", err)
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
		s.hub.unregister(s.ID)
	})
}

// Run drives the read loop until the connection drops, then tears the
// session down deterministically. It blocks the HTTP handler goroutine.
func (s *Session) Run(h EventHandler) {
	defer func() {
		s.close()
		h.HandleDisconnect(s.ID)
		s.logger.Info("connection closed")
	}()
	s.logger.Info("connection established")

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError(env, errInvalidRequest("malformed message envelope"))
			continue
		}
		s.route(h, env)
	}
}

func (s *Session) route(h EventHandler, env models.Envelope) {
	switch env.Event {
	case models.EventUpdateLocation:
		var in models.LocationUpdate
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.sendError(env, errInvalidPresence("malformed update_location payload"))
			return
		}
		if err := h.HandleLocationUpdate(s.ID, in); err != nil {
			s.sendError(env, err)
		}

	case models.EventGetNearbyDrivers:
		var in models.NearbyQuery
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.ack(env, models.ErrorAck{Status: "error", Code: codeInvalidRequest, Message: "malformed get_nearby_drivers payload"})
			return
		}
		cands, err := h.HandleNearbyQuery(in)
		if err != nil {
			s.ack(env, errorAckFor(err))
			return
		}
		s.ack(env, models.NearbyAck{Status: "success", Data: cands})

	case models.EventRideRequest:
		var in models.RideRequestInput
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.ack(env, models.ErrorAck{Status: "error", Code: codeInvalidRequest, Message: "malformed ride_request payload"})
			return
		}
		ride, err := h.HandleRideRequest(s.ID, s.UserID, in)
		if err != nil {
			s.ack(env, errorAckFor(err))
			return
		}
		s.ack(env, models.RideRequestAck{Status: ride.Status, RideID: ride.RideID})

	case models.EventRideAccept:
		var in models.RideAccept
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.ack(env, models.ErrorAck{Status: "error", Code: codeInvalidRequest, Message: "malformed ride_accept payload"})
			return
		}
		ride, err := h.HandleRideAccept(s.ID, in)
		if err != nil {
			// Losing the race is an expected outcome, not a fault.
			s.ack(env, errorAckFor(err))
			return
		}
		s.ack(env, models.RideAck{Status: ride.Status, RideID: ride.RideID})

	case models.EventRideCancel:
		var in models.RideCancel
		if err := json.Unmarshal(env.Data, &in); err != nil {
			s.ack(env, models.ErrorAck{Status: "error", Code: codeInvalidRequest, Message: "malformed ride_cancel payload"})
			return
		}
		ride, err := h.HandleRideCancel(s.ID, in)
		if err != nil {
			s.ack(env, errorAckFor(err))
			return
		}
		s.ack(env, models.RideAck{Status: ride.Status, RideID: ride.RideID})

	default:
		s.sendError(env, errInvalidRequest("unknown event: "+env.Event))
	}
}

// ack replies on the same event name, echoing the correlation id.
func (s *Session) ack(env models.Envelope, data any) {
	s.enqueue(outEnvelope{Event: env.Event, ID: env.ID, Data: data})
}

// sendError pushes a structured error event for fire-and-forget requests.
func (s *Session) sendError(env models.Envelope, err error) {
	code, msg := classify(err)
	s.enqueue(outEnvelope{Event: models.EventError, ID: env.ID, Data: models.ErrorNotice{Code: code, Message: msg}})
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
