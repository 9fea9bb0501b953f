package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/ws"
)

func newTestServer(t *testing.T, ttl time.Duration) *httptest.Server {
	t.Helper()
	hub := ws.NewHub(nil)
	registry := presence.NewRegistry(hub, nil)
	rides := lifecycle.NewManager(ttl, nil)
	coord := dispatch.NewCoordinator(registry, geo.NewIndex(nil), rides, hub, nil)
	coord.Store = storage.NewMemoryStore()
	coord.Estimator = &eta.Estimator{SpeedKmh: 30}
	srv := httptest.NewServer(NewServer(hub, coord, auth.OpaqueVerifier{}, nil))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.WriteJSON(models.Envelope{Event: event, ID: id, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readUntil skips unrelated frames (drivers_update broadcasts mostly) until
// the wanted event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env.Data
		}
	}
}

func TestConnectionRefusedWithoutCredential(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected refused connection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLocationUpdateBroadcastsAndNearbyQuery(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	driver := dial(t, srv, "driver-1")
	requester := dial(t, srv, "user-1")

	send(t, driver, models.EventUpdateLocation, "", models.LocationUpdate{
		DriverID: "d1",
		Name:     "Test Driver",
		Coord:    models.Coord{Lng: -73.9352, Lat: 40.7306},
	})

	// both connections see the registry-wide broadcast
	var snapshot []models.DriverPresence
	if err := json.Unmarshal(readUntil(t, requester, models.EventDriversUpdate), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].DriverID != "d1" {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}

	send(t, requester, models.EventGetNearbyDrivers, "q1", models.NearbyQuery{Lng: -73.9400, Lat: 40.7310})
	var ack models.NearbyAck
	if err := json.Unmarshal(readUntil(t, requester, models.EventGetNearbyDrivers), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "success" || len(ack.Data) != 1 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.Data[0].DistanceKm >= 1 {
		t.Fatalf("expected sub-kilometer distance, got %f", ack.Data[0].DistanceKm)
	}
}

func TestRideFlowOverWire(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	driver := dial(t, srv, "driver-1")
	requester := dial(t, srv, "user-1")

	send(t, driver, models.EventUpdateLocation, "", models.LocationUpdate{
		DriverID: "d1",
		Name:     "Test Driver",
		Coord:    models.Coord{Lng: -73.9352, Lat: 40.7306},
	})
	readUntil(t, requester, models.EventDriversUpdate)

	send(t, requester, models.EventRideRequest, "r1", models.RideRequestInput{
		Pickup: models.Coord{Lng: -73.9400, Lat: 40.7310},
	})
	var ack models.RideRequestAck
	if err := json.Unmarshal(readUntil(t, requester, models.EventRideRequest), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != models.StatusPending || ack.RideID == "" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	var offer models.RideRequest
	if err := json.Unmarshal(readUntil(t, driver, models.EventNewRide), &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.RideID != ack.RideID {
		t.Fatalf("offer for wrong ride: %s vs %s", offer.RideID, ack.RideID)
	}

	send(t, driver, models.EventRideAccept, "a1", models.RideAccept{
		RideID: offer.RideID, DriverID: "d1", ETAMinutes: 4,
	})
	var accepted models.RideAck
	if err := json.Unmarshal(readUntil(t, driver, models.EventRideAccept), &accepted); err != nil {
		t.Fatalf("decode accept ack: %v", err)
	}
	if accepted.Status != models.StatusAccepted {
		t.Fatalf("expected accepted ack, got %+v", accepted)
	}

	var notice models.RideStatusNotice
	if err := json.Unmarshal(readUntil(t, requester, models.EventRideStatus), &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Status != models.StatusAccepted || notice.DriverID != "d1" || notice.ETAMinutes != 4 {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestRideTimeoutOverWire(t *testing.T) {
	srv := newTestServer(t, 50*time.Millisecond)
	driver := dial(t, srv, "driver-1")
	requester := dial(t, srv, "user-1")

	send(t, driver, models.EventUpdateLocation, "", models.LocationUpdate{
		DriverID: "d1",
		Name:     "Test Driver",
		Coord:    models.Coord{Lng: -73.9352, Lat: 40.7306},
	})
	readUntil(t, requester, models.EventDriversUpdate)

	send(t, requester, models.EventRideRequest, "r1", models.RideRequestInput{
		Pickup: models.Coord{Lng: -73.9400, Lat: 40.7310},
	})

	var timeout models.RideTimeoutNotice
	if err := json.Unmarshal(readUntil(t, requester, models.EventRideTimeout), &timeout); err != nil {
		t.Fatalf("decode timeout: %v", err)
	}
	if timeout.RideID == "" {
		t.Fatal("expected rideId in timeout notice")
	}
}

func TestInvalidPresenceGetsErrorEvent(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	driver := dial(t, srv, "driver-1")

	send(t, driver, models.EventUpdateLocation, "", models.LocationUpdate{
		DriverID: "d1",
		Coord:    models.Coord{Lng: 500, Lat: 0},
	})
	var notice models.ErrorNotice
	if err := json.Unmarshal(readUntil(t, driver, models.EventError), &notice); err != nil {
		t.Fatalf("decode error notice: %v", err)
	}
	if notice.Code != "INVALID_PRESENCE_DATA" {
		t.Fatalf("unexpected code %q", notice.Code)
	}
}

func TestDisconnectRemovesPresenceOverWire(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	driver := dial(t, srv, "driver-1")
	watcher := dial(t, srv, "user-1")

	send(t, driver, models.EventUpdateLocation, "", models.LocationUpdate{
		DriverID: "d1",
		Name:     "Test Driver",
		Coord:    models.Coord{Lng: -73.9352, Lat: 40.7306},
	})
	readUntil(t, watcher, models.EventDriversUpdate)

	driver.Close()

	// the removal broadcast carries an empty snapshot
	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never saw empty snapshot after disconnect")
		}
		var snapshot []models.DriverPresence
		if err := json.Unmarshal(readUntil(t, watcher, models.EventDriversUpdate), &snapshot); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if len(snapshot) == 0 {
			return
		}
	}
}
