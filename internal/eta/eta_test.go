package eta

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type fixedClient struct {
	secs  float64
	err   error
	calls int
}

func (f *fixedClient) EstimateSeconds(from, to models.Coord) (float64, error) {
	f.calls++
	return f.secs, f.err
}

func TestMinutesFallbackUsesDistance(t *testing.T) {
	e := &Estimator{SpeedKmh: 30}
	// ~1.1 km apart; at 30 km/h that is a bit over two minutes.
	from := models.Coord{Lng: 0, Lat: 0}
	to := models.Coord{Lng: 0, Lat: 0.01}
	m := e.Minutes(from, to)
	if m < 2 || m > 4 {
		t.Fatalf("expected a couple of minutes, got %d", m)
	}
}

func TestMinutesFloorsAtOne(t *testing.T) {
	e := &Estimator{SpeedKmh: 30}
	if m := e.Minutes(models.Coord{}, models.Coord{}); m != 1 {
		t.Fatalf("expected floor of 1 minute, got %d", m)
	}
}

func TestMinutesPrefersClientAndCaches(t *testing.T) {
	c := &fixedClient{secs: 300}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute), SpeedKmh: 30}
	from := models.Coord{Lng: 1, Lat: 1}
	to := models.Coord{Lng: 2, Lat: 2}
	if m := e.Minutes(from, to); m != 5 {
		t.Fatalf("expected 5 minutes from client, got %d", m)
	}
	if m := e.Minutes(from, to); m != 5 {
		t.Fatalf("expected cached 5 minutes, got %d", m)
	}
	if c.calls != 1 {
		t.Fatalf("expected a single client call, got %d", c.calls)
	}
}

func TestMinutesClientErrorFallsBack(t *testing.T) {
	c := &fixedClient{err: errors.New("routing down")}
	e := &Estimator{Client: c, SpeedKmh: 30}
	if m := e.Minutes(models.Coord{}, models.Coord{Lng: 0, Lat: 0.01}); m < 1 {
		t.Fatalf("expected fallback estimate, got %d", m)
	}
}
