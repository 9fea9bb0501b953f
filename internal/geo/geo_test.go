package geo

import (
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := HaversineKm(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// East Williamsburg to the requester point of the dispatch smoke test;
	// the two are well under a kilometer apart.
	driver := models.Coord{Lng: -73.9352, Lat: 40.7306}
	client := models.Coord{Lng: -73.9400, Lat: 40.7310}
	d := HaversineKm(client, driver)
	if d <= 0 || d >= 1 {
		t.Fatalf("expected sub-kilometer distance, got %f", d)
	}
}

func TestQueryOrderedAndBounded(t *testing.T) {
	idx := NewIndex(nil)
	origin := models.Coord{Lng: 0, Lat: 0}
	pop := []models.DriverPresence{
		{DriverID: "far", Coord: models.Coord{Lng: 0, Lat: 0.03}},
		{DriverID: "near", Coord: models.Coord{Lng: 0, Lat: 0.01}},
		{DriverID: "outside", Coord: models.Coord{Lng: 0, Lat: 1}},
	}
	got := idx.Query(origin, 5, pop)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Presence.DriverID != "near" || got[1].Presence.DriverID != "far" {
		t.Fatalf("wrong order: %s, %s", got[0].Presence.DriverID, got[1].Presence.DriverID)
	}
	for _, c := range got {
		if c.DistanceKm > 5 {
			t.Fatalf("candidate %s beyond radius: %f", c.Presence.DriverID, c.DistanceKm)
		}
	}
}

func TestQueryStableTies(t *testing.T) {
	idx := NewIndex(nil)
	pop := []models.DriverPresence{
		{DriverID: "a", Coord: models.Coord{Lng: 0, Lat: 0.01}},
		{DriverID: "b", Coord: models.Coord{Lng: 0, Lat: 0.01}},
	}
	got := idx.Query(models.Coord{}, 5, pop)
	if len(got) != 2 || got[0].Presence.DriverID != "a" || got[1].Presence.DriverID != "b" {
		t.Fatalf("expected snapshot order preserved on ties, got %v", got)
	}
}

func TestQuerySkipsInvalidEntries(t *testing.T) {
	idx := NewIndex(nil)
	pop := []models.DriverPresence{
		{DriverID: "bogus", Coord: models.Coord{Lng: 500, Lat: 0}},
		{DriverID: "ok", Coord: models.Coord{Lng: 0, Lat: 0.01}},
	}
	got := idx.Query(models.Coord{}, 5, pop)
	if len(got) != 1 || got[0].Presence.DriverID != "ok" {
		t.Fatalf("expected only the valid entry, got %v", got)
	}
}

func TestQueryDefaultRadius(t *testing.T) {
	idx := NewIndex(nil)
	pop := []models.DriverPresence{
		{DriverID: "in", Coord: models.Coord{Lng: 0, Lat: 0.04}},  // ~4.4 km
		{DriverID: "out", Coord: models.Coord{Lng: 0, Lat: 0.06}}, // ~6.7 km
	}
	got := idx.Query(models.Coord{}, 0, pop)
	if len(got) != 1 || got[0].Presence.DriverID != "in" {
		t.Fatalf("expected default 5 km radius to apply, got %v", got)
	}
}
