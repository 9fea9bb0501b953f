package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Coord is a geographic point. On the wire it is a GeoJSON-style
// [longitude, latitude] pair.
type Coord struct {
	Lng float64
	Lat float64
}

func (c Coord) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lng, c.Lat})
}

func (c *Coord) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinates must be a [lng, lat] pair, got %d elements", len(pair))
	}
	c.Lng, c.Lat = pair[0], pair[1]
	return nil
}

// Valid reports whether the point is inside the longitude/latitude range.
// NaN fails both comparisons, so it is rejected here too.
func (c Coord) Valid() bool {
	return math.Abs(c.Lng) <= 180 && math.Abs(c.Lat) <= 90
}

// DriverPresence is the ephemeral record of a connected driver's last known
// position. One live entry exists per connection; each update_location
// overwrites the previous one.
type DriverPresence struct {
	DriverID     string    `json:"driverId"`
	ConnectionID string    `json:"connectionId"`
	Name         string    `json:"name"`
	Coord        Coord     `json:"coordinates"`
	Available    bool      `json:"available"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type RideStatus string

const (
	StatusPending       RideStatus = "pending"
	StatusAccepted      RideStatus = "accepted"
	StatusCancelled     RideStatus = "cancelled"
	StatusExpired       RideStatus = "expired"
	StatusNoDriverFound RideStatus = "no_driver_found"
)

// Terminal reports whether no further transition is permitted.
func (s RideStatus) Terminal() bool { return s != StatusPending }

// RideRequest is one ride from creation to a terminal outcome.
type RideRequest struct {
	RideID      string     `json:"rideId"`
	RequesterID string     `json:"requesterId"`
	Pickup      Coord      `json:"pickupCoordinates"`
	Status      RideStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	AcceptedBy  string     `json:"acceptedBy,omitempty"`
	ETAMinutes  int        `json:"eta,omitempty"`
}

// Candidate is one entry of the ranked set produced per proximity query.
// Never stored; recomputed on every dispatch attempt.
type Candidate struct {
	Presence   DriverPresence `json:"driver"`
	DistanceKm float64        `json:"distanceKm"`
}
