package models

import "encoding/json"

// Event names exchanged over the persistent connection.
const (
	EventUpdateLocation   = "update_location"
	EventDriversUpdate    = "drivers_update"
	EventGetNearbyDrivers = "get_nearby_drivers"
	EventRideRequest      = "ride_request"
	EventNewRide          = "new_ride"
	EventRideAccept       = "ride_accept"
	EventRideCancel       = "ride_cancel"
	EventRideStatus       = "ride_status"
	EventRideTimeout      = "ride_timeout"
	EventRideWithdrawn    = "ride_withdrawn"
	EventError            = "error"
)

// Envelope frames every message in both directions. ID is an optional
// client-chosen correlation token; acks echo it back.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LocationUpdate is the update_location payload from a driver.
type LocationUpdate struct {
	DriverID string `json:"driverId"`
	Name     string `json:"name"`
	Coord    Coord  `json:"coordinates"`
}

// NearbyQuery is the get_nearby_drivers payload from a requester.
// RadiusKm is optional; non-positive values fall back to the default.
type NearbyQuery struct {
	Lng      float64  `json:"lng"`
	Lat      float64  `json:"lat"`
	RadiusKm *float64 `json:"radiusKm,omitempty"`
}

// RideRequestInput is the ride_request payload.
type RideRequestInput struct {
	Pickup Coord `json:"pickupCoordinates"`
}

// RideAccept is a driver's attempt to win a pending ride.
type RideAccept struct {
	RideID     string `json:"rideId"`
	DriverID   string `json:"driverId"`
	ETAMinutes int    `json:"eta"`
}

// RideCancel is a requester-initiated cancellation.
type RideCancel struct {
	RideID string `json:"rideId"`
}

// RideRequestAck acknowledges ride_request synchronously.
type RideRequestAck struct {
	Status RideStatus `json:"status"`
	RideID string     `json:"rideId"`
}

// NearbyAck acknowledges get_nearby_drivers.
type NearbyAck struct {
	Status string      `json:"status"`
	Data   []Candidate `json:"data"`
}

// RideAck reports a ride's resulting status back to whichever session
// triggered a transition attempt, acceptance and cancellation alike.
type RideAck struct {
	Status RideStatus `json:"status"`
	RideID string     `json:"rideId"`
}

// ErrorAck is the structured failure reply to a request/ack event.
type ErrorAck struct {
	Status  string `json:"status"` // always "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RideStatusNotice is pushed to the requester on every lifecycle transition.
type RideStatusNotice struct {
	RideID     string     `json:"rideId"`
	Status     RideStatus `json:"status"`
	DriverID   string     `json:"driverId,omitempty"`
	ETAMinutes int        `json:"eta,omitempty"`
}

// RideTimeoutNotice is pushed to the requester when the expiry timer fires.
type RideTimeoutNotice struct {
	RideID string `json:"rideId"`
}

// RideWithdrawn tells an offered driver the ride is no longer open.
type RideWithdrawn struct {
	RideID string `json:"rideId"`
}

// ErrorNotice is the structured rejection sent back on the originating
// connection. Code is one of the dispatch error taxonomy values.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
