package models

import "time"

// DriverPosition is the latest known location of a driver.
type DriverPosition struct {
	DriverID  string
	Latitude  float64
	Longitude float64
	UpdatedAt time.Time
}

// NearbyDriver is one ranked candidate of a nearby-drivers query.
type NearbyDriver struct {
	DriverPosition
	DistanceMeters float64
}

// LocationEvent is what the relay publishes to the optional event stream
// for every accepted location update.
type LocationEvent struct {
	DriverID  string  `json:"driver_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // epoch ms
}

// EventFromPosition converts a registry entry into its stream form.
func EventFromPosition(p DriverPosition) LocationEvent {
	return LocationEvent{
		DriverID:  p.DriverID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.UpdatedAt.UnixMilli(),
	}
}
