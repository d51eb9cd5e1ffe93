package domain

import "time"

// TrackingSnapshot is the latest known tracking state for one order.
type TrackingSnapshot struct {
	OrderID         string         `json:"order_id"`
	DriverID        string         `json:"driver_id"`
	CurrentLocation GeoPoint       `json:"current_location"`
	Destination     *Destination   `json:"destination"`
	EtaMinutes      *int           `json:"eta_minutes"`
	DistanceKm      *float64       `json:"distance_km"`
	Status          DeliveryStatus `json:"status"`
	Heading         *float64       `json:"heading"`
	Speed           *float64       `json:"speed"`
	RecordedAt      time.Time      `json:"recorded_at"` // client-side time of the ping, zero if not sent
	LastUpdate      time.Time      `json:"last_update"`
}
