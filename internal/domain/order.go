package domain

import "time"

// Destination is where an order is being delivered.
type Destination struct {
	Location GeoPoint `json:"location"`
	Address  string   `json:"address,omitempty"`
}

// Order is the slice of an order the tracking engine reads and updates.
type Order struct {
	ID             string
	CustomerID     string
	DriverID       string
	RestaurantName string
	Status         DeliveryStatus
	Destination    *Destination // nil when the address has no coordinates
	UpdatedAt      time.Time
}

// TrackingPoint is one raw driver ping kept in the durable tracking log.
type TrackingPoint struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	DriverID   string    `json:"driver_id"`
	Location   GeoPoint  `json:"location"`
	Heading    *float64  `json:"heading"`
	Speed      *float64  `json:"speed"` // km/h
	RecordedAt time.Time `json:"recorded_at"`
}
