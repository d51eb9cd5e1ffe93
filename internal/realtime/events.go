package realtime

import (
	"time"

	"tracking/internal/domain"
)

// Inbound event names.
const (
	EventDriverConnect   = "driver.connect"
	EventCustomerConnect = "customer.connect"
	EventDriverLocation  = "driver.location"
	EventDeliveryStatus  = "delivery.status"
	EventOrderSubscribe  = "order.subscribe"
	EventETARequest      = "order.eta.request"
)

// Outbound event names.
const (
	EventConnected         = "connected"
	EventLocationBroadcast = "delivery.location"
	EventStatusBroadcast   = "delivery.status"
	EventETABroadcast      = "delivery.eta"
	EventOrderSnapshot     = "order.snapshot"
	EventLocationAck       = "location.updated"
	EventStatusAck         = "status.updated"
	EventDriverDeliveries  = "driver.deliveries"
	EventError             = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// LocationEvent is broadcast to an order's room after an accepted ping.
type LocationEvent struct {
	OrderID    string                `json:"order_id"`
	DriverID   string                `json:"driver_id"`
	Location   domain.GeoPoint       `json:"location"`
	Heading    *float64              `json:"heading"`
	Speed      *float64              `json:"speed"`
	EtaMinutes *int                  `json:"eta_minutes"`
	DistanceKm *float64              `json:"distance_km"`
	Status     domain.DeliveryStatus `json:"status"`
	Timestamp  time.Time             `json:"timestamp"`
}

// StatusEvent is broadcast to an order's room after a transition.
type StatusEvent struct {
	OrderID   string                `json:"order_id"`
	Status    domain.DeliveryStatus `json:"status"`
	Previous  domain.DeliveryStatus `json:"previous_status"`
	Notes     string                `json:"notes,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// ETAEvent is broadcast to an order's room when the ETA is recomputed on request.
type ETAEvent struct {
	OrderID    string    `json:"order_id"`
	EtaMinutes *int      `json:"eta_minutes"`
	DistanceKm *float64  `json:"distance_km"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// SnapshotEvent is sent to a connection right after it subscribes.
// Live is false when no driver has reported yet and the fields come from the order.
type SnapshotEvent struct {
	OrderID         string                `json:"order_id"`
	Status          domain.DeliveryStatus `json:"status"`
	RestaurantName  string                `json:"restaurant_name,omitempty"`
	DriverID        string                `json:"driver_id,omitempty"`
	Destination     *domain.Destination   `json:"destination"`
	CurrentLocation *domain.GeoPoint      `json:"current_location"`
	EtaMinutes      *int                  `json:"eta_minutes"`
	DistanceKm      *float64              `json:"distance_km"`
	LastUpdate      *time.Time            `json:"last_update"`
	Live            bool                  `json:"live"`
	Timestamp       time.Time             `json:"timestamp"`
}

// LocationAckEvent answers the driver that sent a ping.
type LocationAckEvent struct {
	OrderID    string                `json:"order_id"`
	EtaMinutes *int                  `json:"eta_minutes"`
	DistanceKm *float64              `json:"distance_km"`
	Status     domain.DeliveryStatus `json:"status"`
	Ignored    bool                  `json:"ignored,omitempty"`
	Stale      bool                  `json:"stale,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// StatusAckEvent answers the actor that requested a transition.
type StatusAckEvent struct {
	OrderID   string                `json:"order_id"`
	Status    domain.DeliveryStatus `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
}

// ConnectedEvent confirms a driver or customer connect.
type ConnectedEvent struct {
	ConnectionID string      `json:"connection_id"`
	Role         domain.Role `json:"role"`
	IdentityID   string      `json:"identity_id"`
	Timestamp    time.Time   `json:"timestamp"`
}

// DeliverySummary is one entry of DriverDeliveriesEvent.
type DeliverySummary struct {
	OrderID     string                `json:"order_id"`
	Status      domain.DeliveryStatus `json:"status"`
	Destination *domain.Destination   `json:"destination"`
}

// DriverDeliveriesEvent lists the driver's open orders after connect.
type DriverDeliveriesEvent struct {
	DriverID   string            `json:"driver_id"`
	Deliveries []DeliverySummary `json:"deliveries"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ErrorEvent reports a failed inbound event to its sender.
type ErrorEvent struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Event     string    `json:"event,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
