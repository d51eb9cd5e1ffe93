package domain

// DeliveryStatus represents where an order is in its delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "PENDING"
	DeliveryStatusConfirmed      DeliveryStatus = "CONFIRMED"
	DeliveryStatusPreparing      DeliveryStatus = "PREPARING"
	DeliveryStatusPickedUp       DeliveryStatus = "PICKED_UP"
	DeliveryStatusOutForDelivery DeliveryStatus = "OUT_FOR_DELIVERY"
	DeliveryStatusNearby         DeliveryStatus = "NEARBY"
	DeliveryStatusDelivered      DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed         DeliveryStatus = "FAILED"
	DeliveryStatusCancelled      DeliveryStatus = "CANCELLED"
	DeliveryStatusReturned       DeliveryStatus = "RETURNED"
)

// deliveryTransitions lists the legal next statuses for every non-terminal status.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending: {
		DeliveryStatusConfirmed, DeliveryStatusCancelled, DeliveryStatusFailed,
	},
	DeliveryStatusConfirmed: {
		DeliveryStatusPreparing, DeliveryStatusCancelled, DeliveryStatusFailed,
	},
	DeliveryStatusPreparing: {
		DeliveryStatusPickedUp, DeliveryStatusOutForDelivery, DeliveryStatusCancelled, DeliveryStatusFailed,
	},
	DeliveryStatusPickedUp: {
		DeliveryStatusOutForDelivery, DeliveryStatusNearby, DeliveryStatusDelivered,
		DeliveryStatusCancelled, DeliveryStatusFailed, DeliveryStatusReturned,
	},
	DeliveryStatusOutForDelivery: {
		DeliveryStatusNearby, DeliveryStatusDelivered,
		DeliveryStatusCancelled, DeliveryStatusFailed, DeliveryStatusReturned,
	},
	DeliveryStatusNearby: {
		DeliveryStatusDelivered, DeliveryStatusCancelled, DeliveryStatusFailed, DeliveryStatusReturned,
	},
}

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusConfirmed, DeliveryStatusPreparing,
		DeliveryStatusPickedUp, DeliveryStatusOutForDelivery, DeliveryStatusNearby,
		DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusCancelled, DeliveryStatusReturned:
		return true
	}
	return false
}

// IsTerminal reports whether no further tracking updates apply after s.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusCancelled, DeliveryStatusReturned:
		return true
	}
	return false
}

// IsEnRoute reports whether the driver is carrying the order towards the customer.
func (s DeliveryStatus) IsEnRoute() bool {
	return s == DeliveryStatusPickedUp || s == DeliveryStatusOutForDelivery
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to DeliveryStatus) bool {
	for _, next := range deliveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal targets from s. Terminal statuses have none.
func NextStatuses(s DeliveryStatus) []DeliveryStatus {
	next := deliveryTransitions[s]
	out := make([]DeliveryStatus, len(next))
	copy(out, next)
	return out
}
