package service

import (
	"errors"
	"fmt"

	"tracking/internal/domain"
)

var (
	// ErrInvalidOrderID is returned when order ID is empty.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidIdentity is returned when a connect carries no identity.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidHeading is returned when heading is outside [0, 360).
	ErrInvalidHeading = errors.New("invalid heading")

	// ErrInvalidSpeed is returned when speed is negative.
	ErrInvalidSpeed = errors.New("invalid speed")

	// ErrInvalidStatus is returned when the requested status is unknown.
	ErrInvalidStatus = errors.New("invalid delivery status")

	// ErrNotAuthenticated is returned when a connection acts before connecting as a driver or customer.
	ErrNotAuthenticated = errors.New("connection not authenticated")

	// ErrPermissionDenied is returned when the actor may not act on the order.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransitionInProgress is returned when another instance holds the order's status lock.
	ErrTransitionInProgress = errors.New("status transition already in progress")

	// ErrNoActiveDelivery is returned when the order has no live tracking snapshot.
	ErrNoActiveDelivery = errors.New("no active delivery for order")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From domain.DeliveryStatus
	To   domain.DeliveryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
