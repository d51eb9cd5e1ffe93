package repository

import (
	"context"
	"time"

	"tracking/internal/domain"
)

// OrderRepository defines the order operations the tracking engine needs.
type OrderRepository interface {
	// GetByID retrieves an order with its delivery destination.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// UpdateStatus persists a new delivery status.
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, at time.Time) error

	// ListActiveByDriver returns the driver's orders that are not in a terminal status.
	ListActiveByDriver(ctx context.Context, driverID string) ([]*domain.Order, error)
}
