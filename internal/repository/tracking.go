package repository

import (
	"context"

	"tracking/internal/domain"
)

// TrackingLogRepository is the durable append-only log of driver pings.
type TrackingLogRepository interface {
	// Append stores a raw tracking point.
	Append(ctx context.Context, point *domain.TrackingPoint) error

	// ListByOrder returns the most recent points for an order, newest first.
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*domain.TrackingPoint, error)
}
