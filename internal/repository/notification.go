package repository

import (
	"context"

	"tracking/internal/domain"
)

// NotificationRepository stores notification records for the delivery subsystem.
type NotificationRepository interface {
	// Create persists a new notification.
	Create(ctx context.Context, n *domain.Notification) error
}
