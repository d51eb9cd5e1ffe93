package domain

import "time"

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationOrderStatus NotificationType = "ORDER_STATUS"
)

// Notification is a message handed to the push/email/SMS subsystem.
type Notification struct {
	ID          string                 `json:"id"`
	Type        NotificationType       `json:"type"`
	RecipientID string                 `json:"recipient_id"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
