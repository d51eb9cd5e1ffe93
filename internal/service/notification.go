package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/repository"
)

// Publisher hands a JSON message to the outbound notification broker.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, msg any) error
}

// statusCopy is the customer-facing title and message per delivery status.
var statusCopy = map[domain.DeliveryStatus][2]string{
	domain.DeliveryStatusConfirmed:      {"Order Confirmed", "Your order from %s has been confirmed."},
	domain.DeliveryStatusPreparing:      {"Preparing Your Order", "%s is preparing your order."},
	domain.DeliveryStatusPickedUp:       {"Order Picked Up", "Your driver picked up your order from %s."},
	domain.DeliveryStatusOutForDelivery: {"Out for Delivery", "Your order from %s is on its way."},
	domain.DeliveryStatusNearby:         {"Driver Nearby", "Your driver is almost there with your order from %s."},
	domain.DeliveryStatusDelivered:      {"Order Delivered", "Your order from %s has been delivered. Enjoy!"},
	domain.DeliveryStatusFailed:         {"Delivery Failed", "We could not deliver your order from %s."},
	domain.DeliveryStatusCancelled:      {"Order Cancelled", "Your order from %s has been cancelled."},
	domain.DeliveryStatusReturned:       {"Order Returned", "Your order from %s was returned to the restaurant."},
}

// NotificationService records status notifications and hands them to the broker.
type NotificationService struct {
	repo      repository.NotificationRepository
	publisher Publisher
	log       logger.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(repo repository.NotificationRepository, publisher Publisher, log logger.Logger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		publisher: publisher,
		log:       log.Action("notification"),
	}
}

// NotifyStatusChanged tells the order's customer about a new delivery status.
func (s *NotificationService) NotifyStatusChanged(ctx context.Context, order *domain.Order, status domain.DeliveryStatus, notes string) error {
	title, message := statusMessage(order, status)

	data := map[string]interface{}{
		"order_id": order.ID,
		"status":   string(status),
	}
	if notes != "" {
		data["notes"] = notes
	}
	if order.DriverID != "" {
		data["driver_id"] = order.DriverID
	}

	notification := &domain.Notification{
		ID:          uuid.New().String(),
		Type:        domain.NotificationOrderStatus,
		RecipientID: order.CustomerID,
		Title:       title,
		Message:     message,
		Data:        data,
		CreatedAt:   time.Now(),
	}

	return s.send(ctx, notification)
}

func (s *NotificationService) send(ctx context.Context, notification *domain.Notification) error {
	if err := s.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	s.log.Debug("notification stored",
		"notification_id", notification.ID,
		"recipient_id", notification.RecipientID,
		"title", notification.Title,
	)

	if s.publisher == nil {
		return nil
	}

	status, _ := notification.Data["status"].(string)
	if err := s.publisher.PublishJSON(ctx, RoutingKeyForStatus(domain.DeliveryStatus(status)), notification); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// RoutingKeyForStatus is the broker routing key for a status notification.
func RoutingKeyForStatus(status domain.DeliveryStatus) string {
	return "order.status." + strings.ToLower(string(status))
}

func statusMessage(order *domain.Order, status domain.DeliveryStatus) (string, string) {
	restaurant := order.RestaurantName
	if restaurant == "" {
		restaurant = "the restaurant"
	}
	if c, ok := statusCopy[status]; ok {
		return c[0], fmt.Sprintf(c[1], restaurant)
	}
	return "Order Update", fmt.Sprintf("Your order from %s is now %s.", restaurant, status)
}
