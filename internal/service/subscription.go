package service

import (
	"context"
	"errors"
	"time"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// SubscriptionService binds connections to order rooms.
type SubscriptionService struct {
	engine        *realtime.Engine
	orders        *orderLoader
	ownership     OwnershipChecker
	locationStore redis.LocationStoreInterface
	log           logger.Logger
}

// NewSubscriptionService creates a new SubscriptionService. cacheStore and locationStore may be nil.
func NewSubscriptionService(
	engine *realtime.Engine,
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	ownership OwnershipChecker,
	locationStore redis.LocationStoreInterface,
	log logger.Logger,
) *SubscriptionService {
	if ownership == nil {
		ownership = OrderOwnership{}
	}
	return &SubscriptionService{
		engine:        engine,
		orders:        newOrderLoader(orderRepo, cacheStore),
		ownership:     ownership,
		locationStore: locationStore,
		log:           log.Action("subscription"),
	}
}

// Subscribe joins the connection to the order's room and sends it the current
// snapshot. A denied request leaves memberships unchanged.
func (s *SubscriptionService) Subscribe(ctx context.Context, connID, orderID string) (*realtime.SnapshotEvent, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	session, ok := s.engine.Hub.Session(connID)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.ownership.CanTrack(ctx, ActorFromSession(session), order)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.log.Warn("subscription denied",
			"connection_id", connID,
			"identity_id", session.IdentityID,
			"order_id", orderID,
		)
		return nil, ErrPermissionDenied
	}

	if err := s.engine.Hub.Join(connID, orderID); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}

	snapshot := s.snapshot(ctx, order)
	if err := s.engine.Dispatcher.SendTo(ctx, connID, realtime.EventOrderSnapshot, snapshot); err != nil {
		s.log.Warn("failed to send snapshot", "connection_id", connID, "order_id", orderID, "error", err.Error())
	}

	return snapshot, nil
}

func (s *SubscriptionService) snapshot(ctx context.Context, order *domain.Order) *realtime.SnapshotEvent {
	event := &realtime.SnapshotEvent{
		OrderID:        order.ID,
		Status:         order.Status,
		RestaurantName: order.RestaurantName,
		DriverID:       order.DriverID,
		Destination:    order.Destination,
		Timestamp:      time.Now(),
	}

	if snap, ok := s.engine.Store.Get(order.ID); ok {
		location := snap.CurrentLocation
		lastUpdate := snap.LastUpdate
		event.Status = snap.Status
		event.DriverID = snap.DriverID
		event.CurrentLocation = &location
		event.EtaMinutes = snap.EtaMinutes
		event.DistanceKm = snap.DistanceKm
		event.LastUpdate = &lastUpdate
		event.Live = true
		return event
	}

	if s.locationStore == nil || order.DriverID == "" || order.Status.IsTerminal() {
		return event
	}
	loc, err := s.locationStore.GetLocation(ctx, order.DriverID)
	if err != nil {
		s.log.Warn("failed to read driver location", "driver_id", order.DriverID, "error", err.Error())
		return event
	}
	if loc != nil {
		event.CurrentLocation = &domain.GeoPoint{Latitude: loc.Lat, Longitude: loc.Lng}
		if !loc.UpdatedAt.IsZero() {
			seen := loc.UpdatedAt
			event.LastUpdate = &seen
		}
	}
	return event
}
