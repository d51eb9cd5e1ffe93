package service

import (
	"context"

	"tracking/internal/domain"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// orderLoader reads orders through the Redis cache when one is configured.
type orderLoader struct {
	repo       repository.OrderRepository
	cacheStore redis.CacheStoreInterface
}

func newOrderLoader(repo repository.OrderRepository, cacheStore redis.CacheStoreInterface) *orderLoader {
	return &orderLoader{repo: repo, cacheStore: cacheStore}
}

func (l *orderLoader) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	if l.cacheStore != nil {
		if cached, err := l.cacheStore.GetOrder(ctx, orderID); err == nil && cached != nil {
			return fromCachedOrder(cached), nil
		}
	}

	order, err := l.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if l.cacheStore != nil {
		_ = l.cacheStore.SetOrder(ctx, toCachedOrder(order))
	}
	return order, nil
}

func (l *orderLoader) Invalidate(ctx context.Context, orderID string) {
	if l.cacheStore != nil {
		_ = l.cacheStore.InvalidateOrder(ctx, orderID)
	}
}

func (l *orderLoader) Warm(ctx context.Context, orders []*domain.Order) {
	if l.cacheStore == nil || len(orders) == 0 {
		return
	}
	cached := make([]*redis.CachedOrder, 0, len(orders))
	for _, o := range orders {
		cached = append(cached, toCachedOrder(o))
	}
	_ = l.cacheStore.SetOrdersBatch(ctx, cached)
}

func toCachedOrder(o *domain.Order) *redis.CachedOrder {
	c := &redis.CachedOrder{
		ID:             o.ID,
		CustomerID:     o.CustomerID,
		DriverID:       o.DriverID,
		RestaurantName: o.RestaurantName,
		Status:         string(o.Status),
	}
	if o.Destination != nil {
		lat, lng := o.Destination.Location.Latitude, o.Destination.Location.Longitude
		c.DestinationLat = &lat
		c.DestinationLng = &lng
		c.Address = o.Destination.Address
	}
	return c
}

func fromCachedOrder(c *redis.CachedOrder) *domain.Order {
	o := &domain.Order{
		ID:             c.ID,
		CustomerID:     c.CustomerID,
		DriverID:       c.DriverID,
		RestaurantName: c.RestaurantName,
		Status:         domain.DeliveryStatus(c.Status),
	}
	if c.DestinationLat != nil && c.DestinationLng != nil {
		o.Destination = &domain.Destination{
			Location: domain.GeoPoint{Latitude: *c.DestinationLat, Longitude: *c.DestinationLng},
			Address:  c.Address,
		}
	}
	return o
}
