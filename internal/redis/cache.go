package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore caches order lookups hit on every driver ping.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// OrderCacheTTL bounds how long a cached order survives without an explicit invalidation.
const OrderCacheTTL = 30 * time.Second

const orderCachePrefix = "cache:order:"

// CachedOrder represents a cached order entity.
type CachedOrder struct {
	ID             string   `json:"id"`
	CustomerID     string   `json:"customer_id"`
	DriverID       string   `json:"driver_id"`
	RestaurantName string   `json:"restaurant_name"`
	Status         string   `json:"status"`
	DestinationLat *float64 `json:"destination_lat,omitempty"`
	DestinationLng *float64 `json:"destination_lng,omitempty"`
	Address        string   `json:"address"`
}

// GetOrder retrieves an order from cache. A miss returns nil, nil.
func (s *CacheStore) GetOrder(ctx context.Context, orderID string) (*CachedOrder, error) {
	data, err := s.client.Get(ctx, orderCachePrefix+orderID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var order CachedOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SetOrder stores an order in cache.
func (s *CacheStore) SetOrder(ctx context.Context, order *CachedOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, orderCachePrefix+order.ID, data, OrderCacheTTL).Err()
}

// SetOrdersBatch stores multiple orders in cache using a pipeline.
func (s *CacheStore) SetOrdersBatch(ctx context.Context, orders []*CachedOrder) error {
	if len(orders) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, order := range orders {
		data, err := json.Marshal(order)
		if err != nil {
			continue
		}
		pipe.Set(ctx, orderCachePrefix+order.ID, data, OrderCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateOrder removes an order from cache.
func (s *CacheStore) InvalidateOrder(ctx context.Context, orderID string) error {
	return s.client.Del(ctx, orderCachePrefix+orderID).Err()
}
