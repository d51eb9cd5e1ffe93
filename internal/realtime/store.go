package realtime

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/metrics"
)

const storeShardCount = 32

// Store holds the latest tracking snapshot per active order.
// Entries leave on terminal status (Close) or after the idle TTL (Sweep).
type Store struct {
	shards [storeShardCount]*storeShard
	ttl    time.Duration
	now    func() time.Time
}

type storeShard struct {
	mu     sync.Mutex
	items  map[string]domain.TrackingSnapshot
	closed map[string]time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store that forgets snapshots idle for longer than ttl.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	s := &Store{ttl: ttl, now: time.Now}
	for i := range s.shards {
		s.shards[i] = &storeShard{
			items:  make(map[string]domain.TrackingSnapshot),
			closed: make(map[string]time.Time),
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shard(orderID string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return s.shards[h.Sum32()%storeShardCount]
}

// Upsert replaces or creates the snapshot for snap.OrderID and refreshes LastUpdate.
func (s *Store) Upsert(snap domain.TrackingSnapshot) error {
	_, err := s.Update(snap.OrderID, func(domain.TrackingSnapshot, bool) (domain.TrackingSnapshot, error) {
		return snap, nil
	})
	return err
}

// Update applies fn to the current snapshot under the order's lock. fn sees the zero
// snapshot and false when none exists. An error from fn leaves the store untouched.
func (s *Store) Update(orderID string, fn func(cur domain.TrackingSnapshot, exists bool) (domain.TrackingSnapshot, error)) (domain.TrackingSnapshot, error) {
	sh := s.shard(orderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, closed := sh.closed[orderID]; closed {
		return domain.TrackingSnapshot{}, ErrOrderClosed
	}

	cur, exists := sh.items[orderID]
	next, err := fn(cur, exists)
	if err != nil {
		return domain.TrackingSnapshot{}, err
	}

	next.OrderID = orderID
	next.LastUpdate = s.now()
	sh.items[orderID] = next
	if !exists {
		metrics.ActiveDeliveries.Inc()
	}

	return next, nil
}

// Get returns the snapshot for an order.
func (s *Store) Get(orderID string) (domain.TrackingSnapshot, bool) {
	sh := s.shard(orderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	snap, ok := sh.items[orderID]
	return snap, ok
}

// Evict drops the snapshot for an order. It reports whether one existed.
func (s *Store) Evict(orderID string) bool {
	sh := s.shard(orderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.evictLocked(orderID)
}

// Close evicts the order and refuses further writes to it until the tombstone expires.
func (s *Store) Close(orderID string) {
	sh := s.shard(orderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.evictLocked(orderID)
	sh.closed[orderID] = s.now()
}

// IsClosed reports whether the order has been closed.
func (s *Store) IsClosed(orderID string) bool {
	sh := s.shard(orderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.closed[orderID]
	return ok
}

// Len returns the number of live snapshots.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes snapshots idle longer than the TTL and tombstones older than the TTL.
// It returns the number of snapshots removed.
func (s *Store) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for orderID, snap := range sh.items {
			if now.Sub(snap.LastUpdate) > s.ttl {
				sh.evictLocked(orderID)
				removed++
			}
		}
		for orderID, at := range sh.closed {
			if now.Sub(at) > s.ttl {
				delete(sh.closed, orderID)
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Info("evicted idle deliveries", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (sh *storeShard) evictLocked(orderID string) bool {
	if _, ok := sh.items[orderID]; !ok {
		return false
	}
	delete(sh.items, orderID)
	metrics.ActiveDeliveries.Dec()
	return true
}
