package tests

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tracking/internal/domain"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK ORDER REPOSITORY
// ──────────────────────────────────────────────

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order

	// Counters for verification
	GetByIDCallCount      int32
	UpdateStatusCallCount int32

	// Error injection
	GetByIDError      error
	UpdateStatusError error
}

// NewMockOrderRepository creates a new mock order repository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]*domain.Order),
	}
}

// AddOrder adds an order to the mock repository.
func (m *MockOrderRepository) AddOrder(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *order
	return &copy, nil
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, at time.Time) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	order.Status = status
	order.UpdatedAt = at
	return nil
}

func (m *MockOrderRepository) ListActiveByDriver(ctx context.Context, driverID string) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if o.DriverID == driverID && !o.Status.IsTerminal() {
			copy := *o
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetStatus returns the persisted status for test assertions.
func (m *MockOrderRepository) GetStatus(id string) domain.DeliveryStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[id]; ok {
		return o.Status
	}
	return ""
}

// ──────────────────────────────────────────────
// MOCK TRACKING LOG
// ──────────────────────────────────────────────

// MockTrackingLog is a mock implementation of TrackingLogRepository.
type MockTrackingLog struct {
	mu     sync.RWMutex
	points []*domain.TrackingPoint

	// Counters
	AppendCallCount int32

	// Error injection
	AppendError error
}

// NewMockTrackingLog creates a new mock tracking log.
func NewMockTrackingLog() *MockTrackingLog {
	return &MockTrackingLog{}
}

func (m *MockTrackingLog) Append(ctx context.Context, point *domain.TrackingPoint) error {
	atomic.AddInt32(&m.AppendCallCount, 1)
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *point
	m.points = append(m.points, &copy)
	return nil
}

func (m *MockTrackingLog) ListByOrder(ctx context.Context, orderID string, limit int) ([]*domain.TrackingPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.TrackingPoint, 0)
	for i := len(m.points) - 1; i >= 0 && len(result) < limit; i-- {
		if m.points[i].OrderID == orderID {
			copy := *m.points[i]
			result = append(result, &copy)
		}
	}
	return result, nil
}

// Count returns how many points were logged for an order.
func (m *MockTrackingLog) Count(orderID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.OrderID == orderID {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK NOTIFICATION REPOSITORY
// ──────────────────────────────────────────────

// MockNotificationRepository is a mock implementation of NotificationRepository.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications []*domain.Notification

	// Error injection
	CreateError error
}

// NewMockNotificationRepository creates a new mock notification repository.
func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{}
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

// All returns every stored notification.
func (m *MockNotificationRepository) All() []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Notification, len(m.notifications))
	copy(result, m.notifications)
	return result
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

// MockPublisher records broker publishes.
type MockPublisher struct {
	mu   sync.Mutex
	keys []string

	// Error injection
	PublishError error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishJSON(ctx context.Context, routingKey string, msg any) error {
	if m.PublishError != nil {
		return m.PublishError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, routingKey)
	return nil
}

// RoutingKeys returns the routing keys published so far.
func (m *MockPublisher) RoutingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.keys))
	copy(result, m.keys)
	return result
}

// ──────────────────────────────────────────────
// MOCK ROUTING CLIENT
// ──────────────────────────────────────────────

// MockRoutingClient is a mock distance-matrix client.
type MockRoutingClient struct {
	// Control behavior
	Duration time.Duration
	Err      error
	// Block waits for the context deadline before failing.
	Block bool

	// Counters
	CallCount int32
}

func (m *MockRoutingClient) TravelDuration(ctx context.Context, from, to domain.GeoPoint) (time.Duration, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.Block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Duration, nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStore.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]redis.DriverLocation

	// Counters
	UpdateLocationCallCount int32

	// Error injection
	UpdateLocationError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make(map[string]redis.DriverLocation),
	}
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	if m.UpdateLocationError != nil {
		return m.UpdateLocationError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[driverID] = redis.DriverLocation{DriverID: driverID, Lat: lat, Lng: lng, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MockLocationStore) GetLocation(ctx context.Context, driverID string) (*redis.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[driverID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	return nil
}

// HasLocation checks if a driver location exists.
func (m *MockLocationStore) HasLocation(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]time.Time

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Force lock failure
	ForceAcquireFailure bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]time.Time),
	}
}

func (m *MockLockStore) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.ForceAcquireFailure {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := "lock:order:" + orderID
	if expiry, exists := m.locks[key]; exists && time.Now().Before(expiry) {
		return false, nil // Lock still held.
	}

	m.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockLockStore) ReleaseOrderLock(ctx context.Context, orderID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, "lock:order:"+orderID)
	return nil
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is a mock implementation of CacheStore.
type MockCacheStore struct {
	mu     sync.RWMutex
	orders map[string]*redis.CachedOrder

	// Counters
	InvalidateCallCount int32
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{
		orders: make(map[string]*redis.CachedOrder),
	}
}

func (m *MockCacheStore) GetOrder(ctx context.Context, orderID string) (*redis.CachedOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	copy := *o
	return &copy, nil
}

func (m *MockCacheStore) SetOrder(ctx context.Context, order *redis.CachedOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *order
	m.orders[order.ID] = &copy
	return nil
}

func (m *MockCacheStore) SetOrdersBatch(ctx context.Context, orders []*redis.CachedOrder) error {
	for _, o := range orders {
		_ = m.SetOrder(ctx, o)
	}
	return nil
}

func (m *MockCacheStore) InvalidateOrder(ctx context.Context, orderID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
	return nil
}

// Has reports whether the order is cached.
func (m *MockCacheStore) Has(orderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.orders[orderID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK CONNECTION
// ──────────────────────────────────────────────

// ReceivedEvent is one decoded outbound frame.
type ReceivedEvent struct {
	Event string
	Data  map[string]any
}

// MockConn is an in-memory realtime.Conn.
type MockConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool

	// Error injection
	SendError error
}

// NewMockConn creates a new mock connection.
func NewMockConn(id string) *MockConn {
	return &MockConn{id: id}
}

func (m *MockConn) ID() string { return m.id }

func (m *MockConn) Send(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return realtime.ErrConnClosed
	}
	if m.SendError != nil {
		return m.SendError
	}
	m.frames = append(m.frames, msg)
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events decodes every frame received so far.
func (m *MockConn) Events() []ReceivedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ReceivedEvent, 0, len(m.frames))
	for _, f := range m.frames {
		var env struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			continue
		}
		result = append(result, ReceivedEvent{Event: env.Event, Data: env.Data})
	}
	return result
}

// EventsNamed returns the received events with the given name.
func (m *MockConn) EventsNamed(name string) []ReceivedEvent {
	var result []ReceivedEvent
	for _, e := range m.Events() {
		if e.Event == name {
			result = append(result, e)
		}
	}
	return result
}

// Reset drops every received frame.
func (m *MockConn) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
}

// IsClosed reports whether Close was called.
func (m *MockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: foreign key violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
)
