package tests

import (
	"context"
	"testing"
	"time"

	"tracking/internal/auth"
	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
	"tracking/internal/service"
)

var (
	_ repository.OrderRepository        = (*MockOrderRepository)(nil)
	_ repository.TrackingLogRepository  = (*MockTrackingLog)(nil)
	_ repository.NotificationRepository = (*MockNotificationRepository)(nil)
	_ service.Publisher                 = (*MockPublisher)(nil)
	_ service.RoutingClient             = (*MockRoutingClient)(nil)
	_ redis.LocationStoreInterface      = (*MockLocationStore)(nil)
	_ redis.LockStoreInterface          = (*MockLockStore)(nil)
	_ redis.CacheStoreInterface         = (*MockCacheStore)(nil)
	_ realtime.Conn                     = (*MockConn)(nil)
)

// Cairo downtown to Zamalek, roughly 2.43 km apart.
var (
	driverStart = domain.GeoPoint{Latitude: 30.0444, Longitude: 31.2357}
	destination = domain.GeoPoint{Latitude: 30.0626, Longitude: 31.2497}
)

// fixture wires the tracking services over in-memory collaborators.
type fixture struct {
	engine        *realtime.Engine
	orders        *MockOrderRepository
	trackingLog   *MockTrackingLog
	notifications *MockNotificationRepository
	publisher     *MockPublisher
	routing       *MockRoutingClient
	locations     *MockLocationStore
	locks         *MockLockStore
	cache         *MockCacheStore

	eta           *service.ETAService
	status        *service.StatusService
	tracking      *service.TrackingService
	sessions      *service.SessionService
	subscriptions *service.SubscriptionService
}

func newFixture(t *testing.T, routing *MockRoutingClient) *fixture {
	t.Helper()

	if routing == nil {
		routing = &MockRoutingClient{Duration: 1200 * time.Second}
	}
	log := logger.Discard()

	f := &fixture{
		engine:        realtime.NewEngine(4*time.Hour, log),
		orders:        NewMockOrderRepository(),
		trackingLog:   NewMockTrackingLog(),
		notifications: NewMockNotificationRepository(),
		publisher:     NewMockPublisher(),
		routing:       routing,
		locations:     NewMockLocationStore(),
		locks:         NewMockLockStore(),
		cache:         NewMockCacheStore(),
	}

	f.eta = service.NewETAService(f.orders, f.cache, f.routing, service.ETAConfig{
		FallbackSpeedKmh: 30,
		Timeout:          50 * time.Millisecond,
	}, log)
	notificationService := service.NewNotificationService(f.notifications, f.publisher, log)
	f.status = service.NewStatusService(f.engine, f.orders, f.cache, f.locks, notificationService, time.Second, log)
	f.tracking = service.NewTrackingService(f.engine, f.orders, f.cache, f.trackingLog, f.eta, f.status,
		service.OrderOwnership{}, f.locations, service.TrackingConfig{
			NearbyThresholdKm:  0.5,
			HistoryMaxPageSize: 100,
		}, log)
	f.sessions = service.NewSessionService(f.engine, f.orders, f.cache, f.locations, auth.AllowAll{}, log)
	f.subscriptions = service.NewSubscriptionService(f.engine, f.orders, f.cache, service.OrderOwnership{}, f.locations, log)

	return f
}

// addOrder stores an order headed to destination.
func (f *fixture) addOrder(id, customerID, driverID string, status domain.DeliveryStatus) {
	f.orders.AddOrder(&domain.Order{
		ID:             id,
		CustomerID:     customerID,
		DriverID:       driverID,
		RestaurantName: "Koshary Abou Tarek",
		Status:         status,
		Destination:    &domain.Destination{Location: destination, Address: "26th of July St, Zamalek"},
	})
}

// connect registers a mock connection for an identity.
func (f *fixture) connect(t *testing.T, connID string, role domain.Role, identityID string) *MockConn {
	t.Helper()
	conn := NewMockConn(connID)
	if _, err := f.sessions.Connect(context.Background(), service.ConnectRequest{
		Conn:       conn,
		Role:       role,
		IdentityID: identityID,
	}); err != nil {
		t.Fatalf("connect %s: %v", identityID, err)
	}
	return conn
}

// subscribe connects a customer and subscribes it to the order.
func (f *fixture) subscribe(t *testing.T, connID, customerID, orderID string) *MockConn {
	t.Helper()
	conn := f.connect(t, connID, domain.RoleCustomer, customerID)
	if _, err := f.subscriptions.Subscribe(context.Background(), connID, orderID); err != nil {
		t.Fatalf("subscribe %s to %s: %v", connID, orderID, err)
	}
	conn.Reset()
	return conn
}

func (f *fixture) ping(orderID, driverID string, p domain.GeoPoint) (*realtime.LocationAckEvent, error) {
	return f.tracking.UpdateLocation(context.Background(), service.LocationUpdate{
		OrderID:   orderID,
		Actor:     service.Actor{ID: driverID, Role: domain.RoleDriver},
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
	})
}

func driverActor(id string) service.Actor {
	return service.Actor{ID: id, Role: domain.RoleDriver}
}

func operatorActor() service.Actor {
	return service.Actor{ID: "ops-1", Role: domain.RoleOperator}
}

func loggerForTests() logger.Logger {
	return logger.Discard()
}

func serviceConnect(conn *MockConn, driverID string) service.ConnectRequest {
	return service.ConnectRequest{Conn: conn, Role: domain.RoleDriver, IdentityID: driverID}
}
