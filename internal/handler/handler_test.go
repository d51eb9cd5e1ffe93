package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracking/internal/auth"
	"tracking/internal/config"
	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/realtime"
	"tracking/internal/repository"
	"tracking/internal/service"
	"tracking/internal/tests"
)

var destination = domain.GeoPoint{Latitude: 30.0626, Longitude: 31.2497}

type testServer struct {
	engine *realtime.Engine
	orders *tests.MockOrderRepository
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	engine := realtime.NewEngine(time.Hour, log)
	orders := tests.NewMockOrderRepository()
	orders.AddOrder(&domain.Order{
		ID:             "order-1",
		CustomerID:     "customer-1",
		DriverID:       "driver-1",
		RestaurantName: "Felfela",
		Status:         domain.DeliveryStatusPickedUp,
		Destination:    &domain.Destination{Location: destination},
	})
	trackingLog := tests.NewMockTrackingLog()

	eta := service.NewETAService(orders, nil, &tests.MockRoutingClient{Duration: 20 * time.Minute},
		service.ETAConfig{FallbackSpeedKmh: 30, Timeout: time.Second}, log)
	notifications := service.NewNotificationService(tests.NewMockNotificationRepository(), nil, log)
	status := service.NewStatusService(engine, orders, nil, nil, notifications, time.Second, log)
	tracking := service.NewTrackingService(engine, orders, nil, trackingLog, eta, status, nil, nil,
		service.TrackingConfig{NearbyThresholdKm: 0.5, HistoryMaxPageSize: 100}, log)
	sessions := service.NewSessionService(engine, orders, nil, nil, auth.AllowAll{}, log)
	subscriptions := service.NewSubscriptionService(engine, orders, nil, nil, nil, log)

	rt := NewRealtimeHandler(engine, sessions, subscriptions, tracking, status, config.TrackingConfig{
		SendBufferSize:  16,
		WriteTimeout:    time.Second,
		PongWait:        10 * time.Second,
		PingPeriod:      5 * time.Second,
		AuthTimeout:     2 * time.Second,
		MaxMessageBytes: 4096,
	}, nil, log)
	th := NewTrackingHandler(tracking, status, engine)

	router := gin.New()
	router.GET("/ws", rt.ServeWS)
	router.GET("/v1/orders/:id/tracking", th.GetTracking)
	router.POST("/v1/orders/:id/status", th.UpdateStatus)
	router.GET("/v1/tracking/stats", th.Stats)

	return &testServer{engine: engine, orders: orders, router: router}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err      error
		wantHTTP int
		wantCode string
	}{
		{repository.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{service.ErrNoActiveDelivery, http.StatusNotFound, CodeNotFound},
		{service.ErrInvalidLocation, http.StatusBadRequest, CodeValidation},
		{fmt.Errorf("wrapped: %w", service.ErrInvalidStatus), http.StatusBadRequest, CodeValidation},
		{service.ErrPermissionDenied, http.StatusForbidden, CodePermissionDenied},
		{fmt.Errorf("%w: %v", service.ErrNotAuthenticated, auth.ErrInvalidToken), http.StatusUnauthorized, CodeUnauthenticated},
		{&service.TransitionError{From: domain.DeliveryStatusDelivered, To: domain.DeliveryStatusPreparing}, http.StatusConflict, CodeInvalidTransition},
		{service.ErrTransitionInProgress, http.StatusConflict, CodeConflict},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.wantHTTP, mapErrorToHTTPStatus(tc.err), tc.err.Error())
		assert.Equal(t, tc.wantCode, mapErrorToEventCode(tc.err), tc.err.Error())
	}
}

func TestUpdateStatus_HTTP(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/orders/order-1/status", strings.NewReader(`{"status":"OUT_FOR_DELIVERY","notes":"left the restaurant"}`))
	req.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UpdateStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OUT_FOR_DELIVERY", resp.Status)
	assert.Equal(t, "PICKED_UP", resp.PreviousStatus)

	// Moving backwards is a conflict.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/orders/order-1/status", strings.NewReader(`{"status":"PREPARING"}`))
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeInvalidTransition)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/orders/missing/status", strings.NewReader(`{"status":"DELIVERED"}`))
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTracking_HTTP(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/order-1/tracking?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"points":[]`)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/order-1/tracking?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tracking/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_deliveries":0`)
}

type wsTestClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, server *httptest.Server) *wsTestClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsTestClient{t: t, conn: conn}
}

func (c *wsTestClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect reads frames until one with the given event arrives.
func (c *wsTestClient) expect(event string) map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env struct {
			Event string         `json:"event"`
			Data  map[string]any `json:"data"`
		}
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env.Data
		}
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	server := httptest.NewServer(srv.router)
	defer server.Close()

	customer := dial(t, server)
	customer.send(realtime.EventCustomerConnect, map[string]string{"customer_id": "customer-1"})
	connected := customer.expect(realtime.EventConnected)
	assert.Equal(t, "customer-1", connected["identity_id"])

	customer.send(realtime.EventOrderSubscribe, map[string]string{"order_id": "order-1"})
	snapshot := customer.expect(realtime.EventOrderSnapshot)
	assert.Equal(t, "order-1", snapshot["order_id"])
	assert.Equal(t, false, snapshot["live"])

	driver := dial(t, server)
	driver.send(realtime.EventDriverConnect, map[string]string{"driver_id": "driver-1"})
	driver.expect(realtime.EventConnected)
	deliveries := driver.expect(realtime.EventDriverDeliveries)
	assert.Len(t, deliveries["deliveries"], 1)

	driver.send(realtime.EventDriverLocation, map[string]any{"order_id": "order-1", "lat": 30.0444, "lng": 31.2357})
	ack := driver.expect(realtime.EventLocationAck)
	assert.Equal(t, float64(20), ack["eta_minutes"])

	location := customer.expect(realtime.EventLocationBroadcast)
	assert.Equal(t, "order-1", location["order_id"])
	assert.Equal(t, float64(20), location["eta_minutes"])

	// Customers cannot change status.
	customer.send(realtime.EventDeliveryStatus, map[string]string{"order_id": "order-1", "status": "DELIVERED"})
	errEvent := customer.expect(realtime.EventError)
	assert.Equal(t, CodePermissionDenied, errEvent["code"])

	driver.send(realtime.EventDeliveryStatus, map[string]string{"order_id": "order-1", "status": "OUT_FOR_DELIVERY"})
	driver.expect(realtime.EventStatusAck)
	status := customer.expect(realtime.EventStatusBroadcast)
	assert.Equal(t, "OUT_FOR_DELIVERY", status["status"])

	customer.send(realtime.EventETARequest, map[string]string{"order_id": "order-1"})
	eta := customer.expect(realtime.EventETABroadcast)
	assert.Equal(t, float64(20), eta["eta_minutes"])
}

func TestWebSocket_RejectsBadInput(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	server := httptest.NewServer(srv.router)
	defer server.Close()

	client := dial(t, server)

	// Acting before connecting.
	client.send(realtime.EventOrderSubscribe, map[string]string{"order_id": "order-1"})
	assert.Equal(t, CodeUnauthenticated, client.expect(realtime.EventError)["code"])

	require.NoError(t, client.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, CodeValidation, client.expect(realtime.EventError)["code"])

	client.send(realtime.EventDriverConnect, map[string]string{"driver_id": "driver-1"})
	client.expect(realtime.EventConnected)

	client.send(realtime.EventDriverLocation, map[string]any{"order_id": "order-1", "lat": 95.0, "lng": 31.2})
	errEvent := client.expect(realtime.EventError)
	assert.Equal(t, CodeValidation, errEvent["code"])
	assert.Equal(t, "order-1", errEvent["order_id"])

	client.send("order.unknown", map[string]string{})
	assert.Equal(t, CodeValidation, client.expect(realtime.EventError)["code"])

	_, ok := srv.engine.Store.Get("order-1")
	assert.False(t, ok, "rejected pings must not create a snapshot")
}

func TestWebSocket_DisconnectCleansUpRooms(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	server := httptest.NewServer(srv.router)
	defer server.Close()

	client := dial(t, server)
	client.send(realtime.EventCustomerConnect, map[string]string{"customer_id": "customer-1"})
	client.expect(realtime.EventConnected)
	client.send(realtime.EventOrderSubscribe, map[string]string{"order_id": "order-1"})
	client.expect(realtime.EventOrderSnapshot)

	require.Len(t, srv.engine.Hub.RoomMembers("order-1"), 1)
	require.NoError(t, client.conn.Close())

	assert.Eventually(t, func() bool {
		return len(srv.engine.Hub.RoomMembers("order-1")) == 0 && srv.engine.Hub.Counts().Connections == 0
	}, 3*time.Second, 20*time.Millisecond)

	delivered := srv.engine.Dispatcher.BroadcastToRoom(context.Background(), "order-1", realtime.EventLocationBroadcast, map[string]string{"order_id": "order-1"})
	assert.Empty(t, delivered)
}
