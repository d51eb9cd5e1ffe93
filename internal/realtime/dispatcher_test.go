package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracking/internal/domain"
	"tracking/internal/logger"
)

func newTestDispatcher(t *testing.T) (*Hub, *Dispatcher) {
	t.Helper()
	hub := NewHub()
	return hub, NewDispatcher(hub, logger.Discard())
}

func subscribe(t *testing.T, hub *Hub, conn Conn, identity, orderID string) {
	t.Helper()
	_, err := hub.Register(conn, domain.RoleCustomer, identity)
	require.NoError(t, err)
	require.NoError(t, hub.Join(conn.ID(), orderID))
}

func TestDispatcher_BroadcastToRoomReachesEveryMember(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	a, b, outsider := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	subscribe(t, hub, a, "customer-a", "order-1")
	subscribe(t, hub, b, "driver-b", "order-1")
	subscribe(t, hub, outsider, "customer-c", "order-2")

	delivered := d.BroadcastToRoom(context.Background(), "order-1", EventStatusBroadcast, StatusEvent{
		OrderID:   "order-1",
		Status:    domain.DeliveryStatusNearby,
		Timestamp: time.Now(),
	})

	assert.ElementsMatch(t, []string{"a", "b"}, delivered)
	assert.Equal(t, []string{EventStatusBroadcast}, a.events())
	assert.Equal(t, []string{EventStatusBroadcast}, b.events())
	assert.Empty(t, outsider.events())
}

func TestDispatcher_PayloadCarriesOrderAndTimestamp(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	a := newFakeConn("a")
	subscribe(t, hub, a, "customer-a", "order-1")

	eta := 7
	d.BroadcastToRoom(context.Background(), "order-1", EventETABroadcast, ETAEvent{
		OrderID:    "order-1",
		EtaMinutes: &eta,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	require.Len(t, a.frames, 1)
	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(a.frames[0], &frame))
	assert.Equal(t, EventETABroadcast, frame.Event)
	assert.Equal(t, "order-1", frame.Data["order_id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", frame.Data["timestamp"])
	assert.Equal(t, float64(7), frame.Data["eta_minutes"])
}

func TestDispatcher_IsolatesBrokenReceivers(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	healthy := newFakeConn("healthy")
	failing := newFakeConn("failing")
	failing.sendErr = errors.New("write: broken pipe")
	panicking := newFakeConn("panicking")
	panicking.panics = true

	subscribe(t, hub, healthy, "customer-1", "order-1")
	subscribe(t, hub, failing, "customer-2", "order-1")
	subscribe(t, hub, panicking, "customer-3", "order-1")

	var delivered []string
	assert.NotPanics(t, func() {
		delivered = d.BroadcastToRoom(context.Background(), "order-1", EventLocationBroadcast, LocationEvent{OrderID: "order-1"})
	})

	assert.Equal(t, []string{"healthy"}, delivered)
	assert.Equal(t, []string{EventLocationBroadcast}, healthy.events())
}

func TestDispatcher_SlowConsumerIsDropped(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	fast := newFakeConn("fast")
	slow := newFakeConn("slow")
	slow.sendErr = ErrSendBufferFull

	subscribe(t, hub, fast, "customer-1", "order-1")
	subscribe(t, hub, slow, "customer-2", "order-1")

	delivered := d.BroadcastToRoom(context.Background(), "order-1", EventLocationBroadcast, LocationEvent{OrderID: "order-1"})

	assert.Equal(t, []string{"fast"}, delivered)
	assert.True(t, slow.isClosed())
	assert.False(t, hub.InRoom("slow", "order-1"))
	_, ok := hub.Session("slow")
	assert.False(t, ok)
}

func TestDispatcher_EmptyRoomIsNoop(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	conn := newFakeConn("a")
	subscribe(t, hub, conn, "customer-a", "order-1")
	hub.Unregister("a")

	assert.NotPanics(t, func() {
		delivered := d.BroadcastToRoom(context.Background(), "order-1", EventLocationBroadcast, LocationEvent{OrderID: "order-1"})
		assert.Empty(t, delivered)
	})
	assert.Empty(t, conn.events())
}

func TestDispatcher_BroadcastToIdentity(t *testing.T) {
	t.Parallel()

	hub, d := newTestDispatcher(t)
	driver := newFakeConn("driver-conn")
	_, err := hub.Register(driver, domain.RoleDriver, "driver-1")
	require.NoError(t, err)

	require.NoError(t, d.BroadcastToIdentity(context.Background(), "driver-1", EventStatusBroadcast, StatusEvent{OrderID: "order-1"}))
	assert.Equal(t, []string{EventStatusBroadcast}, driver.events())

	err = d.BroadcastToIdentity(context.Background(), "driver-unknown", EventStatusBroadcast, StatusEvent{OrderID: "order-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}
