package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"tracking/internal/domain"
	"tracking/internal/realtime"
	"tracking/internal/repository"
	"tracking/internal/service"
)

// ──────────────────────────────────────────────
// 4. ROOM SUBSCRIPTIONS AND ETA REQUESTS
// ──────────────────────────────────────────────

func TestSubscribe_OtherCustomersOrder_Denied(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusPickedUp)
	intruder := f.connect(t, "conn-intruder", domain.RoleCustomer, "customer-2")
	intruder.Reset()

	_, err := f.subscriptions.Subscribe(context.Background(), "conn-intruder", "order-1")
	if !errors.Is(err, service.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if f.engine.Hub.InRoom("conn-intruder", "order-1") {
		t.Error("denied subscription must not create a membership")
	}
	if len(intruder.Events()) != 0 {
		t.Errorf("denied subscriber must not receive events, got %v", intruder.Events())
	}

	// Broadcasts to the order never reach the intruder.
	if _, err := f.ping("order-1", "driver-1", driverStart); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if len(intruder.EventsNamed(realtime.EventLocationBroadcast)) != 0 {
		t.Error("intruder received a location broadcast")
	}
}

func TestSubscribe_OwnOrderWithLiveSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusOutForDelivery)
	if _, err := f.ping("order-1", "driver-1", driverStart); err != nil {
		t.Fatalf("ping: %v", err)
	}

	conn := f.connect(t, "conn-customer", domain.RoleCustomer, "customer-1")
	snapshot, err := f.subscriptions.Subscribe(context.Background(), "conn-customer", "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !snapshot.Live {
		t.Error("expected live snapshot")
	}
	if snapshot.CurrentLocation == nil || *snapshot.CurrentLocation != driverStart {
		t.Errorf("unexpected current location %v", snapshot.CurrentLocation)
	}
	if snapshot.EtaMinutes == nil || *snapshot.EtaMinutes != 20 {
		t.Errorf("expected eta 20, got %v", snapshot.EtaMinutes)
	}
	if !f.engine.Hub.InRoom("conn-customer", "order-1") {
		t.Error("expected room membership")
	}

	events := conn.EventsNamed(realtime.EventOrderSnapshot)
	if len(events) != 1 {
		t.Fatalf("expected an immediate order.snapshot event, got %d", len(events))
	}
	if events[0].Data["order_id"] != "order-1" || events[0].Data["live"] != true {
		t.Errorf("unexpected snapshot payload %v", events[0].Data)
	}
}

func TestSubscribe_OwnOrderWithoutSnapshotGetsOrderMetadata(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusPreparing)
	_ = f.locations.UpdateLocation(context.Background(), "driver-1", driverStart.Latitude, driverStart.Longitude)

	f.connect(t, "conn-customer", domain.RoleCustomer, "customer-1")
	snapshot, err := f.subscriptions.Subscribe(context.Background(), "conn-customer", "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snapshot.Live {
		t.Error("expected non-live snapshot")
	}
	if snapshot.Status != domain.DeliveryStatusPreparing {
		t.Errorf("expected order status, got %s", snapshot.Status)
	}
	if snapshot.RestaurantName == "" || snapshot.Destination == nil {
		t.Errorf("expected order metadata, got %+v", snapshot)
	}
	if snapshot.CurrentLocation == nil {
		t.Error("expected last known driver position from the geo index")
	}
	if snapshot.LastUpdate == nil {
		t.Error("expected the mirrored position timestamp")
	}
	if snapshot.EtaMinutes != nil {
		t.Errorf("expected no eta before the first ping, got %v", *snapshot.EtaMinutes)
	}
}

func TestSubscribe_ElevatedRolesMayFollowAnyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusPickedUp)
	f.connect(t, "conn-driver", domain.RoleDriver, "driver-7")

	if _, err := f.subscriptions.Subscribe(context.Background(), "conn-driver", "order-1"); err != nil {
		t.Fatalf("driver subscription: %v", err)
	}
	if !f.engine.Hub.InRoom("conn-driver", "order-1") {
		t.Error("expected driver in room")
	}
}

func TestSubscribe_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusPickedUp)
	f.connect(t, "conn-customer", domain.RoleCustomer, "customer-1")

	testCases := []struct {
		name    string
		connID  string
		orderID string
		wantErr error
	}{
		{"unknown order", "conn-customer", "missing", repository.ErrNotFound},
		{"empty order id", "conn-customer", "", service.ErrInvalidOrderID},
		{"connection never identified", "conn-anonymous", "order-1", service.ErrNotAuthenticated},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.subscriptions.Subscribe(context.Background(), tc.connID, tc.orderID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRequestETA_RecomputesAndBroadcasts(t *testing.T) {
	t.Parallel()

	routing := &MockRoutingClient{Duration: 1200 * time.Second}
	f := newFixture(t, routing)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusOutForDelivery)
	customer := f.subscribe(t, "conn-customer", "customer-1", "order-1")

	if _, err := f.ping("order-1", "driver-1", driverStart); err != nil {
		t.Fatalf("ping: %v", err)
	}
	routing.Duration = 600 * time.Second

	event, err := f.tracking.RequestETA(context.Background(), service.Actor{ID: "customer-1", Role: domain.RoleCustomer}, "order-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EtaMinutes == nil || *event.EtaMinutes != 10 {
		t.Errorf("expected recomputed eta 10, got %v", event.EtaMinutes)
	}

	snap, _ := f.engine.Store.Get("order-1")
	if snap.EtaMinutes == nil || *snap.EtaMinutes != 10 {
		t.Errorf("expected snapshot eta updated to 10, got %v", snap.EtaMinutes)
	}
	if len(customer.EventsNamed(realtime.EventETABroadcast)) != 1 {
		t.Error("expected delivery.eta broadcast to the room")
	}
}

func TestRequestETA_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addOrder("order-1", "customer-1", "driver-1", domain.DeliveryStatusOutForDelivery)
	customer := service.Actor{ID: "customer-1", Role: domain.RoleCustomer}

	if _, err := f.tracking.RequestETA(context.Background(), customer, "order-1"); !errors.Is(err, service.ErrNoActiveDelivery) {
		t.Errorf("expected ErrNoActiveDelivery before the first ping, got %v", err)
	}

	if _, err := f.ping("order-1", "driver-1", driverStart); err != nil {
		t.Fatalf("ping: %v", err)
	}

	other := service.Actor{ID: "customer-2", Role: domain.RoleCustomer}
	if _, err := f.tracking.RequestETA(context.Background(), other, "order-1"); !errors.Is(err, service.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}
