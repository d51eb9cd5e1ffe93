package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/newrelic/go-agent/v3/newrelic"

	"tracking/internal/logger"
	"tracking/internal/metrics"
)

// Dispatcher fans events out to room members and single identities.
// A failing receiver never affects delivery to the others.
type Dispatcher struct {
	hub *Hub
	log logger.Logger
}

// NewDispatcher creates a Dispatcher bound to hub.
func NewDispatcher(hub *Hub, log logger.Logger) *Dispatcher {
	return &Dispatcher{hub: hub, log: log.Action("dispatch")}
}

// BroadcastToRoom sends the event to every connection subscribed to orderID and
// returns the ids it was delivered to. An empty room is a no-op.
func (d *Dispatcher) BroadcastToRoom(ctx context.Context, orderID, event string, payload any) []string {
	if txn := newrelic.FromContext(ctx); txn != nil {
		defer txn.StartSegment("broadcast/" + event).End()
	}

	members := d.hub.RoomMembers(orderID)
	if len(members) == 0 {
		return nil
	}

	msg, err := Encode(event, payload)
	if err != nil {
		d.log.Error("failed to encode event", err, "event", event, "order_id", orderID)
		return nil
	}

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()

	delivered := make([]string, 0, len(members))
	for _, conn := range members {
		if err := d.deliver(conn, msg); err != nil {
			d.log.Warn("room send failed", "event", event, "order_id", orderID, "connection_id", conn.ID(), "error", err.Error())
			continue
		}
		delivered = append(delivered, conn.ID())
	}
	return delivered
}

// BroadcastToIdentity pushes the event to the connection currently mapped to identityID.
func (d *Dispatcher) BroadcastToIdentity(ctx context.Context, identityID, event string, payload any) error {
	connID, ok := d.hub.Resolve(identityID)
	if !ok {
		return ErrNotConnected
	}
	return d.SendTo(ctx, connID, event, payload)
}

// SendTo delivers the event to one connection.
func (d *Dispatcher) SendTo(ctx context.Context, connID, event string, payload any) error {
	conn, ok := d.hub.Conn(connID)
	if !ok {
		return ErrNotConnected
	}

	msg, err := Encode(event, payload)
	if err != nil {
		return err
	}

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	return d.deliver(conn, msg)
}

// deliver isolates one connection's send. A connection whose queue is full is
// dropped from the hub and closed so it cannot stall later broadcasts.
func (d *Dispatcher) deliver(conn Conn, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SendFailuresTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	err = conn.Send(msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSendBufferFull):
		metrics.SendFailuresTotal.WithLabelValues("slow_consumer").Inc()
		d.hub.Unregister(conn.ID())
		_ = conn.Close()
	case errors.Is(err, ErrConnClosed):
		metrics.SendFailuresTotal.WithLabelValues("closed").Inc()
	default:
		metrics.SendFailuresTotal.WithLabelValues("error").Inc()
	}
	return err
}

// Encode builds the wire frame for an event.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: payload})
}
