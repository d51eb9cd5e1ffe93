package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/newrelic/go-agent/v3/newrelic"

	"tracking/internal/config"
	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/realtime"
	"tracking/internal/service"
)

var errMalformedPayload = errors.New("malformed payload")

// inboundMessage is the frame a client sends.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectPayload struct {
	DriverID   string `json:"driver_id"`
	CustomerID string `json:"customer_id"`
	Token      string `json:"token"`
}

type locationPayload struct {
	OrderID    string     `json:"order_id"`
	Latitude   *float64   `json:"lat"`
	Longitude  *float64   `json:"lng"`
	Heading    *float64   `json:"heading"`
	Speed      *float64   `json:"speed"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type statusPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Notes   string `json:"notes"`
}

type orderPayload struct {
	OrderID string `json:"order_id"`
}

// RealtimeHandler serves the tracking WebSocket.
type RealtimeHandler struct {
	engine        *realtime.Engine
	sessions      *service.SessionService
	subscriptions *service.SubscriptionService
	tracking      *service.TrackingService
	status        *service.StatusService
	cfg           config.TrackingConfig
	nrApp         *newrelic.Application
	upgrader      websocket.Upgrader
	log           logger.Logger
}

// NewRealtimeHandler creates a new RealtimeHandler. nrApp may be nil.
func NewRealtimeHandler(
	engine *realtime.Engine,
	sessions *service.SessionService,
	subscriptions *service.SubscriptionService,
	tracking *service.TrackingService,
	status *service.StatusService,
	cfg config.TrackingConfig,
	nrApp *newrelic.Application,
	log logger.Logger,
) *RealtimeHandler {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait / 2
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	return &RealtimeHandler{
		engine:        engine,
		sessions:      sessions,
		subscriptions: subscriptions,
		tracking:      tracking,
		status:        status,
		cfg:           cfg,
		nrApp:         nrApp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.Action("websocket"),
	}
}

// ServeWS handles GET /ws
func (h *RealtimeHandler) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := newWSClient(uuid.New().String(), ws, h.cfg.SendBufferSize)
	go client.writePump(h.cfg.WriteTimeout, h.cfg.PingPeriod)

	h.readPump(client)
}

func (h *RealtimeHandler) readPump(client *wsClient) {
	ctx := context.Background()
	defer func() {
		h.sessions.Disconnect(ctx, client.id)
		_ = client.Close()
	}()

	if h.cfg.MaxMessageBytes > 0 {
		client.ws.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	// Until the first connect succeeds, the connection has AuthTimeout to identify itself.
	_ = client.ws.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	client.ws.SetPongHandler(func(string) error {
		return client.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		messageType, payload, err := client.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read ended", "connection_id", client.id, "error", err.Error())
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		connected := h.handleMessage(ctx, client, payload)
		if connected {
			_ = client.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}
	}
}

// handleMessage processes one inbound frame in isolation. It reports whether the
// frame was a successful connect.
func (h *RealtimeHandler) handleMessage(ctx context.Context, client *wsClient, payload []byte) (connected bool) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Event == "" {
		h.sendError(ctx, client, "", "", errMalformedPayload)
		return false
	}

	if h.nrApp != nil {
		txn := h.nrApp.StartTransaction("ws/" + msg.Event)
		defer txn.End()
		ctx = newrelic.NewContext(ctx, txn)
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling %s: %v", msg.Event, r)
			if txn := newrelic.FromContext(ctx); txn != nil {
				txn.NoticeError(err)
			}
			h.log.Error("recovered websocket handler panic", err, "connection_id", client.id, "event", msg.Event)
			h.sendError(ctx, client, msg.Event, "", err)
			connected = false
		}
	}()

	var orderID string
	var err error
	switch msg.Event {
	case realtime.EventDriverConnect:
		err = h.handleConnect(ctx, client, domain.RoleDriver, msg.Data)
		connected = err == nil
	case realtime.EventCustomerConnect:
		err = h.handleConnect(ctx, client, domain.RoleCustomer, msg.Data)
		connected = err == nil
	case realtime.EventDriverLocation:
		orderID, err = h.handleLocation(ctx, client, msg.Data)
	case realtime.EventDeliveryStatus:
		orderID, err = h.handleStatus(ctx, client, msg.Data)
	case realtime.EventOrderSubscribe:
		orderID, err = h.handleSubscribe(ctx, client, msg.Data)
	case realtime.EventETARequest:
		orderID, err = h.handleETARequest(ctx, client, msg.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", errMalformedPayload, msg.Event)
	}

	if err != nil {
		if txn := newrelic.FromContext(ctx); txn != nil && mapErrorToEventCode(err) == CodeInternal {
			txn.NoticeError(err)
		}
		h.sendError(ctx, client, msg.Event, orderID, err)
	}
	return connected
}

func (h *RealtimeHandler) handleConnect(ctx context.Context, client *wsClient, role domain.Role, data json.RawMessage) error {
	var p connectPayload
	if err := decode(data, &p); err != nil {
		return err
	}

	identityID := p.CustomerID
	if role == domain.RoleDriver {
		identityID = p.DriverID
	}

	_, err := h.sessions.Connect(ctx, service.ConnectRequest{
		Conn:       client,
		Role:       role,
		IdentityID: identityID,
		Token:      p.Token,
	})
	return err
}

func (h *RealtimeHandler) handleLocation(ctx context.Context, client *wsClient, data json.RawMessage) (string, error) {
	session, ok := h.sessions.Session(client.id)
	if !ok {
		return "", service.ErrNotAuthenticated
	}

	var p locationPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}
	if p.Latitude == nil || p.Longitude == nil {
		return p.OrderID, service.ErrInvalidLocation
	}

	ack, err := h.tracking.UpdateLocation(ctx, service.LocationUpdate{
		OrderID:    p.OrderID,
		Actor:      service.ActorFromSession(session),
		Latitude:   *p.Latitude,
		Longitude:  *p.Longitude,
		Heading:    p.Heading,
		Speed:      p.Speed,
		RecordedAt: p.RecordedAt,
	})
	if err != nil {
		return p.OrderID, err
	}

	_ = h.engine.Dispatcher.SendTo(ctx, client.id, realtime.EventLocationAck, ack)
	return p.OrderID, nil
}

func (h *RealtimeHandler) handleStatus(ctx context.Context, client *wsClient, data json.RawMessage) (string, error) {
	session, ok := h.sessions.Session(client.id)
	if !ok {
		return "", service.ErrNotAuthenticated
	}

	var p statusPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}

	change, err := h.status.Transition(ctx, service.StatusUpdate{
		OrderID: p.OrderID,
		Status:  domain.DeliveryStatus(p.Status),
		Notes:   p.Notes,
		Actor:   service.ActorFromSession(session),
	})
	if err != nil {
		return p.OrderID, err
	}

	_ = h.engine.Dispatcher.SendTo(ctx, client.id, realtime.EventStatusAck, realtime.StatusAckEvent{
		OrderID:   change.OrderID,
		Status:    change.Status,
		Timestamp: change.Timestamp,
	})
	return p.OrderID, nil
}

func (h *RealtimeHandler) handleSubscribe(ctx context.Context, client *wsClient, data json.RawMessage) (string, error) {
	var p orderPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}

	_, err := h.subscriptions.Subscribe(ctx, client.id, p.OrderID)
	return p.OrderID, err
}

func (h *RealtimeHandler) handleETARequest(ctx context.Context, client *wsClient, data json.RawMessage) (string, error) {
	session, ok := h.sessions.Session(client.id)
	if !ok {
		return "", service.ErrNotAuthenticated
	}

	var p orderPayload
	if err := decode(data, &p); err != nil {
		return "", err
	}

	event, err := h.tracking.RequestETA(ctx, service.ActorFromSession(session), p.OrderID)
	if err != nil {
		return p.OrderID, err
	}

	// The room broadcast already reached subscribers.
	if !h.engine.Hub.InRoom(client.id, p.OrderID) {
		_ = h.engine.Dispatcher.SendTo(ctx, client.id, realtime.EventETABroadcast, event)
	}
	return p.OrderID, nil
}

func (h *RealtimeHandler) sendError(ctx context.Context, client *wsClient, event, orderID string, err error) {
	code := mapErrorToEventCode(err)
	message := err.Error()
	if code == CodeInternal {
		message = "internal error"
	}

	msg, encErr := realtime.Encode(realtime.EventError, realtime.ErrorEvent{
		Code:      code,
		Message:   message,
		Event:     event,
		OrderID:   orderID,
		Timestamp: time.Now(),
	})
	if encErr != nil {
		return
	}
	if sendErr := client.Send(msg); sendErr != nil {
		h.log.Debug("failed to send error event", "connection_id", client.id, "error", sendErr.Error())
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errMalformedPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedPayload, err)
	}
	return nil
}

// wsClient adapts a gorilla connection to realtime.Conn with a bounded egress queue.
type wsClient struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(id string, ws *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		id:   id,
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues msg without blocking.
func (c *wsClient) Send(msg []byte) error {
	select {
	case <-c.done:
		return realtime.ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return realtime.ErrConnClosed
	default:
		return realtime.ErrSendBufferFull
	}
}

// Close stops the write pump, which closes the socket.
func (c *wsClient) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *wsClient) writePump(writeTimeout, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

var _ realtime.Conn = (*wsClient)(nil)
