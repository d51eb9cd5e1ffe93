package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/metrics"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

const orderLockStripes = 64

// StatusUpdate is a request to move an order to a new delivery status.
type StatusUpdate struct {
	OrderID string
	Status  domain.DeliveryStatus
	Notes   string
	Actor   Actor
}

// StatusChange describes an applied transition.
type StatusChange struct {
	OrderID   string
	Previous  domain.DeliveryStatus
	Status    domain.DeliveryStatus
	Notes     string
	Timestamp time.Time
}

// StatusService applies delivery status transitions.
type StatusService struct {
	engine        *realtime.Engine
	orderRepo     repository.OrderRepository
	orders        *orderLoader
	notifications *NotificationService
	lockStore     redis.LockStoreInterface
	lockTTL       time.Duration
	locks         [orderLockStripes]sync.Mutex
	log           logger.Logger
}

// NewStatusService creates a new StatusService. cacheStore and lockStore may be nil.
func NewStatusService(
	engine *realtime.Engine,
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	lockStore redis.LockStoreInterface,
	notifications *NotificationService,
	lockTTL time.Duration,
	log logger.Logger,
) *StatusService {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &StatusService{
		engine:        engine,
		orderRepo:     orderRepo,
		orders:        newOrderLoader(orderRepo, cacheStore),
		notifications: notifications,
		lockStore:     lockStore,
		lockTTL:       lockTTL,
		log:           log.Action("status_transition"),
	}
}

// Transition validates and applies a status change, then notifies and broadcasts it.
// An illegal change returns a *TransitionError and leaves every state untouched.
func (s *StatusService) Transition(ctx context.Context, req StatusUpdate) (*StatusChange, error) {
	if req.OrderID == "" {
		return nil, ErrInvalidOrderID
	}
	if !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if req.Actor.Role == domain.RoleCustomer {
		return nil, ErrPermissionDenied
	}

	unlock, err := s.lockOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Read through to the repository; a cached status may be behind another instance.
	order, err := s.orderRepo.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if req.Actor.Role == domain.RoleDriver && order.DriverID != req.Actor.ID {
		metrics.StatusTransitionsTotal.WithLabelValues(string(req.Status), "denied").Inc()
		return nil, ErrPermissionDenied
	}

	if !domain.CanTransition(order.Status, req.Status) {
		metrics.StatusTransitionsTotal.WithLabelValues(string(req.Status), "rejected").Inc()
		return nil, &TransitionError{From: order.Status, To: req.Status}
	}

	now := time.Now()
	if err := s.orderRepo.UpdateStatus(ctx, order.ID, req.Status, now); err != nil {
		return nil, err
	}
	s.orders.Invalidate(ctx, order.ID)

	change := &StatusChange{
		OrderID:   order.ID,
		Previous:  order.Status,
		Status:    req.Status,
		Notes:     req.Notes,
		Timestamp: now,
	}

	if s.notifications != nil {
		if err := s.notifications.NotifyStatusChanged(ctx, order, req.Status, req.Notes); err != nil {
			s.log.Error("failed to notify status change", err, "order_id", order.ID, "status", string(req.Status))
		}
	}

	_, _ = s.engine.Store.Update(order.ID, func(cur domain.TrackingSnapshot, exists bool) (domain.TrackingSnapshot, error) {
		if !exists {
			return cur, realtime.ErrSnapshotNotFound
		}
		cur.Status = req.Status
		return cur, nil
	})

	event := realtime.StatusEvent{
		OrderID:   order.ID,
		Status:    req.Status,
		Previous:  order.Status,
		Notes:     req.Notes,
		Timestamp: now,
	}
	delivered := s.engine.Dispatcher.BroadcastToRoom(ctx, order.ID, realtime.EventStatusBroadcast, event)
	s.pushToCustomer(ctx, order, delivered, event)

	if req.Status.IsTerminal() {
		s.engine.Store.Close(order.ID)
	}

	metrics.StatusTransitionsTotal.WithLabelValues(string(req.Status), "applied").Inc()
	s.log.Info("delivery status changed",
		"order_id", order.ID,
		"from", string(order.Status),
		"to", string(req.Status),
		"actor_id", req.Actor.ID,
		"actor_role", string(req.Actor.Role),
	)

	return change, nil
}

// pushToCustomer sends the event straight to the customer when the room broadcast missed them.
func (s *StatusService) pushToCustomer(ctx context.Context, order *domain.Order, delivered []string, event realtime.StatusEvent) {
	if order.CustomerID == "" {
		return
	}
	connID, ok := s.engine.Hub.Resolve(order.CustomerID)
	if !ok {
		return
	}
	for _, id := range delivered {
		if id == connID {
			return
		}
	}
	if err := s.engine.Dispatcher.SendTo(ctx, connID, realtime.EventStatusBroadcast, event); err != nil {
		s.log.Warn("direct status push failed", "order_id", order.ID, "customer_id", order.CustomerID, "error", err.Error())
	}
}

func (s *StatusService) lockOrder(ctx context.Context, orderID string) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	mu := &s.locks[h.Sum32()%orderLockStripes]
	mu.Lock()

	if s.lockStore == nil {
		return mu.Unlock, nil
	}

	acquired, err := s.lockStore.AcquireOrderLock(ctx, orderID, s.lockTTL)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if !acquired {
		mu.Unlock()
		return nil, ErrTransitionInProgress
	}

	return func() {
		if err := s.lockStore.ReleaseOrderLock(ctx, orderID); err != nil {
			s.log.Warn("failed to release order lock", "order_id", orderID, "error", err.Error())
		}
		mu.Unlock()
	}, nil
}
