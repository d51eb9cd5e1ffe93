package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tracking/internal/auth"
	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// ConnectRequest binds a live connection to an identity.
type ConnectRequest struct {
	Conn       realtime.Conn
	Role       domain.Role
	IdentityID string
	Token      string
}

// SessionService handles connection lifecycle.
type SessionService struct {
	engine        *realtime.Engine
	orderRepo     repository.OrderRepository
	orders        *orderLoader
	locationStore redis.LocationStoreInterface
	verifier      auth.TokenVerifier
	log           logger.Logger
}

// NewSessionService creates a new SessionService. locationStore and cacheStore may be nil.
func NewSessionService(
	engine *realtime.Engine,
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	locationStore redis.LocationStoreInterface,
	verifier auth.TokenVerifier,
	log logger.Logger,
) *SessionService {
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	return &SessionService{
		engine:        engine,
		orderRepo:     orderRepo,
		orders:        newOrderLoader(orderRepo, cacheStore),
		locationStore: locationStore,
		verifier:      verifier,
		log:           log.Action("session"),
	}
}

// Connect registers the connection and confirms it. A connecting driver also
// receives its open deliveries.
func (s *SessionService) Connect(ctx context.Context, req ConnectRequest) (domain.Session, error) {
	if req.IdentityID == "" {
		return domain.Session{}, ErrInvalidIdentity
	}
	if req.Role != domain.RoleDriver && req.Role != domain.RoleCustomer {
		return domain.Session{}, ErrInvalidIdentity
	}

	if err := s.verifier.Verify(req.Token, req.Role, req.IdentityID); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	session, err := s.engine.Hub.Register(req.Conn, req.Role, req.IdentityID)
	if err != nil {
		if errors.Is(err, realtime.ErrInvalidSession) {
			return domain.Session{}, ErrInvalidIdentity
		}
		return domain.Session{}, err
	}

	s.log.Info("connection registered",
		"connection_id", session.ConnectionID,
		"role", string(session.Role),
		"identity_id", session.IdentityID,
	)

	_ = s.engine.Dispatcher.SendTo(ctx, session.ConnectionID, realtime.EventConnected, realtime.ConnectedEvent{
		ConnectionID: session.ConnectionID,
		Role:         session.Role,
		IdentityID:   session.IdentityID,
		Timestamp:    time.Now(),
	})

	if session.Role == domain.RoleDriver {
		s.sendActiveDeliveries(ctx, session)
	}

	return session, nil
}

func (s *SessionService) sendActiveDeliveries(ctx context.Context, session domain.Session) {
	orders, err := s.orderRepo.ListActiveByDriver(ctx, session.IdentityID)
	if err != nil {
		s.log.Error("failed to list driver deliveries", err, "driver_id", session.IdentityID)
		return
	}

	s.orders.Warm(ctx, orders)

	summaries := make([]realtime.DeliverySummary, 0, len(orders))
	for _, o := range orders {
		summaries = append(summaries, realtime.DeliverySummary{
			OrderID:     o.ID,
			Status:      o.Status,
			Destination: o.Destination,
		})
	}

	_ = s.engine.Dispatcher.SendTo(ctx, session.ConnectionID, realtime.EventDriverDeliveries, realtime.DriverDeliveriesEvent{
		DriverID:   session.IdentityID,
		Deliveries: summaries,
		Timestamp:  time.Now(),
	})
}

// Disconnect removes the connection's session and room memberships. Unknown
// connections are ignored.
func (s *SessionService) Disconnect(ctx context.Context, connID string) {
	session, ok := s.engine.Hub.Unregister(connID)
	if !ok {
		return
	}

	s.log.Info("connection unregistered",
		"connection_id", connID,
		"role", string(session.Role),
		"identity_id", session.IdentityID,
	)

	if session.Role != domain.RoleDriver || s.locationStore == nil {
		return
	}
	if _, stillConnected := s.engine.Hub.Resolve(session.IdentityID); stillConnected {
		return
	}
	if err := s.locationStore.RemoveLocation(ctx, session.IdentityID); err != nil {
		s.log.Warn("failed to remove driver location", "driver_id", session.IdentityID, "error", err.Error())
	}
}

// Session returns the session bound to a connection.
func (s *SessionService) Session(connID string) (domain.Session, bool) {
	return s.engine.Hub.Session(connID)
}
