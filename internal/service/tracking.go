package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/metrics"
	"tracking/internal/realtime"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// errStalePing is returned from a store update refused by the recorded_at guard.
var errStalePing = errors.New("stale ping")

// LocationUpdate is one driver ping.
type LocationUpdate struct {
	OrderID    string
	Actor      Actor
	Latitude   float64
	Longitude  float64
	Heading    *float64
	Speed      *float64
	RecordedAt *time.Time
}

// TrackingConfig configures the TrackingService.
type TrackingConfig struct {
	NearbyThresholdKm  float64
	HistoryMaxPageSize int
}

// TrackingHistory is the read-back view of an order's tracking.
type TrackingHistory struct {
	OrderID  string                   `json:"order_id"`
	Snapshot *domain.TrackingSnapshot `json:"snapshot"`
	Points   []*domain.TrackingPoint  `json:"points"`
}

// TrackingService ingests driver pings and serves ETA requests.
type TrackingService struct {
	engine        *realtime.Engine
	orders        *orderLoader
	trackingLog   repository.TrackingLogRepository
	eta           *ETAService
	status        *StatusService
	ownership     OwnershipChecker
	locationStore redis.LocationStoreInterface
	cfg           TrackingConfig
	log           logger.Logger
}

// NewTrackingService creates a new TrackingService. status, locationStore and cacheStore may be nil.
func NewTrackingService(
	engine *realtime.Engine,
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	trackingLog repository.TrackingLogRepository,
	eta *ETAService,
	status *StatusService,
	ownership OwnershipChecker,
	locationStore redis.LocationStoreInterface,
	cfg TrackingConfig,
	log logger.Logger,
) *TrackingService {
	if cfg.HistoryMaxPageSize <= 0 {
		cfg.HistoryMaxPageSize = 100
	}
	if ownership == nil {
		ownership = OrderOwnership{}
	}
	return &TrackingService{
		engine:        engine,
		orders:        newOrderLoader(orderRepo, cacheStore),
		trackingLog:   trackingLog,
		eta:           eta,
		status:        status,
		ownership:     ownership,
		locationStore: locationStore,
		cfg:           cfg,
		log:           log.Action("location_ingest"),
	}
}

func (u LocationUpdate) validate() error {
	if u.OrderID == "" {
		return ErrInvalidOrderID
	}
	if u.Actor.ID == "" {
		return ErrInvalidDriverID
	}
	if !(domain.GeoPoint{Latitude: u.Latitude, Longitude: u.Longitude}).Valid() {
		return ErrInvalidLocation
	}
	if u.Heading != nil && (math.IsNaN(*u.Heading) || *u.Heading < 0 || *u.Heading >= 360) {
		return ErrInvalidHeading
	}
	if u.Speed != nil && (math.IsNaN(*u.Speed) || *u.Speed < 0) {
		return ErrInvalidSpeed
	}
	return nil
}

// UpdateLocation runs one ping through the ingest pipeline: validate, log, estimate,
// update the live snapshot and broadcast it. Pings for closed orders are logged only.
func (s *TrackingService) UpdateLocation(ctx context.Context, req LocationUpdate) (*realtime.LocationAckEvent, error) {
	if err := req.validate(); err != nil {
		metrics.LocationPingsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if req.Actor.Role != domain.RoleDriver {
		metrics.LocationPingsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrPermissionDenied
	}

	now := time.Now()
	location := domain.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude}
	recordedAt := now
	if req.RecordedAt != nil && !req.RecordedAt.IsZero() {
		recordedAt = *req.RecordedAt
	}

	point := &domain.TrackingPoint{
		ID:         uuid.New().String(),
		OrderID:    req.OrderID,
		DriverID:   req.Actor.ID,
		Location:   location,
		Heading:    req.Heading,
		Speed:      req.Speed,
		RecordedAt: recordedAt,
	}
	if err := s.trackingLog.Append(ctx, point); err != nil {
		metrics.LocationPingsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		metrics.LocationPingsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if order.DriverID != "" && order.DriverID != req.Actor.ID {
		metrics.LocationPingsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrPermissionDenied
	}

	ack := &realtime.LocationAckEvent{
		OrderID:   order.ID,
		Status:    order.Status,
		Timestamp: now,
	}

	if order.Status.IsTerminal() || s.engine.Store.IsClosed(order.ID) {
		metrics.LocationPingsTotal.WithLabelValues("ignored").Inc()
		ack.Ignored = true
		return ack, nil
	}

	estimate := s.eta.Estimate(ctx, location, order.Destination)
	ack.EtaMinutes = estimate.EtaMinutes
	ack.DistanceKm = estimate.DistanceKm

	snap, err := s.engine.Store.Update(order.ID, func(cur domain.TrackingSnapshot, exists bool) (domain.TrackingSnapshot, error) {
		status := order.Status
		if exists {
			status = cur.Status
			if req.RecordedAt != nil && !cur.RecordedAt.IsZero() && recordedAt.Before(cur.RecordedAt) {
				return cur, errStalePing
			}
		}
		var clientTime time.Time
		if req.RecordedAt != nil {
			clientTime = recordedAt
		}
		return domain.TrackingSnapshot{
			DriverID:        req.Actor.ID,
			CurrentLocation: location,
			Destination:     order.Destination,
			EtaMinutes:      estimate.EtaMinutes,
			DistanceKm:      estimate.DistanceKm,
			Status:          status,
			Heading:         req.Heading,
			Speed:           req.Speed,
			RecordedAt:      clientTime,
		}, nil
	})
	switch {
	case errors.Is(err, realtime.ErrOrderClosed):
		metrics.LocationPingsTotal.WithLabelValues("ignored").Inc()
		ack.Ignored = true
		return ack, nil
	case errors.Is(err, errStalePing):
		metrics.LocationPingsTotal.WithLabelValues("stale").Inc()
		ack.Stale = true
		if cur, ok := s.engine.Store.Get(order.ID); ok {
			ack.Status = cur.Status
		}
		return ack, nil
	case err != nil:
		return nil, err
	}
	ack.Status = snap.Status

	s.mirrorLocation(ctx, req.Actor.ID, location)

	s.engine.Dispatcher.BroadcastToRoom(ctx, order.ID, realtime.EventLocationBroadcast, realtime.LocationEvent{
		OrderID:    order.ID,
		DriverID:   req.Actor.ID,
		Location:   location,
		Heading:    req.Heading,
		Speed:      req.Speed,
		EtaMinutes: estimate.EtaMinutes,
		DistanceKm: estimate.DistanceKm,
		Status:     snap.Status,
		Timestamp:  now,
	})
	metrics.LocationPingsTotal.WithLabelValues("accepted").Inc()

	if s.isNearby(snap) {
		s.markNearby(ctx, order.ID, ack)
	}

	return ack, nil
}

func (s *TrackingService) isNearby(snap domain.TrackingSnapshot) bool {
	if s.status == nil || s.cfg.NearbyThresholdKm <= 0 || snap.DistanceKm == nil {
		return false
	}
	return snap.Status.IsEnRoute() && *snap.DistanceKm < s.cfg.NearbyThresholdKm
}

func (s *TrackingService) markNearby(ctx context.Context, orderID string, ack *realtime.LocationAckEvent) {
	change, err := s.status.Transition(ctx, StatusUpdate{
		OrderID: orderID,
		Status:  domain.DeliveryStatusNearby,
		Notes:   "driver is close to the destination",
		Actor:   SystemActor,
	})
	if err != nil {
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrTransitionInProgress) {
			s.log.Warn("automatic nearby transition failed", "order_id", orderID, "error", err.Error())
		}
		return
	}
	ack.Status = change.Status
}

func (s *TrackingService) mirrorLocation(ctx context.Context, driverID string, p domain.GeoPoint) {
	if s.locationStore == nil {
		return
	}
	if err := s.locationStore.UpdateLocation(ctx, driverID, p.Latitude, p.Longitude); err != nil {
		s.log.Warn("failed to mirror driver location", "driver_id", driverID, "error", err.Error())
	}
}

// RequestETA recomputes the ETA from the live snapshot and broadcasts it to the room.
func (s *TrackingService) RequestETA(ctx context.Context, actor Actor, orderID string) (*realtime.ETAEvent, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.ownership.CanTrack(ctx, actor, order)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}

	snap, ok := s.engine.Store.Get(orderID)
	if !ok {
		return nil, ErrNoActiveDelivery
	}

	estimate := s.eta.Estimate(ctx, snap.CurrentLocation, order.Destination)

	_, err = s.engine.Store.Update(orderID, func(cur domain.TrackingSnapshot, exists bool) (domain.TrackingSnapshot, error) {
		if !exists {
			return cur, realtime.ErrSnapshotNotFound
		}
		cur.EtaMinutes = estimate.EtaMinutes
		cur.DistanceKm = estimate.DistanceKm
		return cur, nil
	})
	if errors.Is(err, realtime.ErrOrderClosed) || errors.Is(err, realtime.ErrSnapshotNotFound) {
		return nil, ErrNoActiveDelivery
	}
	if err != nil {
		return nil, err
	}

	event := &realtime.ETAEvent{
		OrderID:    orderID,
		EtaMinutes: estimate.EtaMinutes,
		DistanceKm: estimate.DistanceKm,
		Source:     string(estimate.Source),
		Timestamp:  time.Now(),
	}
	s.engine.Dispatcher.BroadcastToRoom(ctx, orderID, realtime.EventETABroadcast, event)

	return event, nil
}

// History returns the live snapshot, if any, and the most recent logged points.
// limit is clamped to [1, HistoryMaxPageSize].
func (s *TrackingService) History(ctx context.Context, orderID string, limit int) (*TrackingHistory, error) {
	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if limit <= 0 || limit > s.cfg.HistoryMaxPageSize {
		limit = s.cfg.HistoryMaxPageSize
	}

	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	points, err := s.trackingLog.ListByOrder(ctx, orderID, limit)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []*domain.TrackingPoint{}
	}

	history := &TrackingHistory{OrderID: orderID, Points: points}
	if snap, ok := s.engine.Store.Get(orderID); ok {
		history.Snapshot = &snap
	}
	return history, nil
}
