package service

import (
	"context"
	"math"
	"time"

	"tracking/internal/domain"
	"tracking/internal/logger"
	"tracking/internal/metrics"
	"tracking/internal/redis"
	"tracking/internal/repository"
)

// DefaultFallbackSpeedKmh is the average speed assumed when the routing service is unavailable.
const DefaultFallbackSpeedKmh = 30.0

// RoutingClient returns the travel time between two points.
type RoutingClient interface {
	TravelDuration(ctx context.Context, from, to domain.GeoPoint) (time.Duration, error)
}

// ETASource tells where an ETA came from.
type ETASource string

const (
	ETASourceRouting  ETASource = "routing"
	ETASourceFallback ETASource = "fallback"
	ETASourceUnknown  ETASource = "unknown_destination"
)

// ETAResult holds an estimate. Both values are nil when the destination is unknown.
type ETAResult struct {
	EtaMinutes *int
	DistanceKm *float64
	Source     ETASource
}

// ETAConfig configures the ETAService.
type ETAConfig struct {
	FallbackSpeedKmh float64
	Timeout          time.Duration
}

// ETAService estimates arrival times with the routing service and a distance-based fallback.
type ETAService struct {
	orders  *orderLoader
	routing RoutingClient
	cfg     ETAConfig
	log     logger.Logger
}

// NewETAService creates a new ETAService. routing may be nil, in which case every
// estimate uses the fallback.
func NewETAService(
	orderRepo repository.OrderRepository,
	cacheStore redis.CacheStoreInterface,
	routing RoutingClient,
	cfg ETAConfig,
	log logger.Logger,
) *ETAService {
	if cfg.FallbackSpeedKmh <= 0 {
		cfg.FallbackSpeedKmh = DefaultFallbackSpeedKmh
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &ETAService{
		orders:  newOrderLoader(orderRepo, cacheStore),
		routing: routing,
		cfg:     cfg,
		log:     log.Action("eta"),
	}
}

// CalculateETA estimates the arrival time of a driver at from for the given order.
// An unknown destination is not an error; it yields nil ETA and distance.
func (s *ETAService) CalculateETA(ctx context.Context, orderID string, from domain.GeoPoint) (ETAResult, error) {
	if orderID == "" {
		return ETAResult{}, ErrInvalidOrderID
	}
	if !from.Valid() {
		return ETAResult{}, ErrInvalidLocation
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return ETAResult{}, err
	}

	return s.Estimate(ctx, from, order.Destination), nil
}

// Estimate computes the ETA towards an already loaded destination. It never fails:
// routing errors are logged and replaced by the fallback estimate.
func (s *ETAService) Estimate(ctx context.Context, from domain.GeoPoint, dest *domain.Destination) ETAResult {
	if dest == nil {
		metrics.ETAComputationsTotal.WithLabelValues(string(ETASourceUnknown)).Inc()
		return ETAResult{Source: ETASourceUnknown}
	}

	distance := domain.DistanceKm(from, dest.Location)

	if s.routing != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		start := time.Now()
		duration, err := s.routing.TravelDuration(callCtx, from, dest.Location)
		cancel()
		metrics.RoutingRequestDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			minutes := CeilMinutes(duration.Seconds() / 60)
			metrics.ETAComputationsTotal.WithLabelValues(string(ETASourceRouting)).Inc()
			return ETAResult{EtaMinutes: &minutes, DistanceKm: &distance, Source: ETASourceRouting}
		}

		s.log.Warn("routing service degraded, using fallback estimate",
			"error", err.Error(),
			"distance_km", distance,
		)
	}

	minutes := FallbackMinutes(distance, s.cfg.FallbackSpeedKmh)
	metrics.ETAComputationsTotal.WithLabelValues(string(ETASourceFallback)).Inc()
	return ETAResult{EtaMinutes: &minutes, DistanceKm: &distance, Source: ETASourceFallback}
}

// FallbackMinutes converts a distance at an average speed into whole minutes, at least 1.
func FallbackMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultFallbackSpeedKmh
	}
	return CeilMinutes(distanceKm / speedKmh * 60)
}

// CeilMinutes rounds up to whole minutes with a floor of 1.
func CeilMinutes(minutes float64) int {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes < 1 {
		return 1
	}
	return int(math.Ceil(minutes))
}
