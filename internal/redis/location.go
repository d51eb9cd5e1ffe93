package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKey = "drivers:locations"
	driverSeenKey     = "drivers:last_seen"
)

// DriverLocation is the last position mirrored for a driver.
type DriverLocation struct {
	DriverID  string
	Lat       float64
	Lng       float64
	UpdatedAt time.Time // zero when the timestamp entry is missing
}

// LocationStore mirrors live driver positions into a Redis geo index so other
// instances can answer snapshot requests for orders they have no live state for.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation writes the position and its timestamp in one transaction.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
			Name:      driverID,
			Longitude: lng,
			Latitude:  lat,
		})
		pipe.HSet(ctx, driverSeenKey, driverID, time.Now().Unix())
		return nil
	})
	return err
}

// GetLocation returns the driver's last mirrored position, or nil if none is indexed.
func (s *LocationStore) GetLocation(ctx context.Context, driverID string) (*DriverLocation, error) {
	var posCmd *redis.GeoPosCmd
	var seenCmd *redis.StringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		posCmd = pipe.GeoPos(ctx, driverLocationKey, driverID)
		seenCmd = pipe.HGet(ctx, driverSeenKey, driverID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	positions, err := posCmd.Result()
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}

	loc := &DriverLocation{
		DriverID: driverID,
		Lat:      positions[0].Latitude,
		Lng:      positions[0].Longitude,
	}
	if raw, err := seenCmd.Result(); err == nil {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			loc.UpdatedAt = time.Unix(unix, 0).UTC()
		}
	}
	return loc, nil
}

// RemoveLocation drops the driver from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, driverLocationKey, driverID)
		pipe.HDel(ctx, driverSeenKey, driverID)
		return nil
	})
	return err
}
