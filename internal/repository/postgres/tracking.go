package postgres

import (
	"context"
	"database/sql"

	"tracking/internal/domain"
)

// TrackingLogRepository is a PostgreSQL implementation of repository.TrackingLogRepository.
type TrackingLogRepository struct {
	q Querier
}

// NewTrackingLogRepository creates a new PostgreSQL tracking log repository.
func NewTrackingLogRepository(db *sql.DB) *TrackingLogRepository {
	return &TrackingLogRepository{q: db}
}

// Append stores a raw tracking point.
func (r *TrackingLogRepository) Append(ctx context.Context, point *domain.TrackingPoint) error {
	query := `
		INSERT INTO order_tracking (id, order_id, driver_id, latitude, longitude, heading, speed, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		point.ID,
		point.OrderID,
		point.DriverID,
		point.Location.Latitude,
		point.Location.Longitude,
		nullFloat(point.Heading),
		nullFloat(point.Speed),
		point.RecordedAt,
	)
	return err
}

// ListByOrder returns the most recent points for an order, newest first.
func (r *TrackingLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]*domain.TrackingPoint, error) {
	query := `
		SELECT id, order_id, driver_id, latitude, longitude, heading, speed, recorded_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*domain.TrackingPoint
	for rows.Next() {
		var p domain.TrackingPoint
		var heading, speed sql.NullFloat64
		if err := rows.Scan(
			&p.ID,
			&p.OrderID,
			&p.DriverID,
			&p.Location.Latitude,
			&p.Location.Longitude,
			&heading,
			&speed,
			&p.RecordedAt,
		); err != nil {
			return nil, err
		}
		p.Heading = floatPtr(heading)
		p.Speed = floatPtr(speed)
		points = append(points, &p)
	}
	return points, rows.Err()
}
