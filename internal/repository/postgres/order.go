package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tracking/internal/domain"
	"tracking/internal/repository"
)

// OrderRepository is a PostgreSQL implementation of repository.OrderRepository.
type OrderRepository struct {
	q Querier
}

// NewOrderRepository creates a new PostgreSQL order repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

const orderColumns = `id, customer_id, driver_id, restaurant_name, status, delivery_lat, delivery_lng, delivery_address, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var driverID sql.NullString
	var restaurantName sql.NullString
	var lat, lng sql.NullFloat64
	var address sql.NullString

	if err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&driverID,
		&restaurantName,
		&order.Status,
		&lat,
		&lng,
		&address,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if driverID.Valid {
		order.DriverID = driverID.String
	}
	if restaurantName.Valid {
		order.RestaurantName = restaurantName.String
	}
	// An address without coordinates is an unknown destination.
	if lat.Valid && lng.Valid {
		order.Destination = &domain.Destination{
			Location: domain.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64},
			Address:  address.String,
		}
	}

	return &order, nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

// UpdateStatus persists a new delivery status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, at time.Time) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.q.ExecContext(ctx, query, status, at, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListActiveByDriver returns the driver's orders that are still moving through delivery.
func (r *OrderRepository) ListActiveByDriver(ctx context.Context, driverID string) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE driver_id = $1 AND status NOT IN ($2, $3, $4, $5)
		ORDER BY updated_at DESC
		LIMIT 100
	`

	rows, err := r.q.QueryContext(ctx, query, driverID,
		domain.DeliveryStatusDelivered,
		domain.DeliveryStatusFailed,
		domain.DeliveryStatusCancelled,
		domain.DeliveryStatusReturned,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
