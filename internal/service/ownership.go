package service

import (
	"context"

	"tracking/internal/domain"
)

// Actor is the identity performing an operation.
type Actor struct {
	ID   string
	Role domain.Role
}

// SystemActor performs transitions triggered by the engine itself.
var SystemActor = Actor{ID: "system", Role: domain.RoleOperator}

// ActorFromSession returns the actor behind a session.
func ActorFromSession(s domain.Session) Actor {
	return Actor{ID: s.IdentityID, Role: s.Role}
}

// OwnershipChecker decides whether an actor may follow an order.
type OwnershipChecker interface {
	CanTrack(ctx context.Context, actor Actor, order *domain.Order) (bool, error)
}

// OrderOwnership lets customers follow only their own orders. Drivers and
// operators may follow any order.
type OrderOwnership struct{}

// CanTrack implements OwnershipChecker.
func (OrderOwnership) CanTrack(_ context.Context, actor Actor, order *domain.Order) (bool, error) {
	if actor.Role.Elevated() {
		return true, nil
	}
	return actor.Role == domain.RoleCustomer && actor.ID != "" && actor.ID == order.CustomerID, nil
}

var _ OwnershipChecker = OrderOwnership{}
