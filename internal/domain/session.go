package domain

import "time"

// Role identifies what a connected identity is allowed to do.
type Role string

const (
	RoleDriver   Role = "DRIVER"
	RoleCustomer Role = "CUSTOMER"
	RoleOperator Role = "OPERATOR"
)

// Session binds a live connection to an identity.
type Session struct {
	ConnectionID string
	Role         Role
	IdentityID   string
	ConnectedAt  time.Time
}

// Elevated reports whether the role may follow any order.
func (r Role) Elevated() bool {
	return r == RoleDriver || r == RoleOperator
}
