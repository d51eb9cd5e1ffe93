package realtime

import "errors"

var (
	// ErrSendBufferFull is returned by a Conn whose egress queue cannot take another message.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrNotConnected is returned when no live connection is bound to the target.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidSession is returned when registering without an identity or with an unknown role.
	ErrInvalidSession = errors.New("invalid session")

	// ErrOrderClosed is returned when writing a snapshot for an order that reached a terminal status.
	ErrOrderClosed = errors.New("order tracking closed")

	// ErrSnapshotNotFound is returned by an update function that requires an existing snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Conn is what the engine needs from a live bidirectional connection.
// Send must never block; implementations queue and report ErrSendBufferFull instead.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close() error
}
