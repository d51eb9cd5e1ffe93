package realtime

import (
	"sync"
	"time"

	"tracking/internal/domain"
	"tracking/internal/metrics"
)

// Hub is the session registry and room membership table.
// One lock covers sessions, identities and rooms so a disconnect is atomic.
type Hub struct {
	mu         sync.RWMutex
	members    map[string]*member
	identities map[string]string
	rooms      map[string]map[string]struct{}
	now        func() time.Time
}

type member struct {
	conn    Conn
	session domain.Session
	rooms   map[string]struct{}
}

// Counts summarises the hub contents.
type Counts struct {
	Connections int `json:"connections"`
	Drivers     int `json:"drivers"`
	Customers   int `json:"customers"`
	Operators   int `json:"operators"`
	Rooms       int `json:"rooms"`
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		members:    make(map[string]*member),
		identities: make(map[string]string),
		rooms:      make(map[string]map[string]struct{}),
		now:        time.Now,
	}
}

// Register binds conn to an identity. The identity's previous mapping, if any, is replaced;
// the previous connection stays registered and keeps its rooms.
func (h *Hub) Register(conn Conn, role domain.Role, identityID string) (domain.Session, error) {
	if conn == nil || conn.ID() == "" || identityID == "" {
		return domain.Session{}, ErrInvalidSession
	}
	switch role {
	case domain.RoleDriver, domain.RoleCustomer, domain.RoleOperator:
	default:
		return domain.Session{}, ErrInvalidSession
	}

	connID := conn.ID()

	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if ok {
		prev := m.session
		if h.identities[prev.IdentityID] == connID {
			delete(h.identities, prev.IdentityID)
		}
		metrics.ConnectedSessions.WithLabelValues(string(prev.Role)).Dec()
		// Memberships were granted to the previous identity.
		if prev.IdentityID != identityID || prev.Role != role {
			h.leaveAllLocked(connID, m)
		}
		m.conn = conn
	} else {
		m = &member{conn: conn, rooms: make(map[string]struct{})}
		h.members[connID] = m
	}

	m.session = domain.Session{
		ConnectionID: connID,
		Role:         role,
		IdentityID:   identityID,
		ConnectedAt:  h.now(),
	}
	h.identities[identityID] = connID
	metrics.ConnectedSessions.WithLabelValues(string(role)).Inc()

	return m.session, nil
}

// Unregister removes the connection's session and every room membership it held.
func (h *Hub) Unregister(connID string) (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if !ok {
		return domain.Session{}, false
	}

	h.leaveAllLocked(connID, m)
	if h.identities[m.session.IdentityID] == connID {
		delete(h.identities, m.session.IdentityID)
	}
	delete(h.members, connID)
	metrics.ConnectedSessions.WithLabelValues(string(m.session.Role)).Dec()

	return m.session, true
}

// Resolve returns the connection currently mapped to the identity.
func (h *Hub) Resolve(identityID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connID, ok := h.identities[identityID]
	return connID, ok
}

// Session returns the session bound to a connection.
func (h *Hub) Session(connID string) (domain.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m, ok := h.members[connID]
	if !ok {
		return domain.Session{}, false
	}
	return m.session, true
}

// Conn returns the live connection with the given id.
func (h *Hub) Conn(connID string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m, ok := h.members[connID]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Join adds a registered connection to an order's room. Joining twice is a no-op.
func (h *Hub) Join(connID, orderID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[connID]
	if !ok {
		return ErrNotConnected
	}

	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[string]struct{})
		h.rooms[orderID] = room
	}
	room[connID] = struct{}{}
	m.rooms[orderID] = struct{}{}

	return nil
}

// InRoom reports whether the connection is subscribed to the order.
func (h *Hub) InRoom(connID, orderID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.rooms[orderID][connID]
	return ok
}

// RoomMembers returns a point-in-time copy of the connections subscribed to the order.
func (h *Hub) RoomMembers(orderID string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[orderID]
	conns := make([]Conn, 0, len(room))
	for connID := range room {
		if m, ok := h.members[connID]; ok {
			conns = append(conns, m.conn)
		}
	}
	return conns
}

// Counts returns the current number of sessions and rooms.
func (h *Hub) Counts() Counts {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c := Counts{Connections: len(h.members), Rooms: len(h.rooms)}
	for _, m := range h.members {
		switch m.session.Role {
		case domain.RoleDriver:
			c.Drivers++
		case domain.RoleCustomer:
			c.Customers++
		case domain.RoleOperator:
			c.Operators++
		}
	}
	return c
}

// leaveAllLocked drops the connection from every room it joined. h.mu must be held.
func (h *Hub) leaveAllLocked(connID string, m *member) {
	for orderID := range m.rooms {
		room := h.rooms[orderID]
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	m.rooms = make(map[string]struct{})
}
