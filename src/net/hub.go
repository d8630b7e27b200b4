package net

import (
	"sync"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/presence"
)

// Hub keeps the live connections of a node. Sends never happen under the hub
// lock.
type Hub struct {
	l     sync.RWMutex
	conns map[Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[Conn]struct{}),
	}
}

// Add registers a connection.
func (h *Hub) Add(c Conn) {
	h.l.Lock()
	defer h.l.Unlock()
	h.conns[c] = struct{}{}
}

// Remove forgets a connection.
func (h *Hub) Remove(c Conn) {
	h.l.Lock()
	defer h.l.Unlock()
	delete(h.conns, c)
}

// Conns returns a snapshot of the live connections.
func (h *Hub) Conns() []Conn {
	h.l.RLock()
	defer h.l.RUnlock()
	res := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		res = append(res, c)
	}
	return res
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.l.RLock()
	defer h.l.RUnlock()
	return len(h.conns)
}

// OutboundCount returns the number of live connections dialed by this node.
func (h *Hub) OutboundCount() int {
	h.l.RLock()
	defer h.l.RUnlock()
	n := 0
	for c := range h.conns {
		if c.Outbound() {
			n++
		}
	}
	return n
}

// Authenticated returns the authenticated connections whose peer plays one of
// roles. An empty roles list matches every role.
func (h *Hub) Authenticated(roles ...presence.Role) []Conn {
	var res []Conn
	for _, c := range h.Conns() {
		info := c.Meta().Info()
		if !info.Authenticated() {
			continue
		}
		if len(roles) == 0 || hasRole(roles, info.Role) {
			res = append(res, c)
		}
	}
	return res
}

// Broadcast sends the message to every authenticated connection whose peer
// plays one of roles, except the given connection. It returns the number of
// successful sends.
func (h *Hub) Broadcast(roles []presence.Role, kind MessageKind, payload []byte, except Conn) int {
	sent := 0
	for _, c := range h.Authenticated(roles...) {
		if except != nil && c == except {
			continue
		}
		if err := c.Send(kind, payload); err == nil {
			sent++
		}
	}
	return sent
}

// ByIdentity returns an authenticated connection to identity, or nil.
func (h *Hub) ByIdentity(identity common.Address) Conn {
	for _, c := range h.Authenticated() {
		if c.Meta().Identity().Equal(identity) {
			return c
		}
	}
	return nil
}

// ByEndpoint returns an authenticated connection whose remote address or
// advertised endpoint is endpoint, or nil.
func (h *Hub) ByEndpoint(endpoint string) Conn {
	for _, c := range h.Authenticated() {
		if c.RemoteAddr() == endpoint || c.Meta().Info().Endpoint == endpoint {
			return c
		}
	}
	return nil
}

// SendTo sends the message to the authenticated connection of identity.
func (h *Hub) SendTo(identity common.Address, kind MessageKind, payload []byte) error {
	c := h.ByIdentity(identity)
	if c == nil {
		return ErrNoConnection
	}
	return c.Send(kind, payload)
}

func hasRole(roles []presence.Role, r presence.Role) bool {
	for _, role := range roles {
		if role == r {
			return true
		}
	}
	return false
}
