package node

import (
	"math/rand"
	"sync"

	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
)

// PeerSelector picks the authoritative peer a request goes to.
type PeerSelector interface {
	Next(exclude net.Conn) net.Conn
}

// RandomPeerSelector picks a random authenticated master or hybrid peer,
// avoiding the one picked last time when it has a choice.
type RandomPeerSelector struct {
	sync.Mutex
	hub  *net.Hub
	last net.Conn
}

// NewRandomPeerSelector creates a RandomPeerSelector over the connections of
// hub.
func NewRandomPeerSelector(hub *net.Hub) *RandomPeerSelector {
	return &RandomPeerSelector{hub: hub}
}

// Next returns a peer other than exclude, or nil if there is none.
func (ps *RandomPeerSelector) Next(exclude net.Conn) net.Conn {
	var selectable []net.Conn
	for _, c := range ps.hub.Authenticated(presence.AuthoritativeRoles...) {
		if exclude != nil && c == exclude {
			continue
		}
		selectable = append(selectable, c)
	}

	if len(selectable) == 0 {
		return nil
	}

	ps.Lock()
	defer ps.Unlock()

	if len(selectable) > 1 && ps.last != nil {
		for i, c := range selectable {
			if c == ps.last {
				selectable = append(selectable[:i], selectable[i+1:]...)
				break
			}
		}
	}

	peer := selectable[rand.Intn(len(selectable))]
	ps.last = peer

	return peer
}
