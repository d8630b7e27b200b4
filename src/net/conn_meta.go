package net

import (
	"sync"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/presence"
)

// HandshakeState is the progress of the handshake on a connection.
type HandshakeState int32

const (
	// Connected is the state of a fresh connection.
	Connected HandshakeState = iota
	// HelloExchanged means a hello went out and a challenge is outstanding.
	HelloExchanged
	// Authenticated means the peer proved ownership of its public key.
	Authenticated
	// EventSubscribed means the node subscribed to the peer's event feed.
	EventSubscribed
	// Disconnected is terminal.
	Disconnected
)

func (s HandshakeState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case HelloExchanged:
		return "HelloExchanged"
	case Authenticated:
		return "Authenticated"
	case EventSubscribed:
		return "EventSubscribed"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PeerInfo is what the remote end of a connection claimed about itself, plus
// the handshake progress.
type PeerInfo struct {
	Identity      common.Address
	PublicKey     []byte
	Role          presence.Role
	DeviceID      string
	Endpoint      string
	Version       int
	BlockHeight   uint64
	BlockChecksum []byte
	BlockVersion  int
	State         HandshakeState
	Challenge     []byte
}

// Authenticated reports whether the peer completed the handshake.
func (p PeerInfo) Authenticated() bool {
	return p.State == Authenticated || p.State == EventSubscribed
}

// ConnMeta holds the PeerInfo of a connection. It is written by the
// connection's dispatch goroutine and read by anyone broadcasting.
type ConnMeta struct {
	l    sync.RWMutex
	info PeerInfo
}

// Info returns a copy of the peer info.
func (m *ConnMeta) Info() PeerInfo {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.info
}

// Update applies fn to the peer info under the lock.
func (m *ConnMeta) Update(fn func(*PeerInfo)) {
	m.l.Lock()
	defer m.l.Unlock()
	fn(&m.info)
}

// State returns the handshake state.
func (m *ConnMeta) State() HandshakeState {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.info.State
}

// SetState sets the handshake state.
func (m *ConnMeta) SetState(s HandshakeState) {
	m.l.Lock()
	defer m.l.Unlock()
	m.info.State = s
}

// Identity returns the claimed identity.
func (m *ConnMeta) Identity() common.Address {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.info.Identity
}

// Role returns the claimed role.
func (m *ConnMeta) Role() presence.Role {
	m.l.RLock()
	defer m.l.RUnlock()
	return m.info.Role
}
