package net

import (
	"net"
	"time"
)

// StreamLayer supplies the byte streams a NetworkTransport frames messages
// on: inbound streams through the embedded listener, outbound ones through
// Dial.
type StreamLayer interface {
	net.Listener

	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address announced in hellos and presences.
	AdvertiseAddr() string
}
