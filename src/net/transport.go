package net

import "errors"

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")
	// ErrNoConnection is returned by the Hub when no live connection matches.
	ErrNoConnection = errors.New("no connection")
)

// Conn is one end of a typed message channel.
type Conn interface {
	// Send writes one message. It is safe for concurrent use.
	Send(kind MessageKind, payload []byte) error

	// Close tears the connection down. The handler's Disconnected callback
	// runs once the read loop exits.
	Close() error

	// Meta returns the connection scoped peer information.
	Meta() *ConnMeta

	// RemoteAddr returns the address of the remote end.
	RemoteAddr() string

	// Outbound reports whether this node dialed the connection.
	Outbound() bool
}

// Handler receives the events of the connections of a transport. Dispatch is
// called from the connection's own goroutine, one message at a time.
type Handler interface {
	Connected(c Conn)
	Dispatch(c Conn, msg Message)
	Disconnected(c Conn)
}

// Transport establishes connections.
type Transport interface {
	// Listen accepts inbound connections and serves them with h until the
	// transport is closed.
	Listen(h Handler)

	// Connect dials target and serves the new connection with h.
	Connect(target string, h Handler) (Conn, error)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
