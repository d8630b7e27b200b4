package net

import (
	"sync"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/presence"
)

// CaptureConn is a Conn that records what is sent through it instead of
// writing to a socket. It stands in for a peer in tests of the components that
// talk to connections.
type CaptureConn struct {
	l        sync.Mutex
	meta     ConnMeta
	remote   string
	outbound bool
	sent     []Message
	closed   bool
	sendErr  error
}

// NewCaptureConn returns a CaptureConn whose peer is already authenticated
// with the given identity and role.
func NewCaptureConn(remote string, identity common.Address, role presence.Role) *CaptureConn {
	c := &CaptureConn{remote: remote}
	c.meta.Update(func(info *PeerInfo) {
		info.Identity = identity
		info.Role = role
		info.State = EventSubscribed
	})
	return c
}

// SetOutbound marks the connection as dialed by this node.
func (c *CaptureConn) SetOutbound(outbound bool) {
	c.l.Lock()
	defer c.l.Unlock()
	c.outbound = outbound
}

// FailSends makes every following Send return err.
func (c *CaptureConn) FailSends(err error) {
	c.l.Lock()
	defer c.l.Unlock()
	c.sendErr = err
}

// Send implements the Conn interface.
func (c *CaptureConn) Send(kind MessageKind, payload []byte) error {
	c.l.Lock()
	defer c.l.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Message{Kind: kind, Payload: append([]byte(nil), payload...)})
	return nil
}

// Close implements the Conn interface.
func (c *CaptureConn) Close() error {
	c.l.Lock()
	defer c.l.Unlock()
	c.closed = true
	c.meta.SetState(Disconnected)
	return nil
}

// Closed reports whether Close was called.
func (c *CaptureConn) Closed() bool {
	c.l.Lock()
	defer c.l.Unlock()
	return c.closed
}

// Sent returns a copy of the recorded messages.
func (c *CaptureConn) Sent() []Message {
	c.l.Lock()
	defer c.l.Unlock()
	return append([]Message(nil), c.sent...)
}

// SentOfKind returns the recorded messages of the given kind.
func (c *CaptureConn) SentOfKind(kind MessageKind) []Message {
	var res []Message
	for _, m := range c.Sent() {
		if m.Kind == kind {
			res = append(res, m)
		}
	}
	return res
}

// Reset forgets the recorded messages.
func (c *CaptureConn) Reset() {
	c.l.Lock()
	defer c.l.Unlock()
	c.sent = nil
}

// Meta implements the Conn interface.
func (c *CaptureConn) Meta() *ConnMeta {
	return &c.meta
}

// RemoteAddr implements the Conn interface.
func (c *CaptureConn) RemoteAddr() string {
	return c.remote
}

// Outbound implements the Conn interface.
func (c *CaptureConn) Outbound() bool {
	c.l.Lock()
	defer c.l.Unlock()
	return c.outbound
}
