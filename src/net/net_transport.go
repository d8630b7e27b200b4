package net

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	bufSize = 64 << 10
)

/*
NetworkTransport provides a network based transport over an underlying stream
layer, which can be simple TCP, TLS, etc.

Every connection, dialed or accepted, is served by a dedicated goroutine which
reads frames and hands them to the Handler in order. Writes are serialized by a
per-connection lock and bounded by the write timeout.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	stream       StreamLayer
	timeout      time.Duration
	maxFrameSize uint32

	conns     map[*netConn]struct{}
	connsLock sync.Mutex
	wg        sync.WaitGroup

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

type netConn struct {
	trans    *NetworkTransport
	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	wLock    sync.Mutex
	meta     ConnMeta
	outbound bool

	closeOnce sync.Once
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply write deadlines and to bound dialing.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	maxFrameSize uint32,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	return &NetworkTransport{
		logger:       logger,
		stream:       stream,
		timeout:      timeout,
		maxFrameSize: maxFrameSize,
		conns:        make(map[*netConn]struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

// Close is used to stop the network transport. It closes the listener and
// every live connection, then waits for the connection goroutines to exit.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	if n.shutdown {
		n.shutdownLock.Unlock()
		return nil
	}
	close(n.shutdownCh)
	n.stream.Close()
	n.shutdown = true
	n.shutdownLock.Unlock()

	n.connsLock.Lock()
	conns := make([]*netConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.connsLock.Unlock()

	for _, c := range conns {
		c.Close()
	}

	n.wg.Wait()
	return nil
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Connect implements the Transport interface.
func (n *NetworkTransport) Connect(target string, h Handler) (Conn, error) {
	if n.IsShutdown() {
		return nil, ErrTransportShutdown
	}

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, err
	}

	c := n.wrap(conn, true)
	if err := n.serve(c, h); err != nil {
		return nil, err
	}
	return c, nil
}

// Listen implements the Transport interface.
func (n *NetworkTransport) Listen(h Handler) {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		n.serve(n.wrap(conn, false), h)
	}
}

func (n *NetworkTransport) wrap(conn net.Conn, outbound bool) *netConn {
	return &netConn{
		trans:    n,
		conn:     conn,
		r:        bufio.NewReaderSize(conn, bufSize),
		w:        bufio.NewWriterSize(conn, bufSize),
		outbound: outbound,
	}
}

// serve registers the connection and starts its read loop.
func (n *NetworkTransport) serve(c *netConn, h Handler) error {
	n.shutdownLock.Lock()
	if n.shutdown {
		n.shutdownLock.Unlock()
		c.conn.Close()
		return ErrTransportShutdown
	}
	n.connsLock.Lock()
	n.conns[c] = struct{}{}
	n.connsLock.Unlock()
	n.wg.Add(1)
	n.shutdownLock.Unlock()

	h.Connected(c)
	go n.handleConn(c, h)
	return nil
}

// handleConn is used to handle a connection for its lifespan.
func (n *NetworkTransport) handleConn(c *netConn, h Handler) {
	defer n.wg.Done()
	defer func() {
		c.Close()
		c.meta.SetState(Disconnected)

		n.connsLock.Lock()
		delete(n.conns, c)
		n.connsLock.Unlock()

		h.Disconnected(c)
	}()

	for {
		msg, err := readFrame(c.r, n.maxFrameSize)
		if err != nil {
			if err != io.EOF && !n.IsShutdown() {
				n.logger.WithFields(logrus.Fields{
					"remote": c.RemoteAddr(),
					"error":  err,
				}).Debug("Connection read failed")
			}
			return
		}
		h.Dispatch(c, msg)
	}
}

// Send implements the Conn interface.
func (c *netConn) Send(kind MessageKind, payload []byte) error {
	c.wLock.Lock()
	defer c.wLock.Unlock()

	if c.meta.State() == Disconnected {
		return ErrConnClosed
	}

	if c.trans.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.trans.timeout))
	}

	if err := writeFrame(c.w, kind, payload); err != nil {
		c.Close()
		return err
	}
	if err := c.w.Flush(); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close implements the Conn interface.
func (c *netConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Meta implements the Conn interface.
func (c *netConn) Meta() *ConnMeta {
	return &c.meta
}

// RemoteAddr implements the Conn interface.
func (c *netConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Outbound implements the Conn interface.
func (c *netConn) Outbound() bool {
	return c.outbound
}
