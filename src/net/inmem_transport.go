package net

import (
	"crypto/rand"
	"fmt"
	"sync"
)

// inboxSize is the number of messages an in-memory connection buffers before
// Send blocks.
const inboxSize = 64

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemConn is one end of an in-memory connection pair.
type InmemConn struct {
	meta     ConnMeta
	local    string
	remote   string
	outbound bool

	peer   *InmemConn
	inbox  chan Message
	closed chan struct{}
	once   *sync.Once
	done   chan struct{}
}

// NewInmemPair creates two connected ends. The first one is the dialing side.
func NewInmemPair(dialer, listener string) (*InmemConn, *InmemConn) {
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &InmemConn{
		local:    dialer,
		remote:   listener,
		outbound: true,
		inbox:    make(chan Message, inboxSize),
		closed:   closed,
		once:     once,
		done:     make(chan struct{}),
	}
	b := &InmemConn{
		local:  listener,
		remote: dialer,
		inbox:  make(chan Message, inboxSize),
		closed: closed,
		once:   once,
		done:   make(chan struct{}),
	}
	a.peer = b
	b.peer = a

	return a, b
}

// Serve delivers the messages received by this end to h from a dedicated
// goroutine, until the pair is closed.
func (c *InmemConn) Serve(h Handler) {
	h.Connected(c)
	go func() {
		defer close(c.done)
		defer func() {
			c.meta.SetState(Disconnected)
			h.Disconnected(c)
		}()
		for {
			select {
			case msg := <-c.inbox:
				h.Dispatch(c, msg)
			case <-c.closed:
				return
			}
		}
	}()
}

// Done is closed once the serving goroutine has exited.
func (c *InmemConn) Done() <-chan struct{} {
	return c.done
}

// Send implements the Conn interface.
func (c *InmemConn) Send(kind MessageKind, payload []byte) error {
	msg := Message{
		Kind:    kind,
		Payload: append([]byte(nil), payload...),
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.peer.inbox <- msg:
		return nil
	case <-c.closed:
		return ErrConnClosed
	}
}

// Close implements the Conn interface. Both ends are closed.
func (c *InmemConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})
	return nil
}

// Meta implements the Conn interface.
func (c *InmemConn) Meta() *ConnMeta {
	return &c.meta
}

// RemoteAddr implements the Conn interface.
func (c *InmemConn) RemoteAddr() string {
	return c.remote
}

// Outbound implements the Conn interface.
func (c *InmemConn) Outbound() bool {
	return c.outbound
}

// InmemTransport Implements the Transport interface, to allow S2 nodes to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	localAddr string
	peers     map[string]*InmemTransport
	handler   Handler
	conns     []*InmemConn

	shutdownCh chan struct{}
	shutdown   bool
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		shutdownCh: make(chan struct{}),
	}
	return addr, trans
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Listen implements the Transport interface. It registers h as the handler
// of inbound connections and blocks until Close.
func (i *InmemTransport) Listen(h Handler) {
	i.Lock()
	i.handler = h
	i.Unlock()
	<-i.shutdownCh
}

// Connect implements the Transport interface.
func (i *InmemTransport) Connect(target string, h Handler) (Conn, error) {
	i.RLock()
	peer, ok := i.peers[target]
	shutdown := i.shutdown
	i.RUnlock()

	if shutdown {
		return nil, ErrTransportShutdown
	}
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", target)
	}

	peer.RLock()
	remoteHandler := peer.handler
	peer.RUnlock()
	if remoteHandler == nil {
		return nil, fmt.Errorf("peer %v is not listening", target)
	}

	local, remote := NewInmemPair(i.localAddr, target)

	i.Lock()
	i.conns = append(i.conns, local)
	i.Unlock()
	peer.Lock()
	peer.conns = append(peer.conns, remote)
	peer.Unlock()

	remote.Serve(remoteHandler)
	local.Serve(h)

	return local, nil
}

// Route is used to make another transport reachable under the given address.
// This allows for local routing.
func (i *InmemTransport) Route(peer string, t *InmemTransport) {
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = t
}

// Unroute is used to remove the ability to route to a given peer.
func (i *InmemTransport) Unroute(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// Close is used to permanently disable the transport. Every connection it
// took part in is closed.
func (i *InmemTransport) Close() error {
	i.Lock()
	if i.shutdown {
		i.Unlock()
		return nil
	}
	i.shutdown = true
	close(i.shutdownCh)
	conns := i.conns
	i.conns = nil
	i.peers = make(map[string]*InmemTransport)
	i.Unlock()

	for _, c := range conns {
		c.Close()
	}
	for _, c := range conns {
		<-c.Done()
	}
	return nil
}
