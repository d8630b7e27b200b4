package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/activity"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/pending"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/relay"
	"github.com/mosaicnetworks/s2/src/tiv"
)

// NetworkTip is the best chain tip advertised by the network.
type NetworkTip struct {
	Height   uint64
	Checksum []byte
	Version  int
}

// Node is an S2 relay node. It implements net.Handler for the connections of
// its transport and ties the directory, the verifier, the relay engine and
// the pending manager together.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry
	clock  common.Clock

	key     *ecdsa.PrivateKey
	pubKey  []byte
	address common.Address

	trans        net.Transport
	hub          *net.Hub
	peerSelector PeerSelector

	directory  *presence.Directory
	tiv        *tiv.Verifier
	relay      *relay.Engine
	pending    *pending.Manager
	headers    tiv.HeaderStore
	activities activity.Store
	balance    *balanceTracker

	selfLock  sync.RWMutex
	publicIP  string
	reachable bool

	tipLock    sync.RWMutex
	networkTip NetworkTip

	subsLock sync.RWMutex
	subs     map[net.Conn]*EventSubscribe

	dialLock sync.Mutex
	dialing  map[string]bool

	keepAliveTimer *ControlTimer

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	start     time.Time
	lastStats time.Time
}

// NewNode creates a Node owning key. The header and activity stores are
// closed by Shutdown.
func NewNode(conf *Config,
	key *ecdsa.PrivateKey,
	trans net.Transport,
	headers tiv.HeaderStore,
	activities activity.Store) *Node {

	clock := conf.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}

	pub := keys.FromPublicKey(&key.PublicKey)
	address := keys.PublicKeyAddress(pub)
	logger := conf.Logger.WithField("address", address.String())

	n := &Node{
		conf:           conf,
		logger:         logger,
		clock:          clock,
		key:            key,
		pubKey:         pub,
		address:        address,
		trans:          trans,
		hub:            net.NewHub(),
		headers:        headers,
		activities:     activities,
		balance:        newBalanceTracker(address),
		reachable:      true,
		subs:           make(map[net.Conn]*EventSubscribe),
		dialing:        make(map[string]bool),
		keepAliveTimer: NewJitteredControlTimer(),
		shutdownCh:     make(chan struct{}),
	}

	n.peerSelector = NewRandomPeerSelector(n.hub)
	n.directory = presence.NewDirectory(conf.DirectoryTTL, clock, logger.WithField("component", "presence"))
	n.tiv = tiv.NewVerifier(conf.TIV, headers, n, n, clock, logger.WithField("component", "tiv"))
	n.relay = relay.NewEngine(conf.Relay, address, n.directory, n.hub, clock, logger.WithField("component", "relay"))
	n.pending = pending.NewManager(conf.Pending, n, activities, clock, logger.WithField("component", "pending"))

	return n
}

// Start announces the node's own presence, starts serving the transport and
// the background loops, and dials the seeds. The node stops when ctx is
// cancelled or Shutdown is called.
func (n *Node) Start(ctx context.Context) error {
	if n.getState() != Initial {
		return fmt.Errorf("node already started")
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.start = n.clock.Now()
	n.lastStats = n.start
	n.setState(Running)

	if err := n.announceSelf(false); err != nil {
		return err
	}

	go n.trans.Listen(n)

	if err := n.tiv.Start(n.conf.Anchor); err != nil {
		return err
	}

	n.goFunc(n.maintenanceLoop)
	n.goFunc(n.keepAliveLoop)

	n.ensureConnections()

	n.logger.WithFields(logrus.Fields{
		"endpoint": n.Endpoint(),
		"seeds":    len(n.conf.Seeds),
	}).Info("S2 node started")

	return nil
}

// Shutdown stops the loops, closes every connection and the stores. Loops
// get ShutdownTimeout to return.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(n.shutdown)
}

func (n *Node) shutdown() {
	n.logger.Debug("Shutdown")
	n.setState(Shutdown)

	if n.cancel != nil {
		n.cancel()
	}
	close(n.shutdownCh)
	n.keepAliveTimer.Shutdown()

	if err := n.trans.Close(); err != nil {
		n.logger.WithError(err).Warn("Closing transport")
	}

	timeout := time.NewTimer(n.conf.ShutdownTimeout)
	defer timeout.Stop()
	if !n.waitRoutines(timeout.C) {
		n.logger.Warn("Background routines did not stop in time")
	}

	if n.headers != nil {
		if err := n.headers.Close(); err != nil {
			n.logger.WithError(err).Warn("Closing header store")
		}
	}
	if n.activities != nil {
		if err := n.activities.Close(); err != nil {
			n.logger.WithError(err).Warn("Closing activity store")
		}
	}
}

// done is closed when the node stops for any reason.
func (n *Node) done() <-chan struct{} {
	if n.ctx == nil {
		return n.shutdownCh
	}
	return n.ctx.Done()
}

// Connected implements net.Handler. Outbound connections start the handshake
// with a challenge.
func (n *Node) Connected(c net.Conn) {
	n.hub.Add(c)

	n.logger.WithFields(logrus.Fields{
		"remote":   c.RemoteAddr(),
		"outbound": c.Outbound(),
	}).Debug("Connected")

	if !c.Outbound() {
		return
	}

	challenge := newChallenge()
	c.Meta().Update(func(info *net.PeerInfo) {
		info.Challenge = challenge
	})
	if err := n.sendHello(c, challenge, nil); err != nil {
		n.logger.WithError(err).Debug("Sending hello")
		c.Close()
	}
}

// Disconnected implements net.Handler.
func (n *Node) Disconnected(c net.Conn) {
	n.hub.Remove(c)

	n.subsLock.Lock()
	delete(n.subs, c)
	n.subsLock.Unlock()

	n.logger.WithFields(logrus.Fields{
		"remote":   c.RemoteAddr(),
		"identity": c.Meta().Identity(),
	}).Debug("Disconnected")
}

// Address returns the address of the node's identity.
func (n *Node) Address() common.Address {
	return n.address
}

// PublicKey returns the compressed public key of the node.
func (n *Node) PublicKey() []byte {
	return n.pubKey
}

// Hub returns the live connections.
func (n *Node) Hub() *net.Hub {
	return n.hub
}

// Directory returns the presence directory.
func (n *Node) Directory() *presence.Directory {
	return n.directory
}

// Verifier returns the transaction inclusion verifier.
func (n *Node) Verifier() *tiv.Verifier {
	return n.tiv
}

// Relay returns the relay engine.
func (n *Node) Relay() *relay.Engine {
	return n.relay
}

// Pending returns the pending transaction manager.
func (n *Node) Pending() *pending.Manager {
	return n.pending
}

// NetworkTip returns the best tip advertised by the network.
func (n *Node) NetworkTip() NetworkTip {
	n.tipLock.RLock()
	defer n.tipLock.RUnlock()
	return n.networkTip
}

// setNetworkTip records a tip if it is higher than the known one.
func (n *Node) setNetworkTip(height uint64, checksum []byte, version int) {
	n.tipLock.Lock()
	if height <= n.networkTip.Height && n.networkTip.Height > 0 {
		n.tipLock.Unlock()
		return
	}
	n.networkTip = NetworkTip{
		Height:   height,
		Checksum: append([]byte(nil), checksum...),
		Version:  version,
	}
	n.tipLock.Unlock()

	n.tiv.SetNetworkHeight(height)
	n.relay.SetBlockHeight(height)
}

// Status mirrors the sync status of the verifier.
func (n *Node) Status() tiv.Status {
	return n.tiv.Status()
}

// GetState returns the lifecycle state of the node.
func (n *Node) GetState() State {
	return n.getState()
}
