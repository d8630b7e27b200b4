package node

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/presence"
)

// maintenanceLoop runs maintain every MaintenanceInterval until the node
// stops.
func (n *Node) maintenanceLoop() {
	ticker := time.NewTicker(n.conf.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.maintain(n.clock.Now())
		case <-n.done():
			return
		case <-n.shutdownCh:
			return
		}
	}
}

// maintain sweeps expired state, drives the pending transactions and the
// verifier timers, and keeps enough authoritative peers connected.
func (n *Node) maintain(now time.Time) {
	removed := n.directory.Sweep(now)
	expired := n.relay.Sweep(now)
	res := n.pending.Tick(now, n.tiv.TipHeight())
	n.tiv.CheckStall(now)

	if removed > 0 || expired > 0 || len(res.Expired) > 0 {
		n.logger.WithFields(logrus.Fields{
			"presences": removed,
			"staged":    expired,
			"pending":   len(res.Expired),
		}).Debug("Swept expired entries")
	}

	n.ensureConnections()

	if now.Sub(n.lastStats) >= n.conf.StatsInterval {
		n.lastStats = now
		n.logStats()
	}
}

// keepAliveLoop announces our presence every KeepAliveInterval, with some
// jitter, and refreshes the wallet balance at the same pace.
func (n *Node) keepAliveLoop() {
	go n.keepAliveTimer.Run(n.conf.KeepAliveInterval)

	for {
		select {
		case <-n.keepAliveTimer.tickCh:
			if err := n.announceSelf(true); err != nil {
				n.logger.WithError(err).Warn("Sending keepalive")
			}
			n.requestBalance()
			n.keepAliveTimer.Reset(n.conf.KeepAliveInterval)
		case <-n.done():
			return
		case <-n.shutdownCh:
			return
		}
	}
}

// candidates returns the endpoints of authoritative nodes worth dialing:
// the configured seeds first, then the masters learned from the directory.
func (n *Node) candidates() []string {
	seen := make(map[string]bool)
	var res []string
	add := func(endpoint string) {
		if endpoint == "" || seen[endpoint] {
			return
		}
		seen[endpoint] = true
		res = append(res, endpoint)
	}

	for _, s := range n.conf.Seeds {
		add(s)
	}
	for _, p := range n.directory.Sample(presence.RoleMaster, n.conf.MaxOutbound) {
		if p.Identity.Equal(n.address) {
			continue
		}
		for _, a := range p.Addresses {
			if a.Role.IsAuthoritative() {
				add(a.Endpoint)
			}
		}
	}
	return res
}

func (n *Node) connectedTo(endpoint string) bool {
	for _, c := range n.hub.Conns() {
		if c.RemoteAddr() == endpoint || c.Meta().Info().Endpoint == endpoint {
			return true
		}
	}
	return false
}

// ensureConnections dials candidates until MaxOutbound connections are open
// or being opened.
func (n *Node) ensureConnections() {
	if n.getState() != Running {
		return
	}

	n.dialLock.Lock()
	missing := n.conf.MaxOutbound - n.hub.OutboundCount() - len(n.dialing)
	var targets []string
	for _, endpoint := range n.candidates() {
		if missing <= 0 {
			break
		}
		if n.dialing[endpoint] || n.connectedTo(endpoint) || endpoint == n.Endpoint() {
			continue
		}
		n.dialing[endpoint] = true
		targets = append(targets, endpoint)
		missing--
	}
	n.dialLock.Unlock()

	for _, target := range targets {
		target := target
		started := n.goFunc(func() {
			n.dial(target)
		})
		if !started {
			n.dialLock.Lock()
			delete(n.dialing, target)
			n.dialLock.Unlock()
		}
	}
}

func (n *Node) dial(target string) {
	defer func() {
		n.dialLock.Lock()
		delete(n.dialing, target)
		n.dialLock.Unlock()
	}()

	if _, err := n.trans.Connect(target, n); err != nil {
		n.logger.WithFields(logrus.Fields{
			"target": target,
			"error":  err,
		}).Debug("Dialing peer")
	}
}
