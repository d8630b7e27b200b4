package node

import (
	stdnet "net"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
)

// Endpoint returns the address other nodes should dial to reach us: the
// public IP reported by the network when known, with the port of the
// transport.
func (n *Node) Endpoint() string {
	advertised := n.trans.AdvertiseAddr()

	n.selfLock.RLock()
	ip := n.publicIP
	n.selfLock.RUnlock()

	if ip == "" {
		return advertised
	}
	_, port, err := stdnet.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	return stdnet.JoinHostPort(ip, port)
}

// PublicIP returns the public IP reported by the network.
func (n *Node) PublicIP() string {
	n.selfLock.RLock()
	defer n.selfLock.RUnlock()
	return n.publicIP
}

func (n *Node) setPublicIP(ip string) {
	if host, _, err := stdnet.SplitHostPort(ip); err == nil {
		ip = host
	}

	n.selfLock.Lock()
	changed := n.publicIP != ip
	n.publicIP = ip
	n.selfLock.Unlock()

	if changed {
		n.logger.WithField("ip", ip).Info("Setting public IP")
	}
}

// Reachable reports whether the network can dial this node.
func (n *Node) Reachable() bool {
	n.selfLock.RLock()
	defer n.selfLock.RUnlock()
	return n.reachable
}

func (n *Node) setReachable(reachable bool) {
	n.selfLock.Lock()
	n.reachable = reachable
	n.selfLock.Unlock()
}

// selfAddress returns our presence address, signed and stamped now.
func (n *Node) selfAddress() (*presence.Address, error) {
	a := &presence.Address{
		DeviceID: n.conf.DeviceID,
		Endpoint: n.Endpoint(),
		Role:     presence.RoleRelay,
		LastSeen: n.clock.Now().Unix(),
	}
	if err := a.Sign(n.address, n.key); err != nil {
		return nil, err
	}
	return a, nil
}

// announceSelf refreshes our own directory entry with a new keepalive and,
// if broadcast is set, sends it to the authoritative peers.
func (n *Node) announceSelf(broadcast bool) error {
	ka, err := presence.NewKeepAlive(n.key, n.conf.DeviceID, n.Endpoint(), presence.RoleRelay, n.clock.Now().Unix())
	if err != nil {
		return err
	}
	raw, err := ka.Marshal()
	if err != nil {
		return err
	}
	if _, _, err := n.directory.ReceiveKeepAlive(raw); err != nil {
		return err
	}
	if !broadcast {
		return nil
	}

	sent := n.hub.Broadcast(presence.AuthoritativeRoles, net.KindPresenceKeepAlive, raw, nil)
	n.logger.WithFields(logrus.Fields{
		"peers":     sent,
		"reachable": n.Reachable(),
	}).Debug("Sent keepalive")
	return nil
}
