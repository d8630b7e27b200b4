package node

import (
	"crypto/rand"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
)

// closeError makes the dispatcher send a bye with code and close the
// connection.
type closeError struct {
	code ByeCode
	err  error
}

func (e *closeError) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *closeError) Unwrap() error {
	return e.err
}

func closeWith(code ByeCode, err error) error {
	return &closeError{code: code, err: err}
}

func newChallenge() []byte {
	c := make([]byte, challengeLength)
	rand.Read(c)
	return c
}

func (n *Node) newHello(challenge, response []byte) (*Hello, error) {
	addr, err := n.selfAddress()
	if err != nil {
		return nil, err
	}
	return &Hello{
		Version:           ProtocolVersion,
		Identity:          n.address,
		PublicKey:         n.pubKey,
		Role:              presence.RoleRelay,
		DeviceID:          n.conf.DeviceID,
		Endpoint:          addr.Endpoint,
		Timestamp:         addr.LastSeen,
		Challenge:         challenge,
		ChallengeResponse: response,
		Address:           addr,
	}, nil
}

func (n *Node) sendHello(c net.Conn, challenge, response []byte) error {
	h, err := n.newHello(challenge, response)
	if err != nil {
		return err
	}
	return n.send(c, net.KindHello, h)
}

// signChallenge answers a challenge sent by a peer.
func (n *Node) signChallenge(challenge []byte) ([]byte, error) {
	return keys.SignData(n.key, challenge)
}

// validateHello checks the fields common to both hello kinds and records the
// claims of the peer on the connection.
func (n *Node) validateHello(c net.Conn, h *Hello) error {
	if h.Version < MinProtocolVersion || h.Version > MaxProtocolVersion {
		return closeWith(ByeDeprecated, common.NewProtocolErr(common.Violation,
			"protocol version %d not in [%d, %d]", h.Version, MinProtocolVersion, MaxProtocolVersion))
	}
	if !h.Role.Valid() {
		return closeWith(ByeOther, common.NewProtocolErr(common.Malformed, "unknown role %d", h.Role))
	}
	if len(h.PublicKey) == 0 || !keys.PublicKeyAddress(h.PublicKey).Equal(h.Identity) {
		return closeWith(ByeAuthFailed, common.NewProtocolErr(common.Verification, "identity does not match public key"))
	}

	info := c.Meta().Info()
	if !info.Identity.Empty() && !info.Identity.Equal(h.Identity) {
		return closeWith(ByeAuthFailed, common.NewProtocolErr(common.Violation, "peer changed identity during handshake"))
	}

	// the claims of an authenticated peer are fixed
	if info.Authenticated() {
		return nil
	}

	c.Meta().Update(func(info *net.PeerInfo) {
		info.Identity = h.Identity
		info.PublicKey = h.PublicKey
		info.Role = h.Role
		info.DeviceID = h.DeviceID
		info.Endpoint = h.Endpoint
		info.Version = h.Version
	})
	return nil
}

// asClient records a peer authenticated by the plain hello exchange as a
// client. Only helloWithMetadata, which carries the chain tip, establishes an
// authoritative peer, and the relay role cannot be proven by a self-signed
// hello.
func (n *Node) asClient(c net.Conn, h *Hello) {
	if h.Address != nil && h.Address.Role != presence.RoleClient {
		h.Address = nil
	}
	if h.Role == presence.RoleClient {
		return
	}
	n.logger.WithFields(logrus.Fields{
		"remote":   c.RemoteAddr(),
		"identity": h.Identity,
		"claimed":  h.Role,
	}).Info("Treating hello peer as client")

	c.Meta().Update(func(info *net.PeerInfo) {
		info.Role = presence.RoleClient
	})
	h.Role = presence.RoleClient
}

// handleHello runs the hello exchange. The first hello of a peer is answered
// with our own hello carrying a fresh challenge, and the signature of the
// peer's challenge if it sent one. A later hello carrying the response to our
// challenge authenticates the peer.
func (n *Node) handleHello(c net.Conn, payload []byte) error {
	var h Hello
	if err := decode(payload, &h, "hello"); err != nil {
		return err
	}
	if err := n.validateHello(c, &h); err != nil {
		return err
	}

	info := c.Meta().Info()

	var response []byte
	if len(h.Challenge) > 0 {
		sig, err := n.signChallenge(h.Challenge)
		if err != nil {
			return err
		}
		response = sig
	}

	if info.Authenticated() {
		if response != nil {
			return n.sendHello(c, nil, response)
		}
		return nil
	}

	if len(h.ChallengeResponse) > 0 && len(info.Challenge) > 0 {
		if !keys.VerifyData(h.PublicKey, info.Challenge, h.ChallengeResponse) {
			return closeWith(ByeAuthFailed, common.NewProtocolErr(common.Verification, "invalid challenge response"))
		}
		n.asClient(c, &h)
		n.authenticated(c, &h)
		if response != nil {
			return n.sendHello(c, nil, response)
		}
		return nil
	}

	challenge := info.Challenge
	if len(challenge) == 0 {
		challenge = newChallenge()
	}
	c.Meta().Update(func(info *net.PeerInfo) {
		info.Challenge = challenge
		info.State = net.HelloExchanged
	})

	return n.sendHello(c, challenge, response)
}

// handleHelloWithMetadata completes the handshake with an authoritative node.
func (n *Node) handleHelloWithMetadata(c net.Conn, payload []byte) error {
	var h HelloWithMetadata
	if err := decode(payload, &h, "helloWithMetadata"); err != nil {
		return err
	}
	if err := n.validateHello(c, &h.Hello); err != nil {
		return err
	}

	if !h.Role.IsAuthoritative() {
		return closeWith(ByeExpectingMaster, common.NewProtocolErr(common.Violation, "expecting master node, got %v", h.Role))
	}

	info := c.Meta().Info()
	if len(info.Challenge) == 0 || !keys.VerifyData(h.PublicKey, info.Challenge, h.ChallengeResponse) {
		return closeWith(ByeAuthFailed, common.NewProtocolErr(common.Verification, "invalid challenge response"))
	}

	c.Meta().Update(func(info *net.PeerInfo) {
		info.BlockHeight = h.BlockHeight
		info.BlockChecksum = h.BlockChecksum
		info.BlockVersion = h.BlockVersion
	})
	n.setNetworkTip(h.BlockHeight, h.BlockChecksum, h.BlockVersion)

	if h.PublicIP != "" {
		n.setPublicIP(h.PublicIP)
	}

	n.authenticated(c, &h.Hello)

	if len(h.Challenge) > 0 {
		sig, err := n.signChallenge(h.Challenge)
		if err != nil {
			return err
		}
		if err := n.sendHello(c, nil, sig); err != nil {
			return err
		}
	}

	if err := n.send(c, net.KindPresenceQuery, &PresenceQuery{
		Role:  presence.RoleMaster,
		Count: n.conf.PresenceSample,
	}); err != nil {
		return err
	}
	if err := n.send(c, net.KindEventSubscribe, &EventSubscribe{
		Events:    []uint8{EventKeepAlive, EventTransaction},
		Addresses: []common.Address{n.address},
	}); err != nil {
		return err
	}
	c.Meta().SetState(net.EventSubscribed)

	if tip := n.tiv.TipHeight(); tip < h.BlockHeight {
		n.sendHeaderRequest(c, tip+1)
	}

	return nil
}

// authenticated marks the peer authenticated and stores its presence.
func (n *Node) authenticated(c net.Conn, h *Hello) {
	c.Meta().Update(func(info *net.PeerInfo) {
		info.State = net.Authenticated
		info.Challenge = nil
	})

	n.logger.WithFields(logrus.Fields{
		"remote":   c.RemoteAddr(),
		"identity": h.Identity,
		"role":     h.Role,
	}).Info("Peer authenticated")

	if h.Address == nil {
		return
	}
	p := presence.NewPresence(h.PublicKey)
	p.Addresses = append(p.Addresses, h.Address)
	if _, err := n.directory.UpsertPresence(p); err != nil {
		n.logger.WithError(err).WithField("identity", h.Identity).Debug("Ignoring hello presence")
	}
}

// sendBye sends a bye and closes the connection.
func (n *Node) sendBye(c net.Conn, code ByeCode, message, data string) {
	if err := n.send(c, net.KindBye, &Bye{Code: code, Message: message, Data: data}); err != nil {
		n.logger.WithError(err).Debug("Sending bye")
	}
	c.Meta().SetState(net.Disconnected)
	c.Close()
}

// handleBye reacts to the reason a peer gives for closing.
func (n *Node) handleBye(c net.Conn, payload []byte) error {
	var b Bye
	if err := decode(payload, &b, "bye"); err != nil {
		c.Close()
		return err
	}

	fields := logrus.Fields{
		"remote":  c.RemoteAddr(),
		"code":    b.Code,
		"message": b.Message,
	}

	switch b.Code {
	case ByeNormal, ByeOther:
		n.logger.WithFields(fields).Debug("Peer said bye")
	case ByeIncorrectIP:
		if b.Data != "" && n.hub.OutboundCount() < 2 {
			n.setPublicIP(b.Data)
		}
		n.logger.WithFields(fields).Info("Peer reported incorrect IP")
	case ByeNotConnectable:
		n.setReachable(false)
		n.logger.WithFields(fields).Warn("Node is not connectable")
	default:
		n.logger.WithFields(fields).Warn("Peer closed the connection")
	}

	c.Close()
	return nil
}

func (n *Node) send(c net.Conn, kind net.MessageKind, v interface{}) error {
	raw, err := common.Encode(v)
	if err != nil {
		return err
	}
	return c.Send(kind, raw)
}
