package node

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/tiv"
)

// Dispatch implements net.Handler. It decodes and routes one message. Errors
// never reach the transport: malformed payloads are dropped, protocol
// violations close the connection with a bye.
func (n *Node) Dispatch(c net.Conn, msg net.Message) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(logrus.Fields{
				"kind":   msg.Kind,
				"remote": c.RemoteAddr(),
				"panic":  r,
			}).Error("Dispatch panicked")
		}
	}()

	if !msg.Kind.IsHandshake() && !c.Meta().Info().Authenticated() {
		n.logger.WithFields(logrus.Fields{
			"kind":   msg.Kind,
			"remote": c.RemoteAddr(),
		}).Debug("Dropping message from unauthenticated peer")
		return
	}

	n.handleError(c, msg.Kind, n.route(c, msg))
}

func (n *Node) route(c net.Conn, msg net.Message) error {
	switch msg.Kind {
	case net.KindHello:
		return n.handleHello(c, msg.Payload)
	case net.KindHelloWithMetadata:
		return n.handleHelloWithMetadata(c, msg.Payload)
	case net.KindBye:
		return n.handleBye(c, msg.Payload)
	case net.KindRelayData:
		return n.relay.Receive(msg.Payload, c)
	case net.KindRelayFailed:
		n.logger.WithField("remote", c.RemoteAddr()).Warn("Peer failed to relay data")
		return nil
	case net.KindRelaySignature:
		return n.handleRelaySignature(c, msg.Payload)
	case net.KindTransactionBroadcast:
		return n.handleTransaction(c, msg.Payload)
	case net.KindGetTransaction:
		return n.handleGetTransaction(c, msg.Payload)
	case net.KindPresenceUpdate:
		_, err := n.directory.Upsert(msg.Payload)
		return err
	case net.KindPresenceKeepAlive:
		return n.handleKeepAlive(c, msg.Payload)
	case net.KindPresenceQuery:
		return n.handlePresenceQuery(c, msg.Payload)
	case net.KindBalanceQuery:
		return n.handleBalanceQuery(c, msg.Payload)
	case net.KindBalanceResponse:
		return n.handleBalanceResponse(c, msg.Payload)
	case net.KindHeaderBatchRequest:
		return n.handleHeaderBatchRequest(c, msg.Payload)
	case net.KindHeaderBatchResponse:
		return n.handleHeaderBatch(c, msg.Payload)
	case net.KindInclusionProofRequest:
		n.logger.WithField("remote", c.RemoteAddr()).Debug("Ignoring inclusion proof request")
		return nil
	case net.KindInclusionProofResponse:
		return n.handleInclusionProof(c, msg.Payload)
	case net.KindEventSubscribe:
		return n.handleEventSubscribe(c, msg.Payload)
	default:
		n.logger.WithField("kind", msg.Kind).Debug("Ignoring unknown message kind")
		return nil
	}
}

func (n *Node) handleError(c net.Conn, kind net.MessageKind, err error) {
	if err == nil {
		return
	}

	logger := n.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"remote": c.RemoteAddr(),
		"error":  err,
	})

	var ce *closeError
	if errors.As(err, &ce) {
		logger.WithField("bye", ce.code).Warn("Closing connection")
		n.sendBye(c, ce.code, ce.err.Error(), "")
		return
	}

	switch {
	case common.IsProtocol(err, common.Malformed):
		logger.Debug("Dropping malformed message")
	case common.IsProtocol(err, common.Violation):
		logger.Warn("Protocol violation")
		n.sendBye(c, ByeOther, err.Error(), "")
	case common.IsProtocol(err, common.Verification):
		logger.Warn("Verification failed")
	case common.IsProtocol(err, common.QuotaExceeded):
		logger.Debug("Quota exceeded")
	default:
		logger.Error("Handling message")
	}
}

func (n *Node) handleKeepAlive(c net.Conn, payload []byte) error {
	ka, updated, err := n.directory.ReceiveKeepAlive(payload)
	if err != nil {
		return err
	}

	// keepalives of our own clients are propagated to the network
	info := c.Meta().Info()
	if updated && info.Role == presence.RoleClient && ka.Identity.Equal(info.Identity) {
		n.hub.Broadcast(presence.AuthoritativeRoles, net.KindPresenceKeepAlive, payload, c)
	}
	return nil
}

func (n *Node) handlePresenceQuery(c net.Conn, payload []byte) error {
	var q PresenceQuery
	if err := decode(payload, &q, "presence query"); err != nil {
		return err
	}

	if !q.Identity.Empty() {
		p := n.directory.Lookup(q.Identity)
		if p == nil {
			n.logger.WithFields(logrus.Fields{
				"remote":   c.RemoteAddr(),
				"identity": q.Identity,
			}).Debug("Presence query for unknown identity")
			return nil
		}
		return n.sendPresence(c, p)
	}

	count := q.Count
	if count <= 0 || count > n.conf.PresenceSample {
		count = n.conf.PresenceSample
	}
	for _, p := range n.directory.Sample(q.Role, count) {
		if err := n.sendPresence(c, p); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) sendPresence(c net.Conn, p *presence.Presence) error {
	chunks, err := p.Chunks(n.conf.MaxPresenceChunk)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := c.Send(net.KindPresenceUpdate, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) handleEventSubscribe(c net.Conn, payload []byte) error {
	var s EventSubscribe
	if err := decode(payload, &s, "event subscription"); err != nil {
		return err
	}

	n.subsLock.Lock()
	n.subs[c] = &s
	n.subsLock.Unlock()

	c.Meta().SetState(net.EventSubscribed)
	return nil
}

// subscribers returns the connections subscribed to transaction events of
// one of addresses.
func (n *Node) subscribers(addresses ...common.Address) []net.Conn {
	n.subsLock.RLock()
	defer n.subsLock.RUnlock()

	var res []net.Conn
	for c, s := range n.subs {
		if !hasEvent(s.Events, EventTransaction) {
			continue
		}
	match:
		for _, want := range s.Addresses {
			for _, a := range addresses {
				if want.Equal(a) {
					res = append(res, c)
					break match
				}
			}
		}
	}
	return res
}

func hasEvent(events []uint8, e uint8) bool {
	for _, ev := range events {
		if ev == e {
			return true
		}
	}
	return false
}

func (n *Node) handleHeaderBatchRequest(c net.Conn, payload []byte) error {
	var req tiv.HeaderBatchRequest
	if err := decode(payload, &req, "header request"); err != nil {
		return err
	}
	count := req.Count
	if count <= 0 || count > n.conf.TIV.BatchSize {
		count = n.conf.TIV.BatchSize
	}
	return n.send(c, net.KindHeaderBatchResponse, &tiv.HeaderBatch{
		Headers: n.tiv.Headers(req.From, count),
	})
}

func (n *Node) handleHeaderBatch(c net.Conn, payload []byte) error {
	var batch tiv.HeaderBatch
	if err := decode(payload, &batch, "header batch"); err != nil {
		return err
	}
	if err := n.tiv.ReceivedHeaders(batch.Headers, c); err != nil {
		return err
	}

	if last := n.tiv.LastHeader(); last != nil {
		n.setNetworkTip(last.Height, last.Checksum, last.Version)
	}
	n.verifyBalance()
	return nil
}

func (n *Node) handleInclusionProof(c net.Conn, payload []byte) error {
	var proof tiv.InclusionProof
	if err := decode(payload, &proof, "inclusion proof"); err != nil {
		return err
	}
	return n.tiv.ReceivedInclusionProof(&proof)
}
