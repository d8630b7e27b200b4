package node

import (
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/activity"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/tiv"
	"github.com/mosaicnetworks/s2/src/transaction"
)

// handleTransaction processes a transaction broadcast. Transactions from
// authoritative peers confirm our pending ones and feed the verifier;
// transactions from clients are submissions relayed to the network.
func (n *Node) handleTransaction(c net.Conn, payload []byte) error {
	tx, err := transaction.Unmarshal(payload)
	if err != nil {
		return err
	}
	if err := tx.Verify(); err != nil {
		return err
	}

	info := c.Meta().Info()
	if !info.Role.IsAuthoritative() {
		if !tx.Sender().Equal(info.Identity) {
			return common.NewProtocolErr(common.Violation, "client %v submitted a transaction of %v", info.Identity, tx.Sender())
		}
		return n.SubmitTransaction(tx)
	}

	txID := tx.ID()
	n.pending.RecordConfirmation(txID, info.Identity)
	n.tiv.ReceivedTransaction(tx)
	n.recordActivity(tx)

	n.logger.WithFields(logrus.Fields{
		"txid":    txID,
		"applied": tx.AppliedHeight,
	}).Debug("Received transaction")

	for _, sub := range n.subscribers(tx.Sender(), tx.Recipient) {
		if sub == c {
			continue
		}
		if err := sub.Send(net.KindTransactionBroadcast, payload); err != nil {
			n.logger.WithError(err).Debug("Forwarding transaction event")
		}
	}
	return nil
}

// SubmitTransaction broadcasts a signed transaction to the authoritative peers
// and keeps it pending until it is confirmed.
func (n *Node) SubmitTransaction(tx *transaction.Transaction) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	raw, err := tx.Marshal()
	if err != nil {
		return err
	}

	sent := n.hub.Broadcast(presence.AuthoritativeRoles, net.KindTransactionBroadcast, raw, nil)
	n.pending.Add(tx, n.NetworkTip().Height)
	n.recordActivity(tx)

	n.logger.WithFields(logrus.Fields{
		"txid":  tx.ID(),
		"peers": sent,
	}).Debug("Submitted transaction")
	return nil
}

// handleRelaySignature completes a postage payment. The signed transaction is
// broadcast by the relay engine; here it becomes one of our pending
// transactions.
func (n *Node) handleRelaySignature(c net.Conn, payload []byte) error {
	tx, err := n.relay.ReceiveSignature(payload, c)
	if err != nil || tx == nil {
		return err
	}
	n.pending.Add(tx, n.NetworkTip().Height)
	n.recordActivity(tx)
	return nil
}

func (n *Node) handleGetTransaction(c net.Conn, payload []byte) error {
	var q GetTransaction
	if err := decode(payload, &q, "transaction query"); err != nil {
		return err
	}
	p := n.pending.Get(q.TxID)
	if p == nil {
		return nil
	}
	raw, err := p.Transaction.Marshal()
	if err != nil {
		return err
	}
	return c.Send(net.KindTransactionBroadcast, raw)
}

// recordActivity logs transactions touching the node's wallet.
func (n *Node) recordActivity(tx *transaction.Transaction) {
	if n.activities == nil {
		return
	}

	a := &activity.Activity{
		TxID:      tx.ID(),
		Value:     tx.Amount,
		Timestamp: tx.Timestamp,
		Status:    activity.Pending,
	}
	switch {
	case tx.Sender().Equal(n.address):
		a.Wallet = n.address
		a.Type = activity.Sent
	case tx.Recipient.Equal(n.address):
		a.Wallet = n.address
		a.Type = activity.Received
	default:
		return
	}

	if err := n.activities.Insert(a); err != nil && !common.IsStore(err, common.KeyAlreadyExists) {
		n.logger.WithError(err).WithField("txid", a.TxID).Warn("Recording activity")
	}
}

// BroadcastTransaction implements pending.Broadcaster.
func (n *Node) BroadcastTransaction(tx *transaction.Transaction) {
	raw, err := tx.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Encoding transaction")
		return
	}
	n.hub.Broadcast(presence.AuthoritativeRoles, net.KindTransactionBroadcast, raw, nil)
}

// BroadcastGetTransaction implements pending.Broadcaster.
func (n *Node) BroadcastGetTransaction(txID string) {
	raw, err := common.Encode(&GetTransaction{TxID: txID})
	if err != nil {
		n.logger.WithError(err).Error("Encoding transaction query")
		return
	}
	n.hub.Broadcast(presence.AuthoritativeRoles, net.KindGetTransaction, raw, nil)
}

// RequestHeaders implements tiv.Requester.
func (n *Node) RequestHeaders(from uint64, count int, exclude net.Conn) {
	peer := n.peerSelector.Next(exclude)
	if peer == nil {
		n.logger.WithField("from", from).Debug("No peer to request headers from")
		return
	}
	if err := n.send(peer, net.KindHeaderBatchRequest, &tiv.HeaderBatchRequest{From: from, Count: count}); err != nil {
		n.logger.WithError(err).Debug("Requesting headers")
	}
}

func (n *Node) sendHeaderRequest(c net.Conn, from uint64) {
	if err := n.send(c, net.KindHeaderBatchRequest, &tiv.HeaderBatchRequest{From: from, Count: n.conf.TIV.BatchSize}); err != nil {
		n.logger.WithError(err).Debug("Requesting headers")
	}
}

// RequestInclusionProof implements tiv.Requester.
func (n *Node) RequestInclusionProof(txID string, height uint64) {
	peer := n.peerSelector.Next(nil)
	if peer == nil {
		n.logger.WithField("txid", txID).Debug("No peer to request inclusion proof from")
		return
	}
	if err := n.send(peer, net.KindInclusionProofRequest, &tiv.InclusionProofRequest{TxID: txID, Height: height}); err != nil {
		n.logger.WithError(err).Debug("Requesting inclusion proof")
	}
}

// TransactionConfirmed implements tiv.Listener. Pending transactions are
// finalized by the next pending tick; the others are finalized here.
func (n *Node) TransactionConfirmed(txID string, height uint64) {
	if n.pending.MarkApplied(txID, height) {
		return
	}
	if n.activities == nil {
		return
	}
	if err := n.activities.UpdateStatus(txID, activity.Final, height); err != nil && !common.IsStore(err, common.KeyNotFound) {
		n.logger.WithError(err).WithField("txid", txID).Warn("Updating activity")
	}
}
