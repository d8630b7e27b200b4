package node

import (
	"bytes"
	"sync"
	"time"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/net"
)

// Balance is the last balance of the node's wallet reported by the network.
// It is Verified once the header it refers to is part of the verified chain.
type Balance struct {
	Address       common.Address
	Amount        uint64
	BlockHeight   uint64
	BlockChecksum []byte
	LastUpdate    time.Time
	Verified      bool
}

type balanceTracker struct {
	sync.Mutex
	b Balance
}

func newBalanceTracker(address common.Address) *balanceTracker {
	return &balanceTracker{b: Balance{Address: address}}
}

// update applies a response for a newer block when the amount changed or no
// balance was known yet.
func (t *balanceTracker) update(r *BalanceResponse, now time.Time) bool {
	t.Lock()
	defer t.Unlock()

	if r.BlockHeight <= t.b.BlockHeight {
		return false
	}
	if r.Balance == t.b.Amount && t.b.BlockHeight != 0 {
		return false
	}
	t.b.Amount = r.Balance
	t.b.BlockHeight = r.BlockHeight
	t.b.BlockChecksum = append([]byte(nil), r.BlockChecksum...)
	t.b.LastUpdate = now
	t.b.Verified = false
	return true
}

func (t *balanceTracker) get() Balance {
	t.Lock()
	defer t.Unlock()
	b := t.b
	b.BlockChecksum = append([]byte(nil), t.b.BlockChecksum...)
	return b
}

func (t *balanceTracker) verify(height uint64, checksum []byte) {
	t.Lock()
	defer t.Unlock()
	if t.b.BlockHeight == height && bytes.Equal(t.b.BlockChecksum, checksum) {
		t.b.Verified = true
	}
}

// Balance returns the last known balance of the node's wallet.
func (n *Node) Balance() Balance {
	return n.balance.get()
}

// verifyBalance marks the balance verified if its block is in the verified
// chain.
func (n *Node) verifyBalance() {
	b := n.balance.get()
	if b.Verified || b.BlockHeight == 0 {
		return
	}
	if n.tiv.HasHeader(b.BlockHeight, b.BlockChecksum) {
		n.balance.verify(b.BlockHeight, b.BlockChecksum)
	}
}

func (n *Node) handleBalanceResponse(c net.Conn, payload []byte) error {
	var r BalanceResponse
	if err := decode(payload, &r, "balance"); err != nil {
		return err
	}
	if !r.Address.Equal(n.address) {
		return nil
	}
	if n.balance.update(&r, n.clock.Now()) {
		n.verifyBalance()
	}
	return nil
}

// handleBalanceQuery answers queries about the node's own wallet.
func (n *Node) handleBalanceQuery(c net.Conn, payload []byte) error {
	var q BalanceQuery
	if err := decode(payload, &q, "balance query"); err != nil {
		return err
	}
	if !q.Address.Equal(n.address) {
		return nil
	}
	b := n.balance.get()
	return n.send(c, net.KindBalanceResponse, &BalanceResponse{
		Address:       n.address,
		Balance:       b.Amount,
		BlockHeight:   b.BlockHeight,
		BlockChecksum: b.BlockChecksum,
	})
}

// requestBalance asks one authoritative peer for the node's balance.
func (n *Node) requestBalance() {
	peer := n.peerSelector.Next(nil)
	if peer == nil || !peer.Meta().Role().IsAuthoritative() {
		return
	}
	if err := n.send(peer, net.KindBalanceQuery, &BalanceQuery{Address: n.address}); err != nil {
		n.logger.WithError(err).Debug("Requesting balance")
	}
}
