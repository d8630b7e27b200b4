package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/presence"
	"github.com/mosaicnetworks/s2/src/transaction"
)

const (
	// DefaultStagedTTL is how long a postage transaction waits for the
	// sender's signature.
	DefaultStagedTTL = 300 * time.Second

	// DefaultPostageAmount is the amount charged for a batch of DataQuota
	// data envelopes.
	DefaultPostageAmount = 10
)

// Error reasons carried by ErrorNotice.
const (
	ReasonUnreachable = "unreachable"
	ReasonInfoQuota   = "info quota exceeded"
	ReasonDataQuota   = "data quota exceeded"
	ReasonSendFailed  = "send failed"
)

// Directory resolves recipients.
type Directory interface {
	Lookup(identity common.Address) *presence.Presence
}

// Router reaches the peers connected to this node.
type Router interface {
	SendTo(identity common.Address, kind net.MessageKind, payload []byte) error
	ByEndpoint(endpoint string) net.Conn
	Broadcast(roles []presence.Role, kind net.MessageKind, payload []byte, except net.Conn) int
}

// Config holds the relay parameters.
type Config struct {
	InfoQuota     int
	DataQuota     int
	QuotaWindow   time.Duration
	StagedTTL     time.Duration
	PostageAmount uint64
	PostageFee    uint64
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		InfoQuota:     DefaultInfoQuota,
		DataQuota:     DefaultDataQuota,
		QuotaWindow:   DefaultQuotaWindow,
		StagedTTL:     DefaultStagedTTL,
		PostageAmount: DefaultPostageAmount,
	}
}

// Stats are the relay counters.
type Stats struct {
	BytesIn   uint64
	BytesOut  uint64
	Forwarded uint64
	Rejected  uint64
	Failed    uint64
	Paid      uint64
}

type stagedTx struct {
	tx      *transaction.Transaction
	sender  common.Address
	created time.Time
}

// Engine forwards envelopes and enforces the sender quotas.
type Engine struct {
	conf     Config
	identity common.Address
	quotas   *QuotaManager
	dir      Directory
	router   Router
	clock    common.Clock
	height   uint64

	stagedLock sync.Mutex
	staged     map[string]*stagedTx

	bytesIn   uint64
	bytesOut  uint64
	forwarded uint64
	rejected  uint64
	failed    uint64
	paid      uint64

	logger *logrus.Entry
}

// NewEngine creates a relay engine. identity is the address of this node; it
// is the recipient of the postage transactions.
func NewEngine(conf Config,
	identity common.Address,
	dir Directory,
	router Router,
	clock common.Clock,
	logger *logrus.Entry) *Engine {

	if clock == nil {
		clock = common.SystemClock{}
	}
	if conf.StagedTTL <= 0 {
		conf.StagedTTL = DefaultStagedTTL
	}

	return &Engine{
		conf:     conf,
		identity: identity,
		quotas:   NewQuotaManager(conf.InfoQuota, conf.DataQuota, conf.QuotaWindow, clock),
		dir:      dir,
		router:   router,
		clock:    clock,
		staged:   make(map[string]*stagedTx),
		logger:   logger,
	}
}

// Quotas exposes the quota manager.
func (e *Engine) Quotas() *QuotaManager {
	return e.quotas
}

// SetBlockHeight sets the height stamped on new postage transactions.
func (e *Engine) SetBlockHeight(height uint64) {
	atomic.StoreUint64(&e.height, height)
}

// Receive handles a relayData payload received on from. Quota rejections are
// answered with an error envelope and returned as QuotaExceeded errors; other
// delivery problems are answered the same way but are not errors of the
// sender.
func (e *Engine) Receive(payload []byte, from net.Conn) error {
	msg, err := UnmarshalStreamMessage(payload)
	if err != nil {
		return err
	}

	info := from.Meta().Info()

	// error envelopes are only ever produced by relays for their own clients
	if msg.Kind == Error {
		atomic.AddUint64(&e.rejected, 1)
		e.logger.WithFields(logrus.Fields{
			"sender": msg.Sender,
			"from":   from.RemoteAddr(),
		}).Debug("Discarding received error envelope")
		return nil
	}

	if !info.Role.IsAuthoritative() && !msg.Sender.Equal(info.Identity) {
		atomic.AddUint64(&e.rejected, 1)
		return common.NewProtocolErr(common.Violation, "envelope sender %v does not match connection identity %v", msg.Sender, info.Identity)
	}

	atomic.AddUint64(&e.bytesIn, uint64(len(payload)))

	if err := e.quotas.Admit(msg.Sender, msg.Kind.IsData()); err != nil {
		atomic.AddUint64(&e.rejected, 1)
		e.rejectOverQuota(msg, info, from)
		return err
	}

	if !e.forward(msg.Recipient, payload) {
		atomic.AddUint64(&e.failed, 1)
		e.logger.WithFields(logrus.Fields{
			"sender":    msg.Sender,
			"recipient": msg.Recipient,
		}).Debug("Could not forward envelope")
		e.sendNotice(msg.Sender, msg.Recipient, &ErrorNotice{
			OriginalID: msg.ID,
			Reason:     ReasonUnreachable,
		}, from)
		return nil
	}

	atomic.AddUint64(&e.forwarded, 1)
	atomic.AddUint64(&e.bytesOut, uint64(len(payload)))
	return nil
}

// rejectOverQuota tells the sender its envelope was refused. When the data
// quota is the problem, a postage transaction is staged and attached.
func (e *Engine) rejectOverQuota(msg *StreamMessage, info net.PeerInfo, from net.Conn) {
	notice := &ErrorNotice{
		OriginalID: msg.ID,
		Reason:     ReasonInfoQuota,
	}

	if msg.Kind.IsData() {
		notice.Reason = ReasonDataQuota
		if len(info.PublicKey) > 0 {
			tx := e.newPostage(info.PublicKey)
			raw, err := tx.Marshal()
			if err == nil {
				e.StageTransaction(msg.ID, tx, msg.Sender)
				notice.Postage = raw
			} else {
				e.logger.WithError(err).Error("Encoding postage transaction")
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"sender": msg.Sender,
		"reason": notice.Reason,
	}).Debug("Envelope over quota")

	e.sendNotice(msg.Sender, msg.Recipient, notice, from)
}

func (e *Engine) newPostage(senderKey []byte) *transaction.Transaction {
	return &transaction.Transaction{
		Type:        transaction.Postage,
		SenderKey:   append([]byte(nil), senderKey...),
		Recipient:   append(common.Address(nil), e.identity...),
		Amount:      e.conf.PostageAmount,
		Fee:         e.conf.PostageFee,
		BlockHeight: atomic.LoadUint64(&e.height),
		Timestamp:   e.clock.Now().Unix(),
	}
}

// forward delivers payload to recipient, directly when it is connected to
// this node and otherwise through one of the relays it advertises. Nothing is
// attempted for recipients missing from the directory.
func (e *Engine) forward(recipient common.Address, payload []byte) bool {
	p := e.dir.Lookup(recipient)
	if p == nil {
		return false
	}

	if err := e.router.SendTo(recipient, net.KindRelayData, payload); err == nil {
		return true
	}

	for _, a := range p.Addresses {
		if a.Role != presence.RoleRelay {
			continue
		}
		c := e.router.ByEndpoint(a.Endpoint)
		if c == nil {
			continue
		}
		if err := c.Send(net.KindRelayData, payload); err == nil {
			return true
		}
	}

	return false
}

// SendError returns an error envelope about originalID to recipient. The
// envelope goes through conn when given, and is forwarded otherwise.
func (e *Engine) SendError(recipient, sender common.Address, originalID []byte, conn net.Conn) {
	e.sendNotice(recipient, sender, &ErrorNotice{
		OriginalID: originalID,
		Reason:     ReasonSendFailed,
	}, conn)
}

func (e *Engine) sendNotice(recipient, sender common.Address, notice *ErrorNotice, conn net.Conn) {
	body, err := common.Encode(notice)
	if err != nil {
		e.logger.WithError(err).Error("Encoding error notice")
		return
	}

	msg := &StreamMessage{
		ID:        NewMessageID(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      Error,
		Payload:   body,
	}
	raw, err := msg.Marshal()
	if err != nil {
		e.logger.WithError(err).Error("Encoding error envelope")
		return
	}

	if conn != nil {
		if err := conn.Send(net.KindRelayData, raw); err != nil {
			e.logger.WithError(err).Debug("Sending error envelope")
		}
		return
	}
	e.forward(recipient, raw)
}

// StageTransaction keeps an unsigned postage transaction until the sender
// signs it. msgID is the id of the envelope that triggered it.
func (e *Engine) StageTransaction(msgID []byte, tx *transaction.Transaction, sender common.Address) {
	e.stagedLock.Lock()
	defer e.stagedLock.Unlock()
	e.staged[string(msgID)] = &stagedTx{
		tx:      tx,
		sender:  sender,
		created: e.clock.Now(),
	}
}

// Staged returns a copy of the transaction staged under msgID, or nil.
func (e *Engine) Staged(msgID []byte) *transaction.Transaction {
	e.stagedLock.Lock()
	defer e.stagedLock.Unlock()
	s, ok := e.staged[string(msgID)]
	if !ok {
		return nil
	}
	return s.tx.Copy()
}

// ReceiveSignature applies a relaySignature payload to the matching staged
// transaction. A verified transaction resets the sender's data quota and is
// broadcast to the authoritative peers. It returns the signed transaction, or
// nil when the signature was dropped.
func (e *Engine) ReceiveSignature(payload []byte, from net.Conn) (*transaction.Transaction, error) {
	var sig TransactionSignature
	if err := common.Decode(payload, &sig); err != nil {
		return nil, common.NewProtocolErr(common.Malformed, "transaction signature: %v", err)
	}

	// the entry is taken out while the signature is checked so that only one
	// signature can pay for it
	e.stagedLock.Lock()
	s, ok := e.staged[string(sig.MessageID)]
	delete(e.staged, string(sig.MessageID))
	e.stagedLock.Unlock()
	if !ok {
		e.logger.WithField("from", from.RemoteAddr()).Debug("Signature for unknown staged transaction")
		return nil, nil
	}

	tx := s.tx.Copy()
	tx.Signature = sig.Signature
	if err := tx.Verify(); err != nil {
		e.stagedLock.Lock()
		if _, taken := e.staged[string(sig.MessageID)]; !taken {
			e.staged[string(sig.MessageID)] = s
		}
		e.stagedLock.Unlock()

		e.logger.WithError(err).WithField("sender", s.sender).Warn("Dropping postage signature")
		return nil, nil
	}

	e.quotas.Paid(s.sender)
	atomic.AddUint64(&e.paid, 1)

	raw, err := tx.Marshal()
	if err != nil {
		return nil, err
	}
	n := e.router.Broadcast(presence.AuthoritativeRoles, net.KindTransactionBroadcast, raw, from)

	e.logger.WithFields(logrus.Fields{
		"sender": s.sender,
		"txid":   tx.ID(),
		"peers":  n,
	}).Debug("Postage paid")

	return tx, nil
}

// Sweep drops the staged transactions older than StagedTTL and the idle quota
// records. It returns the number of staged transactions dropped.
func (e *Engine) Sweep(now time.Time) int {
	e.quotas.Sweep(now)

	e.stagedLock.Lock()
	defer e.stagedLock.Unlock()

	removed := 0
	for id, s := range e.staged {
		if now.Sub(s.created) > e.conf.StagedTTL {
			delete(e.staged, id)
			removed++
		}
	}
	return removed
}

// StagedCount returns the number of transactions waiting for a signature.
func (e *Engine) StagedCount() int {
	e.stagedLock.Lock()
	defer e.stagedLock.Unlock()
	return len(e.staged)
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		BytesIn:   atomic.LoadUint64(&e.bytesIn),
		BytesOut:  atomic.LoadUint64(&e.bytesOut),
		Forwarded: atomic.LoadUint64(&e.forwarded),
		Rejected:  atomic.LoadUint64(&e.rejected),
		Failed:    atomic.LoadUint64(&e.failed),
		Paid:      atomic.LoadUint64(&e.paid),
	}
}
