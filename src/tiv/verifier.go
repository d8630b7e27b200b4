package tiv

import (
	"bytes"
	"sync"
	"time"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto"
	"github.com/mosaicnetworks/s2/src/net"
	"github.com/mosaicnetworks/s2/src/transaction"
	"github.com/sirupsen/logrus"
)

// Status is the sync status of the verifier.
type Status uint32

const (
	// Syncing means the verified tip is behind the network.
	Syncing Status = iota
	// Ready means the verified tip caught up with the best known height.
	Ready
	// Stalled means the tip has not advanced for longer than StallTimeout.
	Stalled
)

func (s Status) String() string {
	switch s {
	case Syncing:
		return "Syncing"
	case Ready:
		return "Ready"
	case Stalled:
		return "Stalled"
	default:
		return "Unknown"
	}
}

const (
	// DefaultBatchSize is the number of headers requested at once.
	DefaultBatchSize = 500
	// DefaultStallTimeout is the time without tip advance before Stalled.
	DefaultStallTimeout = 1800 * time.Second
	// DefaultRequestTimeout is the time after which an unanswered header
	// request is sent again.
	DefaultRequestTimeout = 30 * time.Second
)

// Requester sends the requests of the verifier to the network.
type Requester interface {
	// RequestHeaders asks an authoritative peer other than exclude for headers.
	RequestHeaders(from uint64, count int, exclude net.Conn)
	// RequestInclusionProof asks an authoritative peer for a merkle proof.
	RequestInclusionProof(txID string, height uint64)
}

// Listener is notified of confirmations.
type Listener interface {
	TransactionConfirmed(txID string, height uint64)
}

// Config tunes the verifier.
type Config struct {
	BatchSize      int
	StallTimeout   time.Duration
	RequestTimeout time.Duration
	// Signers restricts the keys whose block signatures count. Empty means
	// any valid signature counts.
	Signers       [][]byte
	MinSignatures int
}

// DefaultConfig returns the default verifier configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		StallTimeout:   DefaultStallTimeout,
		RequestTimeout: DefaultRequestTimeout,
		MinSignatures:  1,
	}
}

type pendingInclusion struct {
	height      uint64
	requested   bool
	requestedAt time.Time
}

// due reports whether the proof should be requested at now: never asked for,
// or left unanswered for timeout.
func (p *pendingInclusion) due(now time.Time, timeout time.Duration) bool {
	return !p.requested || now.Sub(p.requestedAt) > timeout
}

func (p *pendingInclusion) markRequested(now time.Time) {
	p.requested = true
	p.requestedAt = now
}

type proofReq struct {
	txID   string
	height uint64
}

// dueProofs is called with the lock held. It marks and returns the proofs to
// request for the transactions covered by the verified chain.
func (v *Verifier) dueProofs(now time.Time) []proofReq {
	if v.last == nil {
		return nil
	}
	var proofs []proofReq
	for txID, p := range v.pending {
		if p.height <= v.last.Height && p.due(now, v.conf.RequestTimeout) {
			p.markRequested(now)
			proofs = append(proofs, proofReq{txID, p.height})
		}
	}
	return proofs
}

// Verifier follows the header chain and confirms transactions.
type Verifier struct {
	sync.Mutex

	conf      Config
	signers   map[string]bool
	store     HeaderStore
	requester Requester
	listener  Listener
	clock     common.Clock
	logger    *logrus.Entry

	anchor        Anchor
	last          *BlockHeader
	status        Status
	networkHeight uint64
	lastAdvance   time.Time
	lastRequest   time.Time

	pending   map[string]*pendingInclusion
	confirmed map[string]uint64
}

// NewVerifier creates a verifier. Start must be called before headers are
// processed.
func NewVerifier(conf Config,
	store HeaderStore,
	requester Requester,
	listener Listener,
	clock common.Clock,
	logger *logrus.Entry) *Verifier {

	if conf.BatchSize <= 0 {
		conf.BatchSize = DefaultBatchSize
	}
	if conf.StallTimeout <= 0 {
		conf.StallTimeout = DefaultStallTimeout
	}
	if conf.RequestTimeout <= 0 {
		conf.RequestTimeout = DefaultRequestTimeout
	}
	if conf.MinSignatures <= 0 {
		conf.MinSignatures = 1
	}
	if clock == nil {
		clock = common.SystemClock{}
	}

	signers := make(map[string]bool, len(conf.Signers))
	for _, s := range conf.Signers {
		signers[string(s)] = true
	}

	return &Verifier{
		conf:      conf,
		signers:   signers,
		store:     store,
		requester: requester,
		listener:  listener,
		clock:     clock,
		logger:    logger,
		pending:   make(map[string]*pendingInclusion),
		confirmed: make(map[string]uint64),
	}
}

// Start sets the trust anchor and requests the first batch of headers. If the
// store already holds headers above the anchor, the verifier resumes from the
// last of them. A zero anchor starts from genesis.
func (v *Verifier) Start(anchor Anchor) error {
	v.Lock()

	v.anchor = anchor
	v.last = nil

	last, err := v.store.Last()
	switch {
	case err == nil && last.Height >= anchor.Height:
		v.last = last
		v.logger.WithField("height", last.Height).Info("Resuming header chain from store")
	case err != nil && !common.IsStore(err, common.Empty):
		v.Unlock()
		return err
	}

	v.status = Syncing
	v.lastAdvance = v.clock.Now()
	v.lastRequest = v.lastAdvance
	from := v.tipHeight() + 1
	v.Unlock()

	v.logger.WithFields(logrus.Fields{
		"anchor": anchor.Height,
		"from":   from,
	}).Debug("Starting header sync")

	v.requester.RequestHeaders(from, v.conf.BatchSize, nil)
	return nil
}

// tipHeight is called with the lock held.
func (v *Verifier) tipHeight() uint64 {
	if v.last != nil {
		return v.last.Height
	}
	return v.anchor.Height
}

// tipChecksum is called with the lock held.
func (v *Verifier) tipChecksum() []byte {
	if v.last != nil {
		return v.last.Checksum
	}
	return v.anchor.Checksum
}

// ReceivedHeaders verifies and appends a batch of headers sent by from.
// Leading headers that are already verified are skipped. Any broken link,
// wrong checksum or bad signature rejects the whole batch and the headers are
// requested again from another peer.
func (v *Verifier) ReceivedHeaders(batch []*BlockHeader, from net.Conn) error {
	v.Lock()

	accepted, err := v.validateBatch(batch)
	if err != nil {
		next := v.tipHeight() + 1
		v.lastRequest = v.clock.Now()
		v.Unlock()

		v.logger.WithFields(logrus.Fields{
			"error": err,
			"size":  len(batch),
		}).Warn("Rejected header batch")

		v.requester.RequestHeaders(next, v.conf.BatchSize, from)
		return err
	}

	if len(accepted) == 0 {
		v.Unlock()
		return nil
	}

	if err := v.store.PutBatch(accepted); err != nil {
		v.Unlock()
		return err
	}

	v.last = accepted[len(accepted)-1]
	v.lastAdvance = v.clock.Now()
	if v.last.Height >= v.networkHeight {
		v.networkHeight = v.last.Height
		if v.status != Ready {
			v.logger.WithField("height", v.last.Height).Info("Header chain ready")
		}
		v.status = Ready
	} else {
		v.status = Syncing
	}

	proofs := v.dueProofs(v.lastAdvance)

	tip := v.last.Height
	needMore := tip < v.networkHeight
	if needMore {
		v.lastRequest = v.lastAdvance
	}
	v.Unlock()

	v.logger.WithFields(logrus.Fields{
		"tip":      tip,
		"accepted": len(accepted),
	}).Debug("Accepted header batch")

	for _, p := range proofs {
		v.requester.RequestInclusionProof(p.txID, p.height)
	}
	if needMore {
		v.requester.RequestHeaders(tip+1, v.conf.BatchSize, nil)
	}

	return nil
}

// validateBatch is called with the lock held. It returns the headers that
// extend the tip.
func (v *Verifier) validateBatch(batch []*BlockHeader) ([]*BlockHeader, error) {
	tip := v.tipHeight()
	prevHeight := tip
	prevChecksum := v.tipChecksum()

	var accepted []*BlockHeader
	for _, h := range batch {
		if h == nil {
			return nil, common.NewProtocolErr(common.Malformed, "nil header in batch")
		}

		if len(accepted) == 0 && h.Height <= tip {
			if err := v.checkKnown(h); err != nil {
				return nil, err
			}
			continue
		}

		if h.Height != prevHeight+1 {
			return nil, common.NewProtocolErr(common.Verification, "header %d does not follow %d", h.Height, prevHeight)
		}
		if !bytes.Equal(h.PrevChecksum, prevChecksum) {
			return nil, common.NewProtocolErr(common.Verification, "header %d does not link to the previous header", h.Height)
		}
		if err := h.VerifyChecksum(); err != nil {
			return nil, err
		}
		if err := h.VerifySignatures(v.signers, v.conf.MinSignatures); err != nil {
			return nil, err
		}

		accepted = append(accepted, h)
		prevHeight = h.Height
		prevChecksum = h.Checksum
	}

	return accepted, nil
}

// checkKnown verifies that a header at or below the tip matches what was
// already verified. Heights below the anchor cannot be checked and are
// ignored.
func (v *Verifier) checkKnown(h *BlockHeader) error {
	var known []byte
	switch {
	case h.Height < v.anchor.Height:
		return nil
	case h.Height == v.anchor.Height:
		known = v.anchor.Checksum
	default:
		stored, err := v.store.Get(h.Height)
		if common.IsStore(err, common.KeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		known = stored.Checksum
	}

	if !bytes.Equal(known, h.Checksum) {
		return common.NewProtocolErr(common.Verification, "header %d conflicts with the verified chain", h.Height)
	}
	return nil
}

// ReceivedTransaction caches an applied transaction until the header covering
// its block is verified, and asks for its inclusion proof as soon as it is.
func (v *Verifier) ReceivedTransaction(tx *transaction.Transaction) {
	if !tx.Applied() {
		return
	}
	txID := tx.ID()

	v.Lock()
	if _, ok := v.confirmed[txID]; ok {
		v.Unlock()
		return
	}
	p, ok := v.pending[txID]
	if !ok {
		p = &pendingInclusion{height: tx.AppliedHeight}
		v.pending[txID] = p
	}
	now := v.clock.Now()
	request := v.last != nil && p.height <= v.tipHeight() && p.due(now, v.conf.RequestTimeout)
	if request {
		p.markRequested(now)
	}
	v.Unlock()

	if request {
		v.requester.RequestInclusionProof(txID, tx.AppliedHeight)
	}
}

// ReceivedInclusionProof verifies a merkle proof against the verified header
// at proof.Height. The transaction is confirmed and the listener notified the
// first time a valid proof arrives; later proofs are ignored.
func (v *Verifier) ReceivedInclusionProof(proof *InclusionProof) error {
	v.Lock()

	if _, ok := v.confirmed[proof.TxID]; ok {
		v.Unlock()
		return nil
	}

	if v.last == nil || proof.Height > v.last.Height {
		v.Unlock()
		return common.NewProtocolErr(common.Verification, "proof for %s refers to unverified height %d", proof.TxID, proof.Height)
	}

	header, err := v.store.Get(proof.Height)
	if err != nil {
		v.Unlock()
		return err
	}

	leaf, err := transaction.LeafFromID(proof.TxID)
	if err != nil {
		v.Unlock()
		return common.NewProtocolErr(common.Malformed, "transaction id %q: %v", proof.TxID, err)
	}

	if !crypto.VerifyMerkleProof(header.MerkleRoot, leaf, &proof.Proof) {
		if p, ok := v.pending[proof.TxID]; ok {
			p.requested = false
		}
		v.Unlock()
		return common.NewProtocolErr(common.Verification, "invalid inclusion proof for %s at %d", proof.TxID, proof.Height)
	}

	v.confirmed[proof.TxID] = proof.Height
	delete(v.pending, proof.TxID)
	v.Unlock()

	v.logger.WithFields(logrus.Fields{
		"txid":   proof.TxID,
		"height": proof.Height,
	}).Info("Transaction confirmed")

	if v.listener != nil {
		v.listener.TransactionConfirmed(proof.TxID, proof.Height)
	}
	return nil
}

// SetNetworkHeight records the best height advertised by the network and
// requests headers if the tip is behind.
func (v *Verifier) SetNetworkHeight(height uint64) {
	v.Lock()
	if height <= v.networkHeight {
		v.Unlock()
		return
	}
	v.networkHeight = height
	tip := v.tipHeight()
	request := tip < height && v.status == Ready
	if tip < height && v.status != Stalled {
		v.status = Syncing
	}
	if request {
		v.lastRequest = v.clock.Now()
	}
	v.Unlock()

	if request {
		v.requester.RequestHeaders(tip+1, v.conf.BatchSize, nil)
	}
}

// CheckStall marks the verifier Stalled when the tip has not advanced for
// StallTimeout. While behind the network, it also sends again a header request
// left unanswered for RequestTimeout. Inclusion proofs left unanswered for
// RequestTimeout are requested again.
func (v *Verifier) CheckStall(now time.Time) Status {
	v.Lock()
	if v.status != Stalled && now.Sub(v.lastAdvance) > v.conf.StallTimeout {
		v.status = Stalled
		v.logger.WithFields(logrus.Fields{
			"tip":     v.tipHeight(),
			"network": v.networkHeight,
		}).Warn("Header chain stalled")
	}
	status := v.status
	tip := v.tipHeight()
	retry := tip < v.networkHeight && now.Sub(v.lastRequest) > v.conf.RequestTimeout
	if retry {
		v.lastRequest = now
	}
	proofs := v.dueProofs(now)
	v.Unlock()

	if retry {
		v.requester.RequestHeaders(tip+1, v.conf.BatchSize, nil)
	}
	for _, p := range proofs {
		v.requester.RequestInclusionProof(p.txID, p.height)
	}
	return status
}

// Status returns the sync status.
func (v *Verifier) Status() Status {
	v.Lock()
	defer v.Unlock()
	return v.status
}

// LastHeader returns the verified tip, or nil.
func (v *Verifier) LastHeader() *BlockHeader {
	v.Lock()
	defer v.Unlock()
	return v.last
}

// TipHeight returns the height of the verified tip, or of the anchor.
func (v *Verifier) TipHeight() uint64 {
	v.Lock()
	defer v.Unlock()
	return v.tipHeight()
}

// NetworkHeight returns the best height known to the verifier.
func (v *Verifier) NetworkHeight() uint64 {
	v.Lock()
	defer v.Unlock()
	return v.networkHeight
}

// IsConfirmed reports whether the transaction was confirmed, and at which
// height.
func (v *Verifier) IsConfirmed(txID string) (uint64, bool) {
	v.Lock()
	defer v.Unlock()
	h, ok := v.confirmed[txID]
	return h, ok
}

// HasHeader reports whether the verified chain holds a header at height with
// the given checksum.
func (v *Verifier) HasHeader(height uint64, checksum []byte) bool {
	v.Lock()
	defer v.Unlock()
	if v.last == nil || height > v.last.Height {
		return false
	}
	h, err := v.store.Get(height)
	if err != nil {
		return false
	}
	return bytes.Equal(h.Checksum, checksum)
}

// Headers returns up to count verified headers starting at from, to answer the
// header requests of clients.
func (v *Verifier) Headers(from uint64, count int) []*BlockHeader {
	v.Lock()
	defer v.Unlock()
	if v.last == nil {
		return nil
	}
	var res []*BlockHeader
	for h := from; h <= v.last.Height && len(res) < count; h++ {
		header, err := v.store.Get(h)
		if err != nil {
			continue
		}
		res = append(res, header)
	}
	return res
}
