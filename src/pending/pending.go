// Package pending keeps the transactions submitted through this node alive
// until the network confirms them.
package pending

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/s2/src/activity"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/transaction"
)

const (
	// DefaultResendAfter is the silence after which a transaction is broadcast
	// again.
	DefaultResendAfter = 40 * time.Second
	// DefaultInquireAfter is the silence after which peers are asked whether
	// they know the transaction.
	DefaultInquireAfter = 20 * time.Second
	// DefaultConfirmationThreshold is the number of confirming peers above
	// which inquiries stop.
	DefaultConfirmationThreshold = 3
	// DefaultRetentionWindow is the number of blocks after which an unapplied
	// transaction can no longer make it into the chain.
	DefaultRetentionWindow = 43200
)

// Broadcaster sends the messages decided by Tick.
type Broadcaster interface {
	BroadcastTransaction(tx *transaction.Transaction)
	BroadcastGetTransaction(txID string)
}

// StatusUpdater records the outcome of a transaction. activity.Store
// satisfies it.
type StatusUpdater interface {
	UpdateStatus(txID string, status activity.Status, appliedHeight uint64) error
}

// Config holds the timers of the Manager.
type Config struct {
	ResendAfter           time.Duration
	InquireAfter          time.Duration
	ConfirmationThreshold int
	RetentionWindow       uint64
}

// DefaultConfig returns the default timers.
func DefaultConfig() Config {
	return Config{
		ResendAfter:           DefaultResendAfter,
		InquireAfter:          DefaultInquireAfter,
		ConfirmationThreshold: DefaultConfirmationThreshold,
		RetentionWindow:       DefaultRetentionWindow,
	}
}

// PendingTransaction is a submitted transaction waiting for confirmation.
type PendingTransaction struct {
	Transaction     *transaction.Transaction
	SubmittedHeight uint64
	LastSent        time.Time
	Confirmations   map[string]struct{}
}

func (p *PendingTransaction) copy() *PendingTransaction {
	c := &PendingTransaction{
		Transaction:     p.Transaction.Copy(),
		SubmittedHeight: p.SubmittedHeight,
		LastSent:        p.LastSent,
		Confirmations:   make(map[string]struct{}, len(p.Confirmations)),
	}
	for k := range p.Confirmations {
		c.Confirmations[k] = struct{}{}
	}
	return c
}

// TickResult lists what a Tick did, by transaction id.
type TickResult struct {
	Finalized []string
	Expired   []string
	Resent    []string
	Inquired  []string
}

type statusUpdate struct {
	txID   string
	status activity.Status
	height uint64
}

// Manager owns the set of pending transactions.
type Manager struct {
	sync.Mutex
	entries map[string]*PendingTransaction

	conf        Config
	broadcaster Broadcaster
	statuses    StatusUpdater
	clock       common.Clock
	logger      *logrus.Entry
}

// NewManager creates a Manager. statuses may be nil.
func NewManager(conf Config,
	broadcaster Broadcaster,
	statuses StatusUpdater,
	clock common.Clock,
	logger *logrus.Entry) *Manager {

	if clock == nil {
		clock = common.SystemClock{}
	}

	return &Manager{
		entries:     make(map[string]*PendingTransaction),
		conf:        conf,
		broadcaster: broadcaster,
		statuses:    statuses,
		clock:       clock,
		logger:      logger,
	}
}

// Add starts tracking tx. The submission height is the block height the
// transaction was built at, or height when it does not carry one. It returns
// false if tx is already tracked.
func (m *Manager) Add(tx *transaction.Transaction, height uint64) bool {
	id := tx.ID()

	m.Lock()
	defer m.Unlock()

	if _, ok := m.entries[id]; ok {
		return false
	}

	submitted := tx.BlockHeight
	if submitted == 0 {
		submitted = height
	}

	m.entries[id] = &PendingTransaction{
		Transaction:     tx.Copy(),
		SubmittedHeight: submitted,
		LastSent:        m.clock.Now(),
		Confirmations:   make(map[string]struct{}),
	}
	return true
}

// Remove stops tracking a transaction.
func (m *Manager) Remove(txID string) bool {
	m.Lock()
	defer m.Unlock()
	_, ok := m.entries[txID]
	delete(m.entries, txID)
	return ok
}

// Get returns a copy of the pending transaction, or nil.
func (m *Manager) Get(txID string) *PendingTransaction {
	m.Lock()
	defer m.Unlock()
	p, ok := m.entries[txID]
	if !ok {
		return nil
	}
	return p.copy()
}

// Count returns the number of pending transactions.
func (m *Manager) Count() int {
	m.Lock()
	defer m.Unlock()
	return len(m.entries)
}

// MarkApplied records that the network applied the transaction at height. The
// next Tick finalizes it.
func (m *Manager) MarkApplied(txID string, height uint64) bool {
	m.Lock()
	defer m.Unlock()
	p, ok := m.entries[txID]
	if !ok {
		return false
	}
	p.Transaction.AppliedHeight = height
	return true
}

// RecordConfirmation notes that identity knows the transaction and returns the
// number of distinct confirming identities.
func (m *Manager) RecordConfirmation(txID string, identity common.Address) int {
	m.Lock()
	defer m.Unlock()
	p, ok := m.entries[txID]
	if !ok {
		return 0
	}
	p.Confirmations[string(identity)] = struct{}{}
	return len(p.Confirmations)
}

// Tick evaluates every pending transaction against now and the current block
// height. For each transaction the first matching rule applies:
//
//  1. applied on chain: removed and marked Final
//  2. submitted before the retention window: removed and marked Error
//  3. silent for ResendAfter: broadcast again, timer and confirmations reset
//  4. confirmed by more than ConfirmationThreshold peers: left alone
//  5. silent for InquireAfter: peers are asked for it
//
// Broadcasts and status updates happen after the lock is released.
func (m *Manager) Tick(now time.Time, height uint64) TickResult {
	var (
		res      TickResult
		resend   []*transaction.Transaction
		inquire  []string
		statuses []statusUpdate
	)

	m.Lock()
	snapshot := make([]string, 0, len(m.entries))
	for id := range m.entries {
		snapshot = append(snapshot, id)
	}

	for _, id := range snapshot {
		p := m.entries[id]
		tx := p.Transaction

		switch {
		case tx.Applied():
			delete(m.entries, id)
			res.Finalized = append(res.Finalized, id)
			statuses = append(statuses, statusUpdate{id, activity.Final, tx.AppliedHeight})
		case height > m.conf.RetentionWindow && p.SubmittedHeight < height-m.conf.RetentionWindow:
			delete(m.entries, id)
			res.Expired = append(res.Expired, id)
			statuses = append(statuses, statusUpdate{id, activity.Error, 0})
		case now.Sub(p.LastSent) > m.conf.ResendAfter:
			p.LastSent = now
			p.Confirmations = make(map[string]struct{})
			res.Resent = append(res.Resent, id)
			resend = append(resend, tx.Copy())
		case len(p.Confirmations) > m.conf.ConfirmationThreshold:
		case now.Sub(p.LastSent) > m.conf.InquireAfter:
			res.Inquired = append(res.Inquired, id)
			inquire = append(inquire, id)
		}
	}
	m.Unlock()

	for _, tx := range resend {
		m.broadcaster.BroadcastTransaction(tx)
	}
	for _, id := range inquire {
		m.broadcaster.BroadcastGetTransaction(id)
	}
	if m.statuses != nil {
		for _, s := range statuses {
			if err := m.statuses.UpdateStatus(s.txID, s.status, s.height); err != nil {
				m.logger.WithError(err).WithField("txid", s.txID).Debug("Updating activity status")
			}
		}
	}

	if len(res.Expired) > 0 || len(res.Finalized) > 0 {
		m.logger.WithFields(logrus.Fields{
			"finalized": len(res.Finalized),
			"expired":   len(res.Expired),
			"pending":   m.Count(),
		}).Debug("Pending transactions")
	}

	return res
}
