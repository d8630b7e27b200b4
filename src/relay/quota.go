package relay

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/s2/src/common"
)

const (
	// DefaultInfoQuota is the number of informational envelopes allowed per
	// data envelope.
	DefaultInfoQuota = 10
	// DefaultDataQuota is the number of data envelopes allowed between two
	// payments.
	DefaultDataQuota = 3
	// DefaultQuotaWindow is the idle time after which a sender's record is
	// forgotten.
	DefaultQuotaWindow = time.Hour
)

// QuotaRecord counts the envelopes of one sender.
type QuotaRecord struct {
	sync.Mutex
	info       int
	data       int
	lastPaid   time.Time
	lastActive time.Time
	removed    bool
}

// QuotaManager keeps one QuotaRecord per sender. Senders never contend on each
// other's records.
type QuotaManager struct {
	sync.RWMutex
	records map[string]*QuotaRecord

	infoQuota int
	dataQuota int
	window    time.Duration
	clock     common.Clock
}

// NewQuotaManager creates a QuotaManager.
func NewQuotaManager(infoQuota, dataQuota int, window time.Duration, clock common.Clock) *QuotaManager {
	if infoQuota <= 0 {
		infoQuota = DefaultInfoQuota
	}
	if dataQuota <= 0 {
		dataQuota = DefaultDataQuota
	}
	if window <= 0 {
		window = DefaultQuotaWindow
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &QuotaManager{
		records:   make(map[string]*QuotaRecord),
		infoQuota: infoQuota,
		dataQuota: dataQuota,
		window:    window,
		clock:     clock,
	}
}

// withRecord runs fn on the locked record of sender, creating it if needed.
func (q *QuotaManager) withRecord(sender common.Address, fn func(r *QuotaRecord)) {
	key := string(sender)
	for {
		q.RLock()
		r, ok := q.records[key]
		q.RUnlock()

		if !ok {
			q.Lock()
			if r, ok = q.records[key]; !ok {
				r = &QuotaRecord{}
				q.records[key] = r
			}
			q.Unlock()
		}

		r.Lock()
		if r.removed {
			r.Unlock()
			continue
		}
		fn(r)
		r.Unlock()
		return
	}
}

// Admit records an envelope of sender and reports whether it may be relayed.
// A data envelope is refused once DataQuota data envelopes went through since
// the last payment; an informational one once InfoQuota went through since the
// last data envelope. Refused envelopes are not counted.
func (q *QuotaManager) Admit(sender common.Address, data bool) error {
	var err error
	now := q.clock.Now()

	q.withRecord(sender, func(r *QuotaRecord) {
		r.lastActive = now
		if data {
			if r.data >= q.dataQuota {
				err = common.NewProtocolErr(common.QuotaExceeded, "%v exceeded the data quota of %d", sender, q.dataQuota)
				return
			}
			r.data++
			r.info = 0
			return
		}
		if r.info >= q.infoQuota {
			err = common.NewProtocolErr(common.QuotaExceeded, "%v exceeded the info quota of %d", sender, q.infoQuota)
			return
		}
		r.info++
	})

	return err
}

// Paid resets the data counter of sender after a verified payment.
func (q *QuotaManager) Paid(sender common.Address) {
	now := q.clock.Now()
	q.withRecord(sender, func(r *QuotaRecord) {
		r.data = 0
		r.lastPaid = now
		r.lastActive = now
	})
}

// Counters returns the current counters of sender.
func (q *QuotaManager) Counters(sender common.Address) (info, data int, lastPaid time.Time) {
	q.RLock()
	r, ok := q.records[string(sender)]
	q.RUnlock()
	if !ok {
		return 0, 0, time.Time{}
	}
	r.Lock()
	defer r.Unlock()
	return r.info, r.data, r.lastPaid
}

// IsDataQuotaExceeded reports whether sender must pay before sending data.
func (q *QuotaManager) IsDataQuotaExceeded(sender common.Address) bool {
	_, data, _ := q.Counters(sender)
	return data >= q.dataQuota
}

// Sweep forgets the records idle for longer than the window and returns how
// many were dropped.
func (q *QuotaManager) Sweep(now time.Time) int {
	q.Lock()
	defer q.Unlock()

	removed := 0
	for key, r := range q.records {
		r.Lock()
		if now.Sub(r.lastActive) > q.window {
			r.removed = true
			delete(q.records, key)
			removed++
		}
		r.Unlock()
	}
	return removed
}

// Count returns the number of tracked senders.
func (q *QuotaManager) Count() int {
	q.RLock()
	defer q.RUnlock()
	return len(q.records)
}
