package presence

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL is the freshness TTL of an address.
	DefaultTTL = 300 * time.Second
	// MaxClockSkew bounds how far in the future a timestamp may be.
	MaxClockSkew = 30 * time.Second
	// MaxAddresses bounds the devices kept for one identity. A new device
	// takes the place of the least recently seen one if it is newer.
	MaxAddresses = 16
)

// entry guards the presence of one identity. removed is set when Sweep or
// Remove drops the entry from the map, so that a concurrent update holding a
// stale pointer knows to retry.
type entry struct {
	sync.Mutex
	presence *Presence
	removed  bool
}

// Directory is the registry of known presences. The map lock only guards
// insertions and removals; address updates lock the entry alone.
type Directory struct {
	sync.RWMutex
	entries map[string]*entry

	ttl    time.Duration
	clock  common.Clock
	logger *logrus.Entry
}

// NewDirectory creates an empty directory.
func NewDirectory(ttl time.Duration, clock common.Clock, logger *logrus.Entry) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = common.SystemClock{}
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Directory{
		entries: make(map[string]*entry),
		ttl:     ttl,
		clock:   clock,
		logger:  logger,
	}
}

// Upsert decodes a presence and merges it into the directory. It returns the
// stored presence after the merge.
func (d *Directory) Upsert(data []byte) (*Presence, error) {
	p, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if _, err := d.UpsertPresence(p); err != nil {
		return nil, err
	}
	return d.Lookup(p.Identity), nil
}

// UpsertPresence merges p into the directory. Addresses with an invalid
// signature, a timestamp too far in the future or an expired timestamp are
// skipped. An address replaces the stored one for the same device only if it
// is strictly newer. The returned boolean reports whether anything changed.
func (d *Directory) UpsertPresence(p *Presence) (bool, error) {
	if err := p.VerifyIdentity(); err != nil {
		return false, err
	}

	now := d.clock.Now()
	valid := make([]*Address, 0, len(p.Addresses))
	for _, a := range p.Addresses {
		if err := d.checkAddress(p.Identity, p.PublicKey, a, now); err != nil {
			d.logger.WithFields(logrus.Fields{
				"identity": p.Identity,
				"device":   a.DeviceID,
				"error":    err,
			}).Debug("Skipping presence address")
			continue
		}
		valid = append(valid, a.clone())
	}

	if len(valid) == 0 {
		return false, common.NewProtocolErr(common.Verification, "presence %v has no acceptable address", p.Identity)
	}

	return d.merge(p.Identity, p.PublicKey, valid)
}

// ReceiveKeepAlive verifies a keepalive and applies it to the sender's
// presence, creating the presence if needed. It reports whether the keepalive
// carried new information and should be propagated.
func (d *Directory) ReceiveKeepAlive(data []byte) (*KeepAlive, bool, error) {
	ka, err := UnmarshalKeepAlive(data)
	if err != nil {
		return nil, false, err
	}
	if err := ka.Verify(); err != nil {
		return ka, false, err
	}
	addr := ka.Address()
	if err := d.checkTime(addr.LastSeen, d.clock.Now()); err != nil {
		return ka, false, err
	}

	updated, err := d.merge(ka.Identity, ka.PublicKey, []*Address{addr})
	return ka, updated, err
}

func (d *Directory) checkAddress(identity common.Address, pubKey []byte, a *Address, now time.Time) error {
	if !a.Verify(identity, pubKey) {
		return common.NewProtocolErr(common.Verification, "invalid address signature")
	}
	return d.checkTime(a.LastSeen, now)
}

func (d *Directory) checkTime(ts int64, now time.Time) error {
	if ts > now.Add(MaxClockSkew).Unix() {
		return common.NewProtocolErr(common.Verification, "timestamp %d is in the future", ts)
	}
	if ts < now.Add(-d.ttl).Unix() {
		return common.NewProtocolErr(common.Verification, "timestamp %d is expired", ts)
	}
	return nil
}

func (d *Directory) merge(identity common.Address, pubKey []byte, addrs []*Address) (bool, error) {
	key := string(identity)

	for {
		d.RLock()
		e, ok := d.entries[key]
		d.RUnlock()

		if !ok {
			d.Lock()
			if _, ok := d.entries[key]; !ok {
				d.entries[key] = &entry{
					presence: &Presence{
						Identity:  append(common.Address(nil), identity...),
						PublicKey: append([]byte(nil), pubKey...),
						Addresses: newestAddresses(addrs, MaxAddresses),
					},
				}
				d.Unlock()
				d.logger.WithField("identity", identity).Debug("New presence")
				return true, nil
			}
			d.Unlock()
			continue
		}

		e.Lock()
		if e.removed {
			e.Unlock()
			continue
		}
		if !common.Address(e.presence.PublicKey).Equal(pubKey) {
			e.Unlock()
			return false, common.NewProtocolErr(common.Verification, "public key mismatch for %v", identity)
		}
		updated := false
		for _, a := range addrs {
			existing := e.presence.Address(a.DeviceID)
			switch {
			case existing == nil && len(e.presence.Addresses) < MaxAddresses:
				e.presence.Addresses = append(e.presence.Addresses, a)
				updated = true
			case existing == nil:
				i := oldestAddress(e.presence.Addresses)
				if e.presence.Addresses[i].LastSeen >= a.LastSeen {
					continue
				}
				e.presence.Addresses[i] = a
				updated = true
			case a.LastSeen > existing.LastSeen:
				*existing = *a
				updated = true
			}
		}
		e.Unlock()
		return updated, nil
	}
}

func oldestAddress(addrs []*Address) int {
	oldest := 0
	for i, a := range addrs {
		if a.LastSeen < addrs[oldest].LastSeen {
			oldest = i
		}
	}
	return oldest
}

// newestAddresses keeps the max most recently seen addresses.
func newestAddresses(addrs []*Address, max int) []*Address {
	if len(addrs) <= max {
		return addrs
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].LastSeen > addrs[j].LastSeen
	})
	return addrs[:max]
}

// Lookup returns a copy of the presence of identity, or nil.
func (d *Directory) Lookup(identity common.Address) *Presence {
	d.RLock()
	e, ok := d.entries[string(identity)]
	d.RUnlock()
	if !ok {
		return nil
	}

	e.Lock()
	defer e.Unlock()
	if e.removed {
		return nil
	}
	return e.presence.Clone()
}

// LookupByDevice returns a copy of the presence owning deviceID, or nil.
func (d *Directory) LookupByDevice(deviceID string) *Presence {
	for _, e := range d.snapshot() {
		e.Lock()
		if !e.removed && e.presence.Address(deviceID) != nil {
			p := e.presence.Clone()
			e.Unlock()
			return p
		}
		e.Unlock()
	}
	return nil
}

// Sample returns up to count random presences with at least one address
// matching role. RoleUnknown matches every presence.
func (d *Directory) Sample(role Role, count int) []*Presence {
	if count <= 0 {
		return nil
	}

	var candidates []*Presence
	for _, e := range d.snapshot() {
		e.Lock()
		if !e.removed && e.presence.HasRole(role) {
			candidates = append(candidates, e.presence.Clone())
		}
		e.Unlock()
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Sweep drops the addresses not refreshed within the TTL and forgets the
// presences left without any address. It returns the number of presences
// removed.
func (d *Directory) Sweep(now time.Time) int {
	cutoff := now.Add(-d.ttl).Unix()

	d.Lock()
	defer d.Unlock()

	removed := 0
	for key, e := range d.entries {
		e.Lock()
		fresh := e.presence.Addresses[:0]
		for _, a := range e.presence.Addresses {
			if a.LastSeen >= cutoff {
				fresh = append(fresh, a)
			}
		}
		e.presence.Addresses = fresh
		if len(fresh) == 0 {
			e.removed = true
			delete(d.entries, key)
			removed++
		}
		e.Unlock()
	}

	if removed > 0 {
		d.logger.WithField("removed", removed).Debug("Swept presences")
	}

	return removed
}

// Remove forgets identity. It reports whether the identity was known.
func (d *Directory) Remove(identity common.Address) bool {
	d.Lock()
	defer d.Unlock()

	e, ok := d.entries[string(identity)]
	if !ok {
		return false
	}
	e.Lock()
	e.removed = true
	e.Unlock()
	delete(d.entries, string(identity))
	return true
}

// Count returns the number of known identities.
func (d *Directory) Count() int {
	d.RLock()
	defer d.RUnlock()
	return len(d.entries)
}

func (d *Directory) snapshot() []*entry {
	d.RLock()
	defer d.RUnlock()
	res := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		res = append(res, e)
	}
	return res
}
