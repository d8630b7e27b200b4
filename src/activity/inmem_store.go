package activity

import (
	"sort"
	"sync"

	"github.com/mosaicnetworks/s2/src/common"
)

// InmemStore is a Store that lives in memory. It is used in tests and when the
// node runs without a data directory.
type InmemStore struct {
	sync.RWMutex
	activities map[string]Activity
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		activities: make(map[string]Activity),
	}
}

// Insert implements the Store interface.
func (s *InmemStore) Insert(a *Activity) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.activities[a.TxID]; ok {
		return common.NewStoreErr("Activity", common.KeyAlreadyExists, a.TxID)
	}
	s.activities[a.TxID] = *a
	return nil
}

// UpdateStatus implements the Store interface.
func (s *InmemStore) UpdateStatus(txID string, status Status, appliedHeight uint64) error {
	s.Lock()
	defer s.Unlock()

	a, ok := s.activities[txID]
	if !ok {
		return common.NewStoreErr("Activity", common.KeyNotFound, txID)
	}
	a.Status = status
	if appliedHeight > 0 {
		a.AppliedHeight = appliedHeight
	}
	s.activities[txID] = a
	return nil
}

// Get implements the Store interface.
func (s *InmemStore) Get(txID string) (*Activity, error) {
	s.RLock()
	defer s.RUnlock()

	a, ok := s.activities[txID]
	if !ok {
		return nil, common.NewStoreErr("Activity", common.KeyNotFound, txID)
	}
	return &a, nil
}

// List implements the Store interface. Activities are sorted by timestamp.
func (s *InmemStore) List(wallet common.Address) ([]*Activity, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*Activity{}
	for _, a := range s.activities {
		if a.Wallet.Equal(wallet) {
			a := a
			res = append(res, &a)
		}
	}
	sortActivities(res)
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

func sortActivities(res []*Activity) {
	sort.Slice(res, func(i, j int) bool {
		if res[i].Timestamp != res[j].Timestamp {
			return res[i].Timestamp < res[j].Timestamp
		}
		return res[i].TxID < res[j].TxID
	})
}
