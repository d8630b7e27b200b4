package tiv

import (
	"sync"

	"github.com/mosaicnetworks/s2/src/common"
)

// HeaderStore keeps the verified headers.
type HeaderStore interface {
	// PutBatch stores consecutive headers atomically.
	PutBatch(headers []*BlockHeader) error
	// Get returns the header at height.
	Get(height uint64) (*BlockHeader, error)
	// Last returns the highest stored header, or an Empty StoreErr.
	Last() (*BlockHeader, error)
	Close() error
}

// InmemHeaderStore is a HeaderStore in memory.
type InmemHeaderStore struct {
	sync.RWMutex
	headers map[uint64]*BlockHeader
	last    *BlockHeader
}

// NewInmemHeaderStore creates an empty InmemHeaderStore.
func NewInmemHeaderStore() *InmemHeaderStore {
	return &InmemHeaderStore{
		headers: make(map[uint64]*BlockHeader),
	}
}

// PutBatch implements the HeaderStore interface.
func (s *InmemHeaderStore) PutBatch(headers []*BlockHeader) error {
	s.Lock()
	defer s.Unlock()
	for _, h := range headers {
		s.headers[h.Height] = h
		if s.last == nil || h.Height > s.last.Height {
			s.last = h
		}
	}
	return nil
}

// Get implements the HeaderStore interface.
func (s *InmemHeaderStore) Get(height uint64) (*BlockHeader, error) {
	s.RLock()
	defer s.RUnlock()
	h, ok := s.headers[height]
	if !ok {
		return nil, common.NewStoreErr("Header", common.KeyNotFound, heightKey(height))
	}
	return h, nil
}

// Last implements the HeaderStore interface.
func (s *InmemHeaderStore) Last() (*BlockHeader, error) {
	s.RLock()
	defer s.RUnlock()
	if s.last == nil {
		return nil, common.NewStoreErr("Header", common.Empty, "last")
	}
	return s.last, nil
}

// Close implements the HeaderStore interface.
func (s *InmemHeaderStore) Close() error {
	return nil
}
