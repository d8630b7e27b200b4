package tiv

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/sirupsen/logrus"
)

const (
	headerPrefix = "header"
	lastKey      = "header_last"
)

// BadgerHeaderStore is a HeaderStore backed by badger, so that a restarted
// relay resumes from its last verified header instead of the anchor.
type BadgerHeaderStore struct {
	db   *badger.DB
	path string
}

// NewBadgerHeaderStore opens the database in path, creating it if needed.
func NewBadgerHeaderStore(path string, logger *logrus.Entry) (*BadgerHeaderStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerHeaderStore{
		db:   handle,
		path: path,
	}, nil
}

func heightKey(height uint64) string {
	return fmt.Sprintf("%s_%020d", headerPrefix, height)
}

// PutBatch implements the HeaderStore interface.
func (s *BadgerHeaderStore) PutBatch(headers []*BlockHeader) error {
	if len(headers) == 0 {
		return nil
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	var last *BlockHeader
	for _, h := range headers {
		val, err := h.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Set([]byte(heightKey(h.Height)), val); err != nil {
			return err
		}
		if last == nil || h.Height > last.Height {
			last = h
		}
	}

	current, err := s.lastHeight(tx)
	if err != nil {
		return err
	}
	if last.Height > current {
		if err := tx.Set([]byte(lastKey), []byte(heightKey(last.Height))); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *BadgerHeaderStore) lastHeight(tx *badger.Txn) (uint64, error) {
	item, err := tx.Get([]byte(lastKey))
	if isDBKeyNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var height uint64
	err = item.Value(func(data []byte) error {
		_, err := fmt.Sscanf(string(data), headerPrefix+"_%d", &height)
		return err
	})
	return height, err
}

// Get implements the HeaderStore interface.
func (s *BadgerHeaderStore) Get(height uint64) (*BlockHeader, error) {
	return s.get(heightKey(height))
}

func (s *BadgerHeaderStore) get(key string) (*BlockHeader, error) {
	h := new(BlockHeader)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return h.Unmarshal(data)
		})
	})
	if err != nil {
		return nil, mapError(err, "Header", key)
	}
	return h, nil
}

// Last implements the HeaderStore interface.
func (s *BadgerHeaderStore) Last() (*BlockHeader, error) {
	var key string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastKey))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			key = string(data)
			return nil
		})
	})
	if isDBKeyNotFound(err) {
		return nil, common.NewStoreErr("Header", common.Empty, "last")
	}
	if err != nil {
		return nil, err
	}
	return s.get(key)
}

// Close implements the HeaderStore interface.
func (s *BadgerHeaderStore) Close() error {
	return s.db.Close()
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil && isDBKeyNotFound(err) {
		return common.NewStoreErr(name, common.KeyNotFound, key)
	}
	return err
}
