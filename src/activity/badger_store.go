package activity

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/sirupsen/logrus"
)

const activityPrefix = "activity"

// BadgerStore is a Store backed by a badger database.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens the database in path, creating it if needed.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

func activityKey(txID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", activityPrefix, txID))
}

// Insert implements the Store interface.
func (s *BadgerStore) Insert(a *Activity) error {
	val, err := a.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	key := activityKey(a.TxID)
	_, err = tx.Get(key)
	if err == nil {
		return common.NewStoreErr("Activity", common.KeyAlreadyExists, a.TxID)
	}
	if !isDBKeyNotFound(err) {
		return err
	}

	if err := tx.Set(key, val); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateStatus implements the Store interface.
func (s *BadgerStore) UpdateStatus(txID string, status Status, appliedHeight uint64) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	key := activityKey(txID)
	item, err := tx.Get(key)
	if err != nil {
		return mapError(err, "Activity", txID)
	}

	a := new(Activity)
	if err := item.Value(func(data []byte) error {
		return a.Unmarshal(data)
	}); err != nil {
		return err
	}

	a.Status = status
	if appliedHeight > 0 {
		a.AppliedHeight = appliedHeight
	}

	val, err := a.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Set(key, val); err != nil {
		return err
	}
	return tx.Commit()
}

// Get implements the Store interface.
func (s *BadgerStore) Get(txID string) (*Activity, error) {
	a := new(Activity)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(activityKey(txID))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return a.Unmarshal(data)
		})
	})
	if err != nil {
		return nil, mapError(err, "Activity", txID)
	}
	return a, nil
}

// List implements the Store interface.
func (s *BadgerStore) List(wallet common.Address) ([]*Activity, error) {
	res := []*Activity{}
	prefix := []byte(activityPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			a := new(Activity)
			if err := it.Item().Value(func(data []byte) error {
				return a.Unmarshal(data)
			}); err != nil {
				return err
			}
			if a.Wallet.Equal(wallet) {
				res = append(res, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortActivities(res)
	return res, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath returns the directory of the database.
func (s *BadgerStore) StorePath() string {
	return s.path
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
