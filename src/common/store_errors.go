package common

import (
	"errors"
	"fmt"
)

// StoreErrType classifies the errors of the activity and header stores.
type StoreErrType uint32

const (
	// KeyNotFound is returned for a missing record.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when inserting a record twice.
	KeyAlreadyExists
	// Empty is returned when asking an empty store for its last record.
	Empty
)

func (t StoreErrType) String() string {
	switch t {
	case KeyNotFound:
		return "not found"
	case KeyAlreadyExists:
		return "already exists"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// StoreErr is returned by the activity and header stores.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a StoreErr about the record of dataType at key.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

func (e StoreErr) Error() string {
	return fmt.Sprintf("%s %s: %s", e.dataType, e.key, e.errType)
}

// IsStore reports whether err, or an error it wraps, is a StoreErr of type t.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
