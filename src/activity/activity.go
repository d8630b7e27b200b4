// Package activity records the wallet activity of the node: the transactions
// it submitted and the ones it received, along with their status.
//
// The log is append-only from the point of view of the node. Entries are
// inserted when a transaction touching the wallet is first seen and their
// status moves from Pending to Final once the transaction is confirmed, or to
// Error once it expired.
package activity

import (
	"github.com/mosaicnetworks/s2/src/common"
)

// Status is the lifecycle stage of an activity.
type Status uint8

const (
	// Pending transactions are not confirmed yet.
	Pending Status = iota
	// Final transactions were confirmed on chain.
	Final
	// Error transactions expired without being confirmed.
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Final:
		return "Final"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Type tells whether the wallet sent or received the value.
type Type uint8

const (
	// Sent means the wallet is the sender.
	Sent Type = iota
	// Received means the wallet is the recipient.
	Received
)

// Activity is one entry of the log.
type Activity struct {
	Wallet        common.Address
	TxID          string
	Type          Type
	Value         uint64
	Timestamp     int64
	Status        Status
	AppliedHeight uint64
}

// Marshal returns the msgpack encoding of the activity.
func (a *Activity) Marshal() ([]byte, error) {
	return common.Encode(a)
}

// Unmarshal decodes an activity produced by Marshal.
func (a *Activity) Unmarshal(data []byte) error {
	return common.Decode(data, a)
}

// Store persists activities, keyed by transaction id.
type Store interface {
	// Insert adds a new activity. It fails with a KeyAlreadyExists StoreErr if
	// the transaction is already recorded.
	Insert(a *Activity) error
	// UpdateStatus changes the status of a recorded activity.
	UpdateStatus(txID string, status Status, appliedHeight uint64) error
	// Get returns the activity of a transaction.
	Get(txID string) (*Activity, error)
	// List returns the activities of a wallet.
	List(wallet common.Address) ([]*Activity, error)
	Close() error
}
