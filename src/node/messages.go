package node

import (
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/presence"
)

const (
	// ProtocolVersion is the version announced in our hellos.
	ProtocolVersion = 6
	// MinProtocolVersion is the oldest version accepted from peers.
	MinProtocolVersion = 5
	// MaxProtocolVersion is the newest version accepted from peers.
	MaxProtocolVersion = 6

	challengeLength = 32
)

// Hello introduces a peer. A hello carrying a Challenge asks the other side
// to sign it; the signature comes back in the ChallengeResponse of the next
// hello or helloWithMetadata.
type Hello struct {
	Version           int
	Identity          common.Address
	PublicKey         []byte
	Role              presence.Role
	DeviceID          string
	Endpoint          string
	Timestamp         int64
	Challenge         []byte
	ChallengeResponse []byte
	// Address is the signed presence address of the sender, if it has one.
	Address *presence.Address
}

// HelloWithMetadata is the hello of an authoritative node. It carries the
// chain tip of the sender and the address under which it sees us.
type HelloWithMetadata struct {
	Hello
	BlockHeight   uint64
	BlockChecksum []byte
	BlockVersion  int
	PublicIP      string
}

// ByeCode explains why a connection is closed.
type ByeCode uint8

const (
	ByeNormal ByeCode = iota
	ByeForked
	ByeDeprecated
	ByeIncorrectIP
	ByeNotConnectable
	ByeInsufficientFunds
	ByeExpectingMaster
	ByeAuthFailed
	ByeOther
)

func (c ByeCode) String() string {
	switch c {
	case ByeNormal:
		return "normal"
	case ByeForked:
		return "forked"
	case ByeDeprecated:
		return "deprecated"
	case ByeIncorrectIP:
		return "incorrectIp"
	case ByeNotConnectable:
		return "notConnectable"
	case ByeInsufficientFunds:
		return "insufficientFunds"
	case ByeExpectingMaster:
		return "expectingMaster"
	case ByeAuthFailed:
		return "authFailed"
	default:
		return "other"
	}
}

// Bye is sent right before closing a connection. For ByeIncorrectIP, Data
// holds the address the peer sees us under.
type Bye struct {
	Code    ByeCode
	Message string
	Data    string
}

// PresenceQuery asks for the presence of Identity. An empty Identity asks for
// up to Count random presences playing Role.
type PresenceQuery struct {
	Identity common.Address
	Role     presence.Role
	Count    int
}

// GetTransaction asks whether a peer knows a transaction.
type GetTransaction struct {
	TxID   string
	Height uint64
}

// BalanceQuery asks for the balance of an address.
type BalanceQuery struct {
	Address common.Address
}

// BalanceResponse reports the balance of an address at a block.
type BalanceResponse struct {
	Address       common.Address
	Balance       uint64
	BlockHeight   uint64
	BlockChecksum []byte
}

// Event classes a peer can subscribe to.
const (
	EventKeepAlive uint8 = iota + 1
	EventTransaction
)

// EventSubscribe subscribes to events. Addresses restricts transaction
// events to the ones touching these addresses.
type EventSubscribe struct {
	Events    []uint8
	Addresses []common.Address
}

func decode(payload []byte, v interface{}, what string) error {
	if err := common.Decode(payload, v); err != nil {
		return common.NewProtocolErr(common.Malformed, "%s: %v", what, err)
	}
	return nil
}
