package relay

import (
	"crypto/rand"

	"github.com/mosaicnetworks/s2/src/common"
)

// Kind is the class of an envelope.
type Kind uint8

const (
	// Info envelopes carry protocol chatter such as receipts or typing
	// notifications.
	Info Kind = iota
	// Data envelopes carry user content.
	Data
	// Error envelopes are synthesized by relays only.
	Error
	// Signature envelopes carry signatures requested by the recipient.
	Signature
)

func (k Kind) String() string {
	switch k {
	case Info:
		return "Info"
	case Data:
		return "Data"
	case Error:
		return "Error"
	case Signature:
		return "Signature"
	default:
		return "Unknown"
	}
}

// IsData reports whether the envelope counts against the data quota. Every
// other kind is informational.
func (k Kind) IsData() bool {
	return k == Data
}

// EncryptionType describes how the payload was encrypted by the sender.
type EncryptionType uint8

const (
	EncryptionNone EncryptionType = iota
	EncryptionRSA
	EncryptionSpixi1
)

// messageIDLength is the size of the random ids of synthesized envelopes.
const messageIDLength = 16

// StreamMessage is a relay envelope.
type StreamMessage struct {
	ID             []byte
	Sender         common.Address
	Recipient      common.Address
	Kind           Kind
	EncryptionType EncryptionType
	Payload        []byte
}

// NewMessageID returns a random envelope id.
func NewMessageID() []byte {
	id := make([]byte, messageIDLength)
	rand.Read(id)
	return id
}

// Marshal returns the msgpack encoding of the envelope.
func (m *StreamMessage) Marshal() ([]byte, error) {
	return common.Encode(m)
}

// UnmarshalStreamMessage decodes an envelope and checks its routing header.
func UnmarshalStreamMessage(data []byte) (*StreamMessage, error) {
	var m StreamMessage
	if err := common.Decode(data, &m); err != nil {
		return nil, common.NewProtocolErr(common.Malformed, "stream message: %v", err)
	}
	if len(m.ID) == 0 || m.Sender.Empty() || m.Recipient.Empty() {
		return nil, common.NewProtocolErr(common.Malformed, "stream message without id, sender or recipient")
	}
	if m.Kind > Signature {
		return nil, common.NewProtocolErr(common.Malformed, "unknown stream message kind %d", m.Kind)
	}
	return &m, nil
}

// ErrorNotice is the payload of the error envelopes built by the relay.
type ErrorNotice struct {
	OriginalID []byte
	Reason     string
	// Postage is set when the sender must pay before sending more data. It
	// holds the encoded unsigned transaction to sign.
	Postage []byte
}

// TransactionSignature is the payload of relaySignature messages: the
// signature of the postage transaction announced in the error envelope whose
// original id is MessageID.
type TransactionSignature struct {
	MessageID []byte
	Signature []byte
}
