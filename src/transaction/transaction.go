// Package transaction defines the ledger transactions handled by the relay:
// the ones submitted by local wallets, the postage payments of relay clients,
// and the ones observed on the network.
package transaction

import (
	"crypto/ecdsa"
	"encoding/hex"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

// Type distinguishes the purpose of a transaction.
type Type uint8

const (
	// Normal is a plain transfer.
	Normal Type = iota
	// Postage pays a relay for forwarding data envelopes.
	Postage
)

func (t Type) String() string {
	switch t {
	case Normal:
		return "Normal"
	case Postage:
		return "Postage"
	default:
		return "Unknown"
	}
}

// Transaction moves Amount from the owner of SenderKey to Recipient.
// AppliedHeight is filled by the network once the transaction made it into a
// block; it is not covered by the signature.
type Transaction struct {
	Type          Type
	SenderKey     []byte
	Recipient     common.Address
	Amount        uint64
	Fee           uint64
	BlockHeight   uint64
	Nonce         uint64
	Timestamp     int64
	Data          []byte
	AppliedHeight uint64
	Signature     []byte
}

// unsignedBytes is the canonical encoding of every field covered by the
// signature and the id.
func (t *Transaction) unsignedBytes() ([]byte, error) {
	return common.Encode([]interface{}{
		uint8(t.Type),
		nonNil(t.SenderKey),
		nonNil(t.Recipient),
		t.Amount,
		t.Fee,
		t.BlockHeight,
		t.Nonce,
		t.Timestamp,
		nonNil(t.Data),
	})
}

// nonNil makes nil and empty slices encode identically.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Hash returns the SHA256 of the unsigned encoding. It is the merkle leaf of
// the transaction.
func (t *Transaction) Hash() ([]byte, error) {
	b, err := t.unsignedBytes()
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(b), nil
}

// ID returns the hex encoded hash of the transaction.
func (t *Transaction) ID() string {
	h, err := t.Hash()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(h)
}

// LeafFromID converts a transaction id back into its merkle leaf.
func LeafFromID(id string) ([]byte, error) {
	return hex.DecodeString(id)
}

// Sender returns the address of the sender.
func (t *Transaction) Sender() common.Address {
	return keys.PublicKeyAddress(t.SenderKey)
}

// Applied reports whether the network included the transaction in a block.
func (t *Transaction) Applied() bool {
	return t.AppliedHeight > 0
}

// Sign sets the sender key and signs the transaction.
func (t *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	t.SenderKey = keys.FromPublicKey(&priv.PublicKey)
	h, err := t.Hash()
	if err != nil {
		return err
	}
	sig, err := keys.Sign(priv, h)
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// Verify checks the signature against the sender key.
func (t *Transaction) Verify() error {
	if len(t.Signature) == 0 {
		return common.NewProtocolErr(common.Verification, "transaction %s is not signed", t.ID())
	}
	pub, err := keys.ToPublicKey(t.SenderKey)
	if err != nil {
		return common.NewProtocolErr(common.Verification, "transaction sender key: %v", err)
	}
	h, err := t.Hash()
	if err != nil {
		return err
	}
	if !keys.Verify(pub, h, t.Signature) {
		return common.NewProtocolErr(common.Verification, "invalid signature on transaction %s", t.ID())
	}
	return nil
}

// Copy returns a deep copy.
func (t *Transaction) Copy() *Transaction {
	c := *t
	c.SenderKey = append([]byte(nil), t.SenderKey...)
	c.Recipient = append(common.Address(nil), t.Recipient...)
	c.Data = append([]byte(nil), t.Data...)
	c.Signature = append([]byte(nil), t.Signature...)
	return &c
}

// Marshal returns the msgpack encoding of the transaction.
func (t *Transaction) Marshal() ([]byte, error) {
	return common.Encode(t)
}

// Unmarshal decodes a transaction produced by Marshal.
func Unmarshal(data []byte) (*Transaction, error) {
	var t Transaction
	if err := common.Decode(data, &t); err != nil {
		return nil, common.NewProtocolErr(common.Malformed, "transaction: %v", err)
	}
	return &t, nil
}
