package tiv

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

// HeaderSignature is the signature of a block checksum by a block signer.
type HeaderSignature struct {
	SignerKey []byte
	Signature []byte
}

// BlockHeader is the part of a block the relay keeps.
type BlockHeader struct {
	Height              uint64
	Checksum            []byte
	PrevChecksum        []byte
	WalletStateChecksum []byte
	MerkleRoot          []byte
	Version             int
	Timestamp           int64
	Difficulty          uint64
	Signatures          []HeaderSignature
}

// ComputeChecksum returns the SHA256 of the canonical encoding of every field
// except the checksum and the signatures.
func (h *BlockHeader) ComputeChecksum() ([]byte, error) {
	b, err := common.Encode([]interface{}{
		h.Height,
		nonNil(h.PrevChecksum),
		nonNil(h.WalletStateChecksum),
		nonNil(h.MerkleRoot),
		h.Version,
		h.Timestamp,
		h.Difficulty,
	})
	if err != nil {
		return nil, err
	}
	return crypto.SHA256(b), nil
}

// Seal computes and sets the checksum.
func (h *BlockHeader) Seal() error {
	c, err := h.ComputeChecksum()
	if err != nil {
		return err
	}
	h.Checksum = c
	return nil
}

// Sign appends a signature of the checksum. The header must be sealed.
func (h *BlockHeader) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := keys.Sign(priv, h.Checksum)
	if err != nil {
		return err
	}
	h.Signatures = append(h.Signatures, HeaderSignature{
		SignerKey: keys.FromPublicKey(&priv.PublicKey),
		Signature: sig,
	})
	return nil
}

// VerifyChecksum checks that the checksum matches the content.
func (h *BlockHeader) VerifyChecksum() error {
	c, err := h.ComputeChecksum()
	if err != nil {
		return err
	}
	if !bytes.Equal(c, h.Checksum) {
		return common.NewProtocolErr(common.Verification, "header %d has a wrong checksum", h.Height)
	}
	return nil
}

// VerifySignatures checks every signature of the header and requires at least
// minSigners of them to come from the signer set. An empty signer set accepts
// any signer.
func (h *BlockHeader) VerifySignatures(signers map[string]bool, minSigners int) error {
	if len(h.Signatures) == 0 {
		return common.NewProtocolErr(common.Verification, "header %d is not signed", h.Height)
	}

	known := 0
	for _, s := range h.Signatures {
		pub, err := keys.ToPublicKey(s.SignerKey)
		if err != nil {
			return common.NewProtocolErr(common.Verification, "header %d signer key: %v", h.Height, err)
		}
		if !keys.Verify(pub, h.Checksum, s.Signature) {
			return common.NewProtocolErr(common.Verification, "header %d has an invalid signature", h.Height)
		}
		if len(signers) == 0 || signers[string(s.SignerKey)] {
			known++
		}
	}

	if known < minSigners {
		return common.NewProtocolErr(common.Verification, "header %d has %d known signatures, need %d", h.Height, known, minSigners)
	}
	return nil
}

// Marshal returns the msgpack encoding of the header.
func (h *BlockHeader) Marshal() ([]byte, error) {
	return common.Encode(h)
}

// Unmarshal decodes a header produced by Marshal.
func (h *BlockHeader) Unmarshal(data []byte) error {
	return common.Decode(data, h)
}

// Anchor is a trusted header the verifier starts from instead of genesis.
type Anchor struct {
	Height   uint64
	Checksum []byte
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
