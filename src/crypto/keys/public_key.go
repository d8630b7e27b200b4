package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto"
)

// AddressVersion prefixes every address derived by PublicKeyAddress.
const AddressVersion byte = 0x01

// addressHashLength is the number of hash bytes kept in an address.
const addressHashLength = 24

// ToPublicKey parses a serialized public key, compressed or not, and checks
// that the point is on the curve.
func ToPublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	pk, err := btcec.ParsePubKey(pub, Curve())
	if err != nil {
		return nil, err
	}
	return pk.ToECDSA(), nil
}

// FromPublicKey serializes a public key in its 33-byte compressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return (*btcec.PublicKey)(pub).SerializeCompressed()
}

// PublicKeyHex returns the hexadecimal representation of the compressed form
// of the public key
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// PublicKeyAddress derives the network address of a serialized public key: a
// version byte followed by the first 24 bytes of the double SHA256 of the key.
func PublicKeyAddress(pub []byte) common.Address {
	h := crypto.DoubleSHA256(pub)
	addr := make([]byte, 0, 1+addressHashLength)
	addr = append(addr, AddressVersion)
	addr = append(addr, h[:addressHashLength]...)
	return common.Address(addr)
}

// Address returns the network address of the key-pair.
func Address(priv *ecdsa.PrivateKey) common.Address {
	return PublicKeyAddress(FromPublicKey(&priv.PublicKey))
}
