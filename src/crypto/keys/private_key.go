package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// privateKeyLength is the length of a serialized secp256k1 scalar.
const privateKeyLength = 32

// GenerateECDSAKey creates a new secp256k1 private key.
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey(Curve())
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

// DumpPrivateKey exports a private key into a 32-byte big-endian dump of its D
// value.
func DumpPrivateKey(priv *ecdsa.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return (*btcec.PrivateKey)(priv).Serialize()
}

// ParsePrivateKey creates a private key from a dump produced by
// DumpPrivateKey. It refuses scalars that are zero or not below the curve
// order.
func ParsePrivateKey(d []byte) (*ecdsa.PrivateKey, error) {
	if len(d) != privateKeyLength {
		return nil, fmt.Errorf("invalid length, need %d bytes, got %d", privateKeyLength, len(d))
	}

	k := new(big.Int).SetBytes(d)
	if k.Sign() <= 0 {
		return nil, fmt.Errorf("invalid private key, zero or negative")
	}
	if k.Cmp(Curve().N) >= 0 {
		return nil, fmt.Errorf("invalid private key, >=N")
	}

	priv, _ := btcec.PrivKeyFromBytes(Curve(), d)
	return priv.ToECDSA(), nil
}

// PrivateKeyHex returns the hexadecimal representation of a raw private key as
// returned by DumpPrivateKey
func PrivateKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}
