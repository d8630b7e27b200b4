package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/s2/src/crypto"
)

// Sign signs a 32-byte hash with the private key and returns the DER encoding
// of the signature.
func Sign(priv *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(hash)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify verifies that sig is a valid DER signature of hash by the owner of
// the private key associated with pub.
func Verify(pub *ecdsa.PublicKey, hash []byte, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	parsed, err := btcec.ParseDERSignature(sig, Curve())
	if err != nil {
		return false
	}
	return parsed.Verify(hash, (*btcec.PublicKey)(pub))
}

// SignData hashes data with SHA256 and signs the digest.
func SignData(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	return Sign(priv, crypto.SHA256(data))
}

// VerifyData checks a signature produced by SignData against a serialized
// public key. Unparseable keys never verify.
func VerifyData(pubBytes []byte, data []byte, sig []byte) bool {
	pub, err := ToPublicKey(pubBytes)
	if err != nil {
		return false
	}
	return Verify(pub, crypto.SHA256(data), sig)
}
