package keys

import (
	"github.com/btcsuite/btcd/btcec"
)

// Curve returns the secp256k1 curve used by every key of the network.
func Curve() *btcec.KoblitzCurve {
	return btcec.S256()
}
