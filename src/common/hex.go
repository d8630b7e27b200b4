package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeToString returns the UPPERCASE string representation of hexBytes with
// the 0X prefix
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

// DecodeFromString converts a hex string with 0X prefix to a byte slice. The
// prefix is optional and case-insensitive.
func DecodeFromString(hexString string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(hexString), "0X")
	return hex.DecodeString(trimmed)
}

// Address is the network identity of a participant. It is derived from the
// participant's public key and used as a map key throughout the node.
type Address []byte

// String returns the 0X-prefixed hex form of the address.
func (a Address) String() string {
	return EncodeToString(a)
}

// Equal reports whether both addresses hold the same bytes.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a, other)
}

// Empty reports whether the address is unset.
func (a Address) Empty() bool {
	return len(a) == 0
}
