package presence

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

// KeepAliveVersion is the current keepalive payload version.
const KeepAliveVersion = 1

// KeepAlive refreshes a single address of an identity. Its signature covers the
// same fields as the address signature, so an accepted keepalive is stored as
// is in the directory.
type KeepAlive struct {
	Version   int
	Identity  common.Address
	PublicKey []byte
	DeviceID  string
	Timestamp int64
	Endpoint  string
	Role      Role
	Signature []byte
}

// NewKeepAlive builds and signs a keepalive for the device.
func NewKeepAlive(priv *ecdsa.PrivateKey, deviceID, endpoint string, role Role, timestamp int64) (*KeepAlive, error) {
	pub := keys.FromPublicKey(&priv.PublicKey)
	ka := &KeepAlive{
		Version:   KeepAliveVersion,
		Identity:  keys.PublicKeyAddress(pub),
		PublicKey: pub,
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Endpoint:  endpoint,
		Role:      role,
	}

	addr := ka.Address()
	if err := addr.Sign(ka.Identity, priv); err != nil {
		return nil, err
	}
	ka.Signature = addr.Signature

	return ka, nil
}

// Address returns the presence address announced by the keepalive.
func (k *KeepAlive) Address() *Address {
	return &Address{
		DeviceID:  k.DeviceID,
		Endpoint:  k.Endpoint,
		Role:      k.Role,
		LastSeen:  k.Timestamp,
		Signature: k.Signature,
	}
}

// Verify checks the identity binding and the signature.
func (k *KeepAlive) Verify() error {
	if !k.Identity.Equal(keys.PublicKeyAddress(k.PublicKey)) {
		return common.NewProtocolErr(common.Verification, "keepalive identity %v does not match its public key", k.Identity)
	}
	if !k.Address().Verify(k.Identity, k.PublicKey) {
		return common.NewProtocolErr(common.Verification, "invalid keepalive signature from %v", k.Identity)
	}
	return nil
}

// Marshal returns the msgpack encoding of the keepalive.
func (k *KeepAlive) Marshal() ([]byte, error) {
	return common.Encode(k)
}

// UnmarshalKeepAlive decodes a keepalive produced by Marshal.
func UnmarshalKeepAlive(data []byte) (*KeepAlive, error) {
	var k KeepAlive
	if err := common.Decode(data, &k); err != nil {
		return nil, common.NewProtocolErr(common.Malformed, "keepalive: %v", err)
	}
	return &k, nil
}
