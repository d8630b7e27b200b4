package presence

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/s2/src/common"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

const (
	// MaxDeviceIDLength bounds the device id of an address.
	MaxDeviceIDLength = 64
	// MaxEndpointLength bounds the endpoint of an address.
	MaxEndpointLength = 256
)

// Address is one reachable device of an identity.
type Address struct {
	DeviceID  string
	Endpoint  string
	Role      Role
	LastSeen  int64
	Signature []byte
}

// signedBytes returns the bytes covered by the address signature.
func signedBytes(identity common.Address, deviceID string, lastSeen int64, endpoint string, role Role) ([]byte, error) {
	return common.Encode([]interface{}{
		[]byte(identity),
		deviceID,
		lastSeen,
		endpoint,
		uint8(role),
	})
}

// Sign signs the address on behalf of identity.
func (a *Address) Sign(identity common.Address, priv *ecdsa.PrivateKey) error {
	data, err := signedBytes(identity, a.DeviceID, a.LastSeen, a.Endpoint, a.Role)
	if err != nil {
		return err
	}
	sig, err := keys.SignData(priv, data)
	if err != nil {
		return err
	}
	a.Signature = sig
	return nil
}

// Verify checks the address signature against the public key of identity.
func (a *Address) Verify(identity common.Address, pubKey []byte) bool {
	if !a.Role.Valid() || a.DeviceID == "" {
		return false
	}
	if len(a.DeviceID) > MaxDeviceIDLength || len(a.Endpoint) > MaxEndpointLength {
		return false
	}
	data, err := signedBytes(identity, a.DeviceID, a.LastSeen, a.Endpoint, a.Role)
	if err != nil {
		return false
	}
	return keys.VerifyData(pubKey, data, a.Signature)
}

func (a *Address) clone() *Address {
	c := *a
	c.Signature = append([]byte(nil), a.Signature...)
	return &c
}

// Presence lists the addresses of a network identity.
type Presence struct {
	Identity  common.Address
	PublicKey []byte
	Addresses []*Address
}

// NewPresence creates an empty presence for the given public key.
func NewPresence(pubKey []byte) *Presence {
	return &Presence{
		Identity:  keys.PublicKeyAddress(pubKey),
		PublicKey: pubKey,
	}
}

// Address returns the address registered for deviceID, or nil.
func (p *Presence) Address(deviceID string) *Address {
	for _, a := range p.Addresses {
		if a.DeviceID == deviceID {
			return a
		}
	}
	return nil
}

// HasRole reports whether at least one address carries the role. RoleUnknown
// matches any presence with an address.
func (p *Presence) HasRole(role Role) bool {
	for _, a := range p.Addresses {
		if a.Role.Matches(role) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Presence) Clone() *Presence {
	c := &Presence{
		Identity:  append(common.Address(nil), p.Identity...),
		PublicKey: append([]byte(nil), p.PublicKey...),
		Addresses: make([]*Address, 0, len(p.Addresses)),
	}
	for _, a := range p.Addresses {
		c.Addresses = append(c.Addresses, a.clone())
	}
	return c
}

// VerifyIdentity checks that the identity is derived from the public key and
// that device ids are unique. Address signatures are checked separately.
func (p *Presence) VerifyIdentity() error {
	if len(p.PublicKey) == 0 {
		return common.NewProtocolErr(common.Verification, "presence %v has no public key", p.Identity)
	}
	if !p.Identity.Equal(keys.PublicKeyAddress(p.PublicKey)) {
		return common.NewProtocolErr(common.Verification, "presence %v does not match its public key", p.Identity)
	}
	seen := make(map[string]bool, len(p.Addresses))
	for _, a := range p.Addresses {
		if seen[a.DeviceID] {
			return common.NewProtocolErr(common.Verification, "presence %v lists device %s twice", p.Identity, a.DeviceID)
		}
		seen[a.DeviceID] = true
	}
	return nil
}

// Equivalent reports whether both presences describe the same identity with
// the same set of addresses, regardless of order.
func (p *Presence) Equivalent(other *Presence) bool {
	if other == nil || !p.Identity.Equal(other.Identity) || len(p.Addresses) != len(other.Addresses) {
		return false
	}
	for _, a := range p.Addresses {
		b := other.Address(a.DeviceID)
		if b == nil ||
			b.Endpoint != a.Endpoint ||
			b.Role != a.Role ||
			b.LastSeen != a.LastSeen {
			return false
		}
	}
	return true
}

// Marshal returns the msgpack encoding of the presence.
func (p *Presence) Marshal() ([]byte, error) {
	return common.Encode(p)
}

// Unmarshal decodes a presence produced by Marshal.
func Unmarshal(data []byte) (*Presence, error) {
	var p Presence
	if err := common.Decode(data, &p); err != nil {
		return nil, common.NewProtocolErr(common.Malformed, "presence: %v", err)
	}
	return &p, nil
}

// Chunks splits the presence into encoded chunks holding at most maxAddresses
// addresses each. Every chunk is a complete presence on its own.
func (p *Presence) Chunks(maxAddresses int) ([][]byte, error) {
	if maxAddresses <= 0 {
		return nil, fmt.Errorf("maxAddresses must be positive, got %d", maxAddresses)
	}

	var chunks [][]byte
	for start := 0; start == 0 || start < len(p.Addresses); start += maxAddresses {
		end := start + maxAddresses
		if end > len(p.Addresses) {
			end = len(p.Addresses)
		}
		part := &Presence{
			Identity:  p.Identity,
			PublicKey: p.PublicKey,
			Addresses: p.Addresses[start:end],
		}
		data, err := part.Marshal()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, data)
	}

	return chunks, nil
}

// FromChunks rebuilds a presence from the chunks produced by Chunks. When two
// chunks carry the same device the most recent address is kept.
func FromChunks(chunks [][]byte) (*Presence, error) {
	if len(chunks) == 0 {
		return nil, common.NewProtocolErr(common.Malformed, "no presence chunks")
	}

	var res *Presence
	for i, data := range chunks {
		part, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &Presence{
				Identity:  part.Identity,
				PublicKey: part.PublicKey,
			}
		} else if !res.Identity.Equal(part.Identity) {
			return nil, common.NewProtocolErr(common.Malformed, "chunk %d belongs to %v, expected %v", i, part.Identity, res.Identity)
		}

		for _, a := range part.Addresses {
			existing := res.Address(a.DeviceID)
			switch {
			case existing == nil:
				res.Addresses = append(res.Addresses, a)
			case a.LastSeen > existing.LastSeen:
				*existing = *a
			}
		}
	}

	return res, nil
}
