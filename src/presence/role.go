package presence

import "fmt"

// Role is the function a device performs in the network.
type Role uint8

const (
	// RoleUnknown is the zero value. It never appears in a valid address and
	// matches every role when used as a filter.
	RoleUnknown Role = iota
	// RoleMaster nodes hold the full ledger and take part in consensus.
	RoleMaster
	// RoleHybrid nodes hold the full ledger and also relay.
	RoleHybrid
	// RoleRelay nodes are S2 nodes.
	RoleRelay
	// RoleClient devices are end users.
	RoleClient
)

// ParseRole converts the single character role code used by the network.
func ParseRole(c byte) (Role, error) {
	switch c {
	case 'M':
		return RoleMaster, nil
	case 'H':
		return RoleHybrid, nil
	case 'R':
		return RoleRelay, nil
	case 'C':
		return RoleClient, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role code %q", c)
	}
}

// Char returns the single character code of the role.
func (r Role) Char() byte {
	switch r {
	case RoleMaster:
		return 'M'
	case RoleHybrid:
		return 'H'
	case RoleRelay:
		return 'R'
	case RoleClient:
		return 'C'
	default:
		return '?'
	}
}

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "Master"
	case RoleHybrid:
		return "Hybrid"
	case RoleRelay:
		return "Relay"
	case RoleClient:
		return "Client"
	default:
		return "Unknown"
	}
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	return r >= RoleMaster && r <= RoleClient
}

// IsAuthoritative reports whether devices with this role hold the ledger and
// can be trusted as a source of chain data and transaction broadcasts.
func (r Role) IsAuthoritative() bool {
	return r == RoleMaster || r == RoleHybrid
}

// Matches reports whether r satisfies the filter. RoleUnknown matches
// everything.
func (r Role) Matches(filter Role) bool {
	return filter == RoleUnknown || r == filter
}

// AuthoritativeRoles lists the roles that receive transaction broadcasts.
var AuthoritativeRoles = []Role{RoleMaster, RoleHybrid}
