// Package presence keeps track of the reachable participants of the network.
//
// A Presence describes one network identity: the public key it signs with and
// the list of addresses (one per device) where it can be reached, each tagged
// with the role the device plays: master, hybrid, relay or client. Every
// address is individually signed by the identity, so a presence can be relayed
// by third parties without being forged.
//
// The Directory holds the presences known to the node. Addresses are refreshed
// by keepalives and gossiped presence updates; an update for a device is only
// applied when its timestamp is newer than the stored one, so duplicated and
// reordered deliveries converge to the same state. Addresses that have not been
// refreshed for longer than the freshness TTL are swept, and a presence is
// forgotten when its last address goes.
//
// On the wire, presences travel in chunks (see Presence.Chunks) so that an
// identity with many devices never produces an oversized message.
package presence
