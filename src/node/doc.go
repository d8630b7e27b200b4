// Package node implements the reactive part of an S2 node.
//
// A Node serves the connections of its transport. Every connection goes
// through a handshake before anything else is accepted on it:
//
//	Connected -> HelloExchanged -> Authenticated -> EventSubscribed
//
// Handshake
//
// Authoritative nodes (masters and hybrids) are dialed by the S2 node. The
// first hello carries a random challenge; the authoritative node answers with
// a helloWithMetadata carrying the signature of the challenge, its chain tip
// and the address under which it sees us. Once the signature checks out, the
// node asks for a sample of master presences and subscribes to keepalive and
// transaction events.
//
// Clients dial the S2 node. Their first hello is answered with our own hello
// carrying a challenge (and the signature of theirs, if they sent one); the
// client authenticates by sending a second hello with the signature.
//
// Dispatch
//
// Once authenticated, relay envelopes go to the relay engine, headers and
// inclusion proofs to the transaction inclusion verifier, presences and
// keepalives to the directory, and transactions to the verifier and the
// pending manager. A maintenance loop sweeps expired state every second and a
// keepalive loop announces the node's own presence.
package node
