// Package keys implements the public key cryptography used by the S2 node.
//
// Every participant of the network, be it a master node, a relay or a client,
// owns a secp256k1 key-pair. The public key, in compressed form, is carried in
// handshakes and presences, and the network address of a participant is derived
// from it (see PublicKeyAddress). Signatures are DER-encoded ECDSA signatures
// over the SHA256 hash of the signed bytes.
//
// The curve arithmetic is delegated to btcsuite's btcec package.
package keys
