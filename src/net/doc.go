// Package net implements the typed message channels used by S2 nodes.
//
// A connection (Conn) carries a stream of framed messages. Each frame starts
// with one byte identifying the MessageKind, followed by the 4-byte big-endian
// length of the payload and the payload itself. Payloads are msgpack documents
// produced by the common package codec; this package never looks inside them.
//
// Inbound frames are delivered to a Handler, one goroutine per connection, so
// that the order of messages on a connection is preserved while connections
// are processed independently. Every connection carries a ConnMeta describing
// what the remote end claimed about itself during the handshake.
//
// There are two transports:
//
// - TCP: a NetworkTransport over plain TCP, used in production
//
// - Inmem: in-memory connections used for testing
//
// The Hub keeps track of live connections and fans messages out to the
// connections whose peers play a given role.
package net
