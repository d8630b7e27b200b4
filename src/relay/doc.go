// Package relay forwards the end-to-end encrypted envelopes exchanged by
// clients through the relay, and throttles them.
//
// The relay never looks inside an envelope payload. It only reads the routing
// header (sender, recipient, id and kind) to find where to forward it. Every
// sender has a quota: a limited number of informational envelopes per data
// envelope, and a limited number of data envelopes before the sender pays the
// relay with a signed postage transaction. When a quota is exhausted the
// sender gets an error envelope instead of silent loss; for the data quota
// that envelope carries the unsigned postage transaction the sender is
// expected to sign and send back.
package relay
