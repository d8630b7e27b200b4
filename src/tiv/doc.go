// Package tiv implements the Transaction Inclusion Verifier.
//
// A relay does not download blocks. Instead it follows the chain of block
// headers, starting from a trusted anchor (or from genesis), and accepts a
// header only if it links to the previously accepted one and carries valid
// signatures. Header batches are accepted atomically: a single broken link
// discards the whole batch and the headers are requested again from another
// peer, so the verified chain never advances partially.
//
// Once the header covering a transaction is verified, the verifier asks for a
// merkle proof that the transaction belongs to that block and checks it
// against the transaction root of the header. A transaction is confirmed at
// most once; duplicated proofs are ignored.
package tiv
