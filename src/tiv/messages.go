package tiv

import (
	"github.com/mosaicnetworks/s2/src/crypto"
)

// HeaderBatchRequest asks a peer for Count headers starting at From.
type HeaderBatchRequest struct {
	From  uint64
	Count int
}

// HeaderBatch is the answer to a HeaderBatchRequest.
type HeaderBatch struct {
	Headers []*BlockHeader
}

// InclusionProofRequest asks a peer to prove that TxID is part of the block at
// Height.
type InclusionProofRequest struct {
	TxID   string
	Height uint64
}

// InclusionProof proves that TxID is part of the block at Height.
type InclusionProof struct {
	TxID   string
	Height uint64
	Proof  crypto.MerkleProof
}
