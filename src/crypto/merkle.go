package crypto

import (
	"bytes"
	"fmt"
)

// MerkleProof proves that a leaf is part of the tree whose root is carried by
// a block header. Siblings are ordered from the leaf level up to the level
// below the root.
type MerkleProof struct {
	Index    int
	Siblings [][]byte
}

// MerkleRoot computes the root of a binary SHA256 merkle tree over leaves. When
// a level has an odd number of nodes the last one is paired with itself. The
// root of an empty tree is nil and the root of a single leaf is the leaf.
func MerkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return nil
	}

	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// BuildMerkleProof returns the proof of membership of the leaf at index.
func BuildMerkleProof(leaves [][]byte, index int) (*MerkleProof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, len(leaves))
	}

	proof := &MerkleProof{Index: index}

	level := leaves
	pos := index
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos
		}
		proof.Siblings = append(proof.Siblings, level[sibling])
		level = nextLevel(level)
		pos /= 2
	}

	return proof, nil
}

// VerifyMerkleProof checks that leaf, combined with the proof siblings, hashes
// up to root.
func VerifyMerkleProof(root []byte, leaf []byte, proof *MerkleProof) bool {
	if proof == nil || proof.Index < 0 || len(root) == 0 {
		return false
	}
	if proof.Index >= 1<<uint(len(proof.Siblings)) {
		return false
	}

	cur := leaf
	pos := proof.Index
	for _, sibling := range proof.Siblings {
		if pos%2 == 0 {
			cur = HashPair(cur, sibling)
		} else {
			cur = HashPair(sibling, cur)
		}
		pos /= 2
	}

	return bytes.Equal(cur, root)
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, HashPair(left, right))
	}
	return next
}
