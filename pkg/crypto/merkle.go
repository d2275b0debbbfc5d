package crypto

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Whitelist membership proofs. Leaf = keccak256(address bytes); interior
// nodes hash the byte-wise sorted pair of their children, so a verifier
// needs no left/right direction bits. An odd node at any level is promoted
// unchanged.

// LeafHash hashes an address into its leaf node.
func LeafHash(addr common.Address) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(addr.Bytes()))
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(ethcrypto.Keccak256(a[:], b[:]))
}

// MerkleTree is a whitelist tree built from a fixed address set.
// Levels are stored leaf-first; level 0 holds the leaf hashes in input order.
type MerkleTree struct {
	levels [][]common.Hash
	index  map[common.Hash]int // leaf hash -> position in level 0
}

func NewMerkleTree(addrs []common.Address) *MerkleTree {
	leaves := make([]common.Hash, len(addrs))
	index := make(map[common.Hash]int, len(addrs))
	for i, addr := range addrs {
		leaves[i] = LeafHash(addr)
		index[leaves[i]] = i
	}

	levels := [][]common.Hash{leaves}
	for len(levels[len(levels)-1]) > 1 {
		cur := levels[len(levels)-1]
		next := make([]common.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, hashPair(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
	}

	return &MerkleTree{levels: levels, index: index}
}

// Root returns the tree root, or the zero hash for an empty tree.
func (t *MerkleTree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return common.Hash{}
	}
	return top[0]
}

// Prove returns the sibling path for an address, or false if the address
// is not in the tree.
func (t *MerkleTree) Prove(addr common.Address) ([]common.Hash, bool) {
	pos, ok := t.index[LeafHash(addr)]
	if !ok {
		return nil, false
	}

	var proof []common.Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := pos ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		pos /= 2
	}
	return proof, true
}

// VerifyProof checks a sibling path against a root.
func VerifyProof(root common.Hash, addr common.Address, proof []common.Hash) bool {
	node := LeafHash(addr)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return node == root
}
