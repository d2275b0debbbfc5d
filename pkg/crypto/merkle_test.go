package crypto

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testAddrs(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		addrs[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}
	return addrs
}

func TestProveAndVerify(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		t.Run(fmt.Sprintf("size_%d", n), func(t *testing.T) {
			addrs := testAddrs(n)
			tree := NewMerkleTree(addrs)
			root := tree.Root()

			for _, addr := range addrs {
				proof, ok := tree.Prove(addr)
				if !ok {
					t.Fatalf("no proof for member %s", addr.Hex())
				}
				if !VerifyProof(root, addr, proof) {
					t.Errorf("proof for %s does not verify", addr.Hex())
				}
			}
		})
	}
}

func TestNonMemberHasNoProof(t *testing.T) {
	tree := NewMerkleTree(testAddrs(4))
	outsider := common.HexToAddress("0xdead000000000000000000000000000000000000")

	if _, ok := tree.Prove(outsider); ok {
		t.Error("got a proof for a non-member")
	}
}

func TestProofRejectedForWrongAddress(t *testing.T) {
	addrs := testAddrs(4)
	tree := NewMerkleTree(addrs)
	root := tree.Root()

	proof, _ := tree.Prove(addrs[0])
	if VerifyProof(root, addrs[1], proof) {
		t.Error("proof for one address verified for another")
	}
}

func TestProofRejectedAgainstWrongRoot(t *testing.T) {
	addrs := testAddrs(4)
	tree := NewMerkleTree(addrs)
	other := NewMerkleTree(testAddrs(5))

	proof, _ := tree.Prove(addrs[0])
	if VerifyProof(other.Root(), addrs[0], proof) {
		t.Error("proof verified against a different tree's root")
	}
}

func TestSingleLeafTree(t *testing.T) {
	addrs := testAddrs(1)
	tree := NewMerkleTree(addrs)

	if tree.Root() != LeafHash(addrs[0]) {
		t.Error("single-leaf root should equal the leaf hash")
	}
	proof, ok := tree.Prove(addrs[0])
	if !ok || len(proof) != 0 {
		t.Errorf("single-leaf proof should be empty, got %d siblings", len(proof))
	}
	if !VerifyProof(tree.Root(), addrs[0], nil) {
		t.Error("empty proof should verify for a single-leaf tree")
	}
}

func TestEmptyTreeRoot(t *testing.T) {
	tree := NewMerkleTree(nil)
	if tree.Root() != (common.Hash{}) {
		t.Error("empty tree root should be the zero hash")
	}
}
