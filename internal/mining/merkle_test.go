package mining

import (
	"bytes"
	"testing"

	"github.com/ore-pool/stratum/pkg/crypto"
)

func txHash(seed byte) []byte {
	data := []byte{seed, seed, seed, seed}
	return crypto.DoubleSHA256(data)
}

func TestMerkleBranchConsistentWithFullTree(t *testing.T) {
	coinbaseHash := crypto.DoubleSHA256([]byte("coinbase"))

	for txCount := 0; txCount <= 6; txCount++ {
		var hashes [][]byte
		leaves := [][]byte{coinbaseHash}
		for i := 0; i < txCount; i++ {
			h := txHash(byte(i + 1))
			hashes = append(hashes, h)
			leaves = append(leaves, h)
		}

		branch := BuildMerkleBranch(hashes)
		gotRoot := MerkleRootFromBranch(coinbaseHash, branch)
		wantRoot := crypto.MerkleRoot(leaves)

		if !bytes.Equal(gotRoot, wantRoot) {
			t.Errorf("txCount=%d: merkle root mismatch: got %x, want %x", txCount, gotRoot, wantRoot)
		}
	}
}

func TestBuildMerkleBranchEmpty(t *testing.T) {
	branch := BuildMerkleBranch(nil)
	if branch != nil {
		t.Errorf("expected nil branch for no transactions, got %v", branch)
	}
}
