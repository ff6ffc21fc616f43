package mining

import (
	"github.com/ore-pool/stratum/pkg/crypto"
)

// BuildMerkleBranch computes the merkle branch for a coinbase transaction
// given the ordered list of the other transactions' hashes (stratum's
// mining.notify "merkle_branch" field). Each entry is the sibling hash the
// client needs at that level of the tree to fold its own coinbase hash up to
// the merkle root; the branch never changes for a given template, so it is
// computed once per job rather than per share.
//
// The algorithm matches the standard pairwise double-SHA256 tree: at each
// level, if there is an odd number of nodes the last one is duplicated, and
// the sibling of the coinbase (always the leftmost leaf) is recorded before
// folding.
func BuildMerkleBranch(txHashes [][]byte) [][]byte {
	if len(txHashes) == 0 {
		return nil
	}

	// Level 0 is the coinbase placeholder (nil, never hashed) followed by
	// the supplied transaction hashes.
	level := make([][]byte, 0, len(txHashes)+1)
	level = append(level, nil)
	level = append(level, txHashes...)

	branch := make([][]byte, 0, len(txHashes))

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		// The coinbase is always at index 0; its sibling at this level is
		// the next entry in the branch.
		branch = append(branch, level[1])

		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			if left == nil {
				// Coinbase hash isn't known yet; placeholder carries
				// forward until MerkleRootFromBranch supplies it.
				next[i/2] = nil
				continue
			}
			combined := make([]byte, 64)
			copy(combined[0:32], left)
			copy(combined[32:64], right)
			next[i/2] = crypto.DoubleSHA256(combined)
		}
		level = next
	}

	return branch
}

// MerkleRootFromBranch folds a coinbase hash through a previously computed
// merkle branch to produce the block's merkle root. This is the operation a
// miner performs locally and the operation the share pipeline repeats to
// verify a submission.
func MerkleRootFromBranch(coinbaseHash []byte, branch [][]byte) []byte {
	return crypto.CalculateMerkleRootWithCoinbase(coinbaseHash, branch)
}
