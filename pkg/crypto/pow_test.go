package crypto

import (
	"bytes"
	"testing"
)

func TestNBitsToTargetRoundTrip(t *testing.T) {
	cases := []uint32{0x1d00ffff, 0x1b0404cb, 0x207fffff}
	for _, bits := range cases {
		target := NBitsToTarget(bits)
		got := TargetToNBits(target)
		if got != bits {
			t.Errorf("NBitsToTarget(%#x) -> TargetToNBits = %#x, want %#x", bits, got, bits)
		}
	}
}

func TestReverseBytesInvolution(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	reversed := ReverseBytes(data)
	twice := ReverseBytes(reversed)
	if !bytes.Equal(data, twice) {
		t.Errorf("ReverseBytes is not its own inverse: got %x, want %x", twice, data)
	}
}

func TestSwapEndian32RejectsWrongLength(t *testing.T) {
	short := []byte{0x01, 0x02}
	if got := SwapEndian32(short); !bytes.Equal(got, short) {
		t.Error("SwapEndian32 should return input unchanged when not 32 bytes")
	}
}

func TestCompareHashes(t *testing.T) {
	a := make([]byte, 32)
	b := make([]byte, 32)
	a[0] = 0x01
	b[0] = 0x02

	if CompareHashes(a, b) >= 0 {
		t.Error("expected a < b")
	}
	if CompareHashes(b, a) <= 0 {
		t.Error("expected b > a")
	}
	if CompareHashes(a, a) != 0 {
		t.Error("expected a == a")
	}
}

func TestHashMeetsTarget(t *testing.T) {
	hash := make([]byte, 32)
	target := make([]byte, 32)
	hash[31] = 5
	target[31] = 10

	if !HashMeetsTarget(hash, target) {
		t.Error("hash below target should meet target")
	}
	if HashMeetsTarget(target, hash) {
		t.Error("hash above target should not meet target")
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := DoubleSHA256([]byte("only tx"))
	root := MerkleRoot([][]byte{leaf})
	if !bytes.Equal(root, leaf) {
		t.Error("single-leaf merkle root should equal the leaf itself")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	root := MerkleRoot(nil)
	if len(root) != 32 {
		t.Errorf("expected 32-byte zero root, got %d bytes", len(root))
	}
	for _, b := range root {
		if b != 0 {
			t.Error("expected all-zero root for empty input")
			break
		}
	}
}

func TestCalculateMerkleRootWithCoinbaseNoBranches(t *testing.T) {
	coinbaseHash := DoubleSHA256([]byte("coinbase"))
	root := CalculateMerkleRootWithCoinbase(coinbaseHash, nil)
	if !bytes.Equal(root, coinbaseHash) {
		t.Error("with no branches, root should equal the coinbase hash")
	}
}
