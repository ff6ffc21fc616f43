package mining

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestCoinbaseSpliceWellFormed(t *testing.T) {
	c := NewSimpleCoinbaser(CoinbaseConfig{
		PoolScriptPubKey: "76a914000000000000000000000000000000000000000088ac",
		Extras:           "/ore-pool/",
	})

	cb1, cb2, err := c.Build(123456, 5000000000, 8, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	extranonce := strings.Repeat("ab", 8)
	full := cb1 + extranonce + cb2

	raw, err := hex.DecodeString(full)
	if err != nil {
		t.Fatalf("spliced coinbase is not valid hex: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("spliced coinbase is empty")
	}

	// version (4 bytes) + input count (1 byte)
	if full[:8] != "01000000" || full[8:10] != "01" {
		t.Errorf("unexpected coinbase prefix: %s", full[:10])
	}
	if !strings.HasSuffix(cb2, "00000000") {
		t.Errorf("coinbase2 should end in the locktime bytes")
	}
}

func TestCoinbaseWitnessCommitmentPerCall(t *testing.T) {
	c := NewSimpleCoinbaser(CoinbaseConfig{PoolScriptPubKey: "76a914000000000000000000000000000000000000000088ac"})

	_, withoutCommit, err := c.Build(100, 5000000000, 8, "")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, withCommit, err := c.Build(100, 5000000000, 8, "aabbccdd")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if withoutCommit == withCommit {
		t.Error("witness commitment should change coinbase2 between templates")
	}
	if !strings.Contains(withCommit, "6a24aa21a9ed") {
		t.Error("coinbase2 with a witness commitment should carry the OP_RETURN witness marker")
	}
	if strings.Contains(withoutCommit, "6a24aa21a9ed") {
		t.Error("coinbase2 without a witness commitment should not carry the witness marker")
	}
}

func TestEncodeHeightBIP34(t *testing.T) {
	cases := []struct {
		height int64
		want   string
	}{
		{0, "50"},
		{16, "60"},
		{17, "0111"},
		{255, "01ff"},
		{256, "020001"},
	}
	for _, tc := range cases {
		got := encodeHeight(tc.height)
		if got != tc.want {
			t.Errorf("encodeHeight(%d) = %q, want %q", tc.height, got, tc.want)
		}
	}
}

func TestCoinbaseExtrasTruncatedOnOverflow(t *testing.T) {
	c := NewSimpleCoinbaser(CoinbaseConfig{
		PoolScriptPubKey: "76a914000000000000000000000000000000000000000088ac",
		Extras:           strings.Repeat("ff", 200),
	})

	_, _, err := c.Build(1, 5000000000, 8, "")
	if err != nil {
		t.Fatalf("Build should truncate extras rather than error: %v", err)
	}
}
