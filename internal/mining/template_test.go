package mining

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ore-pool/stratum/pkg/crypto"
)

func TestPrevHashNotifyWordSwap(t *testing.T) {
	displayHex := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	tmpl := NewBlockTemplate(displayHex, 1, 0x1d00ffff, 0, 0, 0, "", nil)

	notify, err := tmpl.PrevHashNotify()
	if err != nil {
		t.Fatalf("PrevHashNotify: %v", err)
	}
	if notify == displayHex {
		t.Error("word-swapped prevhash should differ from the display-order hash")
	}

	want := reverseThenWordSwap(t, displayHex)
	if notify != want {
		t.Errorf("PrevHashNotify = %s, want %s", notify, want)
	}
}

// reverseThenWordSwap reimplements the documented algorithm independently of
// BlockTemplate.PrevHashNotify, so the test catches a regression in either
// direction rather than just echoing the implementation back at itself.
func reverseThenWordSwap(t *testing.T, displayHex string) string {
	t.Helper()

	raw, err := hex.DecodeString(displayHex)
	if err != nil {
		t.Fatalf("invalid test fixture hex: %v", err)
	}

	le := crypto.ReverseBytes(raw)
	swapped := make([]byte, len(le))
	for i := 0; i < len(le); i += 4 {
		swapped[i], swapped[i+1], swapped[i+2], swapped[i+3] = le[i+3], le[i+2], le[i+1], le[i]
	}
	return hex.EncodeToString(swapped)
}

func TestPrevHashNotifyInvalidHex(t *testing.T) {
	tmpl := NewBlockTemplate("not-hex", 1, 0x1d00ffff, 0, 0, 0, "", nil)
	if _, err := tmpl.PrevHashNotify(); err == nil {
		t.Error("expected an error for invalid prevhash hex")
	}
}

func TestBuildJobUsesTemplateWitnessCommitment(t *testing.T) {
	coinbaser := NewSimpleCoinbaser(CoinbaseConfig{PoolScriptPubKey: "76a914000000000000000000000000000000000000000088ac"})

	displayHex := "0000000000000000000000000000000000000000000000000000000000000000"
	tmpl := NewBlockTemplate(displayHex[:64], 1, 0x1d00ffff, 0, 100, 5000000000, "deadbeef", nil)

	job, err := tmpl.BuildJob("job-1", coinbaser, 4, 4, true)
	if err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if job.Coinbase2 == "" {
		t.Fatal("expected non-empty coinbase2")
	}
	if !strings.Contains(job.Coinbase2, "6a24aa21a9ed"+"deadbeef") {
		t.Error("coinbase2 should carry the template's default witness commitment")
	}
}
