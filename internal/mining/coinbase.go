package mining

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CoinbaseConfig configures how SimpleCoinbaser builds the coinbase
// transaction split for a job.
type CoinbaseConfig struct {
	// PoolScriptPubKey is the hex-encoded output script paying the pool's
	// reward address (from the central wallet address).
	PoolScriptPubKey string
	// Extras is an optional signature string appended to the coinbase
	// script-sig (pool tag / arbitrary data).
	Extras string
	// AppendTxComment, when true, appends Comment to the coinbase
	// script-sig after Extras, truncated before the BIP34 height is ever
	// touched.
	AppendTxComment bool
	Comment         string
}

// maxCoinbaseScriptSig is the network-wide limit on a coinbase input's
// script-sig length (100 bytes per Bitcoin consensus rules).
const maxCoinbaseScriptSig = 100

// SimpleCoinbaser builds the (coinbase1, coinbase2) split described in
// spec §4.3: the server emits each half once per job, and every client
// fills in extranonce1||extranonce2 between them, so the pool never
// materializes a full coinbase per connection.
type SimpleCoinbaser struct {
	cfg CoinbaseConfig
}

// NewSimpleCoinbaser constructs a coinbase builder from the pool's reward
// configuration.
func NewSimpleCoinbaser(cfg CoinbaseConfig) *SimpleCoinbaser {
	return &SimpleCoinbaser{cfg: cfg}
}

// Build returns (coinbase1, coinbase2) hex strings such that
// coinbase1 || extranonce1 || extranonce2 || coinbase2 is a complete,
// well-formed coinbase transaction. witnessCommitment is the current
// template's default_witness_commitment (it depends on the block's actual
// transaction set, so it is supplied per call rather than fixed in cfg).
func (c *SimpleCoinbaser) Build(height int64, coinbaseValue uint64, extranonceLen int, witnessCommitment string) (coinbase1, coinbase2 string, err error) {
	heightScript := encodeHeight(height)

	extra := c.cfg.Extras
	if c.cfg.AppendTxComment && c.cfg.Comment != "" {
		extra += c.cfg.Comment
	}

	// Truncate extras (never the BIP34 height prefix) to keep the total
	// script-sig within network limits.
	heightLen := len(heightScript) / 2
	fixedOverhead := heightLen + extranonceLen
	maxExtra := maxCoinbaseScriptSig - fixedOverhead
	if maxExtra < 0 {
		return "", "", fmt.Errorf("mining: coinbase script overflow: height+extranonce alone exceed %d bytes", maxCoinbaseScriptSig)
	}
	if len(extra) > maxExtra {
		extra = extra[:maxExtra]
	}

	scriptLen := heightLen + extranonceLen + len(extra)

	cb1 := "01000000" // version, little-endian
	cb1 += "01"        // input count
	cb1 += "0000000000000000000000000000000000000000000000000000000000000000"
	cb1 += "ffffffff"
	cb1 += fmt.Sprintf("%02x", scriptLen)
	cb1 += heightScript

	cb2 := hex.EncodeToString([]byte(extra))
	cb2 += "ffffffff" // sequence

	outputs := []string{}

	rewardOut := fmt.Sprintf("%016x", reverseBytes64(coinbaseValue))
	pkScript := c.cfg.PoolScriptPubKey
	if pkScript == "" {
		pkScript = "76a914" + "0000000000000000000000000000000000000000" + "88ac"
	}
	rewardOut += fmt.Sprintf("%02x", len(pkScript)/2) + pkScript
	outputs = append(outputs, rewardOut)

	if witnessCommitment != "" {
		witnessScript := "6a24aa21a9ed" + witnessCommitment
		witnessOut := "0000000000000000"
		witnessOut += fmt.Sprintf("%02x", len(witnessScript)/2) + witnessScript
		outputs = append(outputs, witnessOut)
	}

	cb2 += fmt.Sprintf("%02x", len(outputs))
	for _, out := range outputs {
		cb2 += out
	}
	cb2 += "00000000" // locktime

	return cb1, cb2, nil
}

// encodeHeight encodes a block height as a BIP34 script push.
func encodeHeight(height int64) string {
	if height < 17 {
		return fmt.Sprintf("%02x", height+0x50)
	}

	heightBytes := make([]byte, 0, 8)
	h := height
	for h > 0 {
		heightBytes = append(heightBytes, byte(h&0xff))
		h >>= 8
	}

	return fmt.Sprintf("%02x%s", len(heightBytes), hex.EncodeToString(heightBytes))
}

// reverseBytes64 reverses byte order for a 64-bit value, used to emit
// little-endian satoshi amounts.
func reverseBytes64(v uint64) uint64 {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	reversed := make([]byte, 8)
	for i := range buf {
		reversed[i] = buf[len(buf)-1-i]
	}
	return binary.BigEndian.Uint64(reversed)
}
