// Package mining implements the block-template/job/coinbase/merkle
// mechanics and the share validation pipeline: everything in spec §4.1-4.4
// and §4.7 that doesn't require registry-wide state.
package mining

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ore-pool/stratum/pkg/crypto"
)

// TemplateTransaction is one non-coinbase transaction from a daemon block
// template.
type TemplateTransaction struct {
	Hash string // txid, big-endian hex as returned by the daemon
	Data string // raw transaction hex
}

// BlockTemplate is an immutable snapshot of the daemon's current work: the
// fields needed to build jobs and reassemble full blocks. It never mutates
// after construction; NewBlockTemplate is the only way to produce one.
type BlockTemplate struct {
	PreviousBlockHash        string
	Version                  uint32
	Bits                     uint32 // compact network target (nBits)
	CurTime                  uint32
	Height                   int64
	CoinbaseValue            uint64
	DefaultWitnessCommitment string // hex, empty if the daemon didn't supply one
	Transactions             []TemplateTransaction

	mu          sync.Mutex
	txHashesLE  [][]byte // lazily computed, little-endian, coinbase excluded
	merkleCache [][]byte // lazily computed merkle branch
}

// NewBlockTemplate parses a daemon getblocktemplate response into an
// immutable BlockTemplate.
func NewBlockTemplate(prevHash string, version uint32, bits uint32, curTime uint32, height int64, coinbaseValue uint64, witnessCommitment string, txs []TemplateTransaction) *BlockTemplate {
	return &BlockTemplate{
		PreviousBlockHash:        prevHash,
		Version:                  version,
		Bits:                     bits,
		CurTime:                  curTime,
		Height:                   height,
		CoinbaseValue:            coinbaseValue,
		DefaultWitnessCommitment: witnessCommitment,
		Transactions:             txs,
	}
}

// transactionHashesLE returns each transaction's hash reversed to
// little-endian (the byte order merkle hashing expects), computing and
// caching it on first use.
func (t *BlockTemplate) transactionHashesLE() ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.txHashesLE != nil {
		return t.txHashesLE, nil
	}

	hashes := make([][]byte, len(t.Transactions))
	for i, tx := range t.Transactions {
		raw, err := hex.DecodeString(tx.Hash)
		if err != nil {
			return nil, fmt.Errorf("mining: invalid transaction hash %q: %w", tx.Hash, err)
		}
		hashes[i] = reverseCopy(raw)
	}
	t.txHashesLE = hashes
	return hashes, nil
}

func (t *BlockTemplate) merkleBranch() ([][]byte, error) {
	t.mu.Lock()
	if t.merkleCache != nil {
		defer t.mu.Unlock()
		return t.merkleCache, nil
	}
	t.mu.Unlock()

	hashes, err := t.transactionHashesLE()
	if err != nil {
		return nil, err
	}

	branch := BuildMerkleBranch(hashes)

	t.mu.Lock()
	t.merkleCache = branch
	t.mu.Unlock()

	return branch, nil
}

// Job is the (job_id, template, coinbase1, coinbase2, merkle_branch,
// clean_jobs) tuple broadcast to miners over mining.notify.
type Job struct {
	ID             string
	Template       *BlockTemplate
	Coinbase1      string
	Coinbase2      string
	MerkleBranch   []string // hex-encoded, in mining.notify order
	CleanJobs      bool
	CreatedAt      time.Time
}

// BuildJob fills in the coinbase split and merkle branch for this template
// and returns a Job ready to broadcast. jobID is assigned by the caller
// (the template registry owns the monotonic counter).
func (t *BlockTemplate) BuildJob(jobID string, coinbaser *SimpleCoinbaser, extranonce1Len, extranonce2Len int, cleanJobs bool) (*Job, error) {
	cb1, cb2, err := coinbaser.Build(t.Height, t.CoinbaseValue, extranonce1Len+extranonce2Len, t.DefaultWitnessCommitment)
	if err != nil {
		return nil, err
	}

	branch, err := t.merkleBranch()
	if err != nil {
		return nil, err
	}

	hexBranch := make([]string, len(branch))
	for i, b := range branch {
		hexBranch[i] = hex.EncodeToString(b)
	}

	return &Job{
		ID:           jobID,
		Template:     t,
		Coinbase1:    cb1,
		Coinbase2:    cb2,
		MerkleBranch: hexBranch,
		CleanJobs:    cleanJobs,
		CreatedAt:    time.Now(),
	}, nil
}

// PrevHashNotify returns the previous block hash in the 4-byte-word-swapped
// order mining.notify expects on the wire, distinct from the plain byte order
// used internally for header serialization.
func (t *BlockTemplate) PrevHashNotify() (string, error) {
	raw, err := hex.DecodeString(t.PreviousBlockHash)
	if err != nil {
		return "", fmt.Errorf("mining: invalid prevhash: %w", err)
	}
	le := reverseCopy(raw)
	if len(le)%4 != 0 {
		return "", fmt.Errorf("mining: prevhash length %d not a multiple of 4", len(le))
	}
	swapped := make([]byte, len(le))
	for i := 0; i < len(le); i += 4 {
		copy(swapped[i:i+4], []byte{le[i+3], le[i+2], le[i+1], le[i]})
	}
	return hex.EncodeToString(swapped), nil
}

// assembleCoinbase reconstructs the full coinbase transaction bytes from a
// job and the extranonces a client chose.
func assembleCoinbase(job *Job, extranonce1, extranonce2 []byte) ([]byte, error) {
	cb1, err := hex.DecodeString(job.Coinbase1)
	if err != nil {
		return nil, fmt.Errorf("mining: invalid coinbase1: %w", err)
	}
	cb2, err := hex.DecodeString(job.Coinbase2)
	if err != nil {
		return nil, fmt.Errorf("mining: invalid coinbase2: %w", err)
	}

	coinbase := make([]byte, 0, len(cb1)+len(extranonce1)+len(extranonce2)+len(cb2))
	coinbase = append(coinbase, cb1...)
	coinbase = append(coinbase, extranonce1...)
	coinbase = append(coinbase, extranonce2...)
	coinbase = append(coinbase, cb2...)
	return coinbase, nil
}

// SerializeHeader builds the 80-byte block header used for PoW checks from a
// job, a connection's extranonces, and the client-supplied ntime/nonce.
func SerializeHeader(job *Job, extranonce1, extranonce2 []byte, ntime, nonce uint32) ([]byte, error) {
	coinbase, err := assembleCoinbase(job, extranonce1, extranonce2)
	if err != nil {
		return nil, err
	}

	coinbaseHash := crypto.DoubleSHA256(coinbase)

	branch := make([][]byte, len(job.MerkleBranch))
	for i, h := range job.MerkleBranch {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("mining: invalid merkle branch entry: %w", err)
		}
		branch[i] = b
	}

	merkleRoot := MerkleRootFromBranch(coinbaseHash, branch)

	prevHash, err := hex.DecodeString(job.Template.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("mining: invalid prevhash: %w", err)
	}

	header := make([]byte, 80)
	putUint32LE(header[0:4], job.Template.Version)
	copy(header[4:36], reverseCopy(prevHash))
	copy(header[36:68], merkleRoot)
	putUint32LE(header[68:72], ntime)
	putUint32LE(header[72:76], job.Template.Bits)
	putUint32LE(header[76:80], nonce)

	return header, nil
}

// AssembleBlock builds the full block bytes (header + transaction count +
// coinbase + remaining transactions) for daemon submission once a share
// meets the network target.
func AssembleBlock(job *Job, extranonce1, extranonce2 []byte, ntime, nonce uint32) ([]byte, error) {
	header, err := SerializeHeader(job, extranonce1, extranonce2, ntime, nonce)
	if err != nil {
		return nil, err
	}

	coinbase, err := assembleCoinbase(job, extranonce1, extranonce2)
	if err != nil {
		return nil, err
	}

	txCount := 1 + len(job.Template.Transactions)
	block := make([]byte, 0, len(header)+9+len(coinbase)+1024)
	block = append(block, header...)
	block = append(block, encodeVarInt(uint64(txCount))...)
	block = append(block, coinbase...)

	for _, tx := range job.Template.Transactions {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("mining: invalid transaction data for %s: %w", tx.Hash, err)
		}
		block = append(block, raw...)
	}

	return block, nil
}

func reverseCopy(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func putUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func encodeVarInt(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		return []byte{0xfd, byte(n), byte(n >> 8)}
	case n <= 0xffffffff:
		return []byte{0xfe, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	default:
		return []byte{0xff,
			byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24),
			byte(n >> 32), byte(n >> 40), byte(n >> 48), byte(n >> 56),
		}
	}
}
