// Package powverify hashes serialized block headers and checks the result
// against a compact network target or a connection's share target. It is the
// only place in the repo that knows how to turn a hash into a difficulty
// number, so the vardiff and share pipelines stay algorithm-agnostic.
package powverify

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/ore-pool/stratum/pkg/crypto"

	"golang.org/x/crypto/scrypt"
)

// ErrInvalidAlgorithm is returned by Get for an unregistered algorithm id.
var ErrInvalidAlgorithm = errors.New("powverify: invalid algorithm")

// ErrAlgorithmUnavailable is returned by Hash for an algorithm that is
// registered (known by name) but has no implementation compiled in.
var ErrAlgorithmUnavailable = errors.New("powverify: algorithm unavailable")

// diff1Target is the big.Int for Bitcoin-style "difficulty 1", the target a
// compact bits of 0x1d00ffff expands to.
var diff1Target = func() *big.Int {
	n := new(big.Int)
	n.SetString("00000000FFFF0000000000000000000000000000000000000000000000000000", 16)
	return n
}()

// Algorithm hashes an 80-byte block header and reports shares/blocks against
// a compact network target.
type Algorithm interface {
	// Hash returns the 32-byte digest of header in the byte order the hash
	// function produces it, which proof-of-work reads as a little-endian
	// integer (last byte most significant).
	Hash(header []byte) ([]byte, error)
	// MeetsTarget reports whether digest (little-endian) is <= the target
	// expanded from compactBits.
	MeetsTarget(digest []byte, compactBits uint32) bool
	// ShareDifficulty reports the difficulty represented by digest, for
	// logging/accounting purposes.
	ShareDifficulty(digest []byte) float64
}

var registry = map[string]Algorithm{
	"sha256d": sha256dAlgorithm{},
	"scrypt":  scryptAlgorithm{},
	"x11":     unavailableAlgorithm{name: "x11"},
}

// Get returns the Algorithm registered under id.
func Get(id string) (Algorithm, error) {
	algo, ok := registry[id]
	if !ok {
		return nil, ErrInvalidAlgorithm
	}
	return algo, nil
}

// digestBigInt reads a little-endian 32-byte digest as a big-endian integer,
// the convention used throughout Bitcoin-derived proof-of-work: hashes are
// produced and compared as 256-bit numbers with the hash's last byte most
// significant.
func digestBigInt(digest []byte) *big.Int {
	return new(big.Int).SetBytes(crypto.ReverseBytes(digest))
}

func meetsTarget(digest []byte, compactBits uint32) bool {
	target := new(big.Int).SetBytes(crypto.NBitsToTarget(compactBits))
	return digestBigInt(digest).Cmp(target) <= 0
}

func shareDifficulty(digest []byte) float64 {
	value := digestBigInt(digest)
	if value.Sign() == 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(diff1Target, value)
	f, _ := ratio.Float64()
	return f
}

type sha256dAlgorithm struct{}

func (sha256dAlgorithm) Hash(header []byte) ([]byte, error) {
	if len(header) != 80 {
		return nil, errors.New("powverify: header must be 80 bytes")
	}
	first := sha256.Sum256(header)
	second := sha256.Sum256(first[:])
	return second[:], nil
}

func (sha256dAlgorithm) MeetsTarget(digest []byte, compactBits uint32) bool {
	return meetsTarget(digest, compactBits)
}

func (sha256dAlgorithm) ShareDifficulty(digest []byte) float64 {
	return shareDifficulty(digest)
}

// scryptAlgorithm implements the Litecoin-style scrypt(1024,1,1) KDF used as
// proof-of-work by scrypt-based coins.
type scryptAlgorithm struct{}

func (scryptAlgorithm) Hash(header []byte) ([]byte, error) {
	if len(header) != 80 {
		return nil, errors.New("powverify: header must be 80 bytes")
	}
	digest, err := scrypt.Key(header, header, 1024, 1, 1, 32)
	if err != nil {
		return nil, err
	}
	return digest, nil
}

func (scryptAlgorithm) MeetsTarget(digest []byte, compactBits uint32) bool {
	return meetsTarget(digest, compactBits)
}

func (scryptAlgorithm) ShareDifficulty(digest []byte) float64 {
	return shareDifficulty(digest)
}

// unavailableAlgorithm is registered under a known name so config validation
// can distinguish "unknown algorithm id" from "known but not linked in this
// build", without requiring an x11 implementation anywhere in the module.
type unavailableAlgorithm struct{ name string }

func (u unavailableAlgorithm) Hash(header []byte) ([]byte, error) {
	return nil, ErrAlgorithmUnavailable
}

func (u unavailableAlgorithm) MeetsTarget(digest []byte, compactBits uint32) bool {
	return false
}

func (u unavailableAlgorithm) ShareDifficulty(digest []byte) float64 {
	return 0
}

// MeetsShareDifficulty reports whether digest (as returned by an
// Algorithm's Hash) satisfies the target implied by a connection's share
// difficulty. Used by the share pipeline instead of MeetsTarget, which only
// understands compact network bits.
func MeetsShareDifficulty(digest []byte, difficulty float64) bool {
	target := new(big.Int).SetBytes(DifficultyToTarget(difficulty))
	return digestBigInt(digest).Cmp(target) <= 0
}

// DifficultyToTarget converts a pool difficulty to a 32-byte big-endian
// target, i.e. the inverse of ShareDifficulty, using exact rational
// arithmetic so high difficulties don't drift the way float math would.
func DifficultyToTarget(difficulty float64) []byte {
	if difficulty <= 0 {
		difficulty = 1
	}

	rat := new(big.Rat).SetFloat64(difficulty)
	if rat == nil {
		rat = big.NewRat(1, 1)
	}

	targetRat := new(big.Rat).Quo(new(big.Rat).SetInt(diff1Target), rat)
	target := new(big.Int).Quo(targetRat.Num(), targetRat.Denom())

	buf := make([]byte, 32)
	target.FillBytes(buf)
	return buf
}
