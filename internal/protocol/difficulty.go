// Package protocol implements the Stratum V1 wire messages (stratum.go) and
// the variable-difficulty controller (this file).
package protocol

import (
	"math"
	"sync"
	"time"

	"github.com/ore-pool/stratum/internal/powverify"
)

// SnapMode controls how a freshly computed difficulty is rounded before it
// is handed to a connection, matching the original daemon's VDIFF_X2_TYPE /
// VDIFF_FLOAT switches.
type SnapMode int

const (
	// SnapFloat keeps the computed difficulty as-is (VDIFF_FLOAT=true).
	SnapFloat SnapMode = iota
	// SnapPowerOfTwo rounds to the nearest power of two (VDIFF_X2_TYPE=true,
	// VDIFF_FLOAT=false): 2, 4, 8, 16, ...
	SnapPowerOfTwo
	// SnapInteger rounds to the nearest integer (both switches false).
	SnapInteger
)

// DifficultyConfig holds VarDiff configuration.
type DifficultyConfig struct {
	InitialDifficulty float64
	MinDifficulty     float64
	MaxDifficulty     float64
	TargetShareTime   time.Duration
	RetargetTime      time.Duration
	VariancePercent   float64
	Snap              SnapMode
}

// VarDiff implements variable difficulty adjustment for miners.
type VarDiff struct {
	config DifficultyConfig
	mu     sync.RWMutex
}

// WorkerDiffState tracks difficulty state for a single worker.
type WorkerDiffState struct {
	CurrentDifficulty float64
	ShareTimes        []time.Time
	LastRetargetTime  time.Time
	TotalShares       int64
	mu                sync.Mutex
}

// NewVarDiff creates a new VarDiff calculator.
func NewVarDiff(cfg DifficultyConfig) *VarDiff {
	return &VarDiff{
		config: cfg,
	}
}

// NewWorkerDiffState creates a new difficulty state for a worker.
func NewWorkerDiffState(initialDiff float64) *WorkerDiffState {
	return &WorkerDiffState{
		CurrentDifficulty: initialDiff,
		ShareTimes:        make([]time.Time, 0, 100),
		LastRetargetTime:  time.Now(),
	}
}

// RecordShare records a share submission time.
func (w *WorkerDiffState) RecordShare(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ShareTimes = append(w.ShareTimes, t)
	w.TotalShares++

	if len(w.ShareTimes) > 100 {
		w.ShareTimes = w.ShareTimes[len(w.ShareTimes)-100:]
	}
}

// GetAverageShareTime calculates the average time between shares.
func (w *WorkerDiffState) GetAverageShareTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.ShareTimes) < 2 {
		return 0
	}

	totalTime := w.ShareTimes[len(w.ShareTimes)-1].Sub(w.ShareTimes[0])
	count := len(w.ShareTimes) - 1

	return totalTime / time.Duration(count)
}

// ShouldRetarget checks if it's time to recalculate difficulty.
func (v *VarDiff) ShouldRetarget(state *WorkerDiffState) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	return time.Since(state.LastRetargetTime) >= v.config.RetargetTime
}

// CalculateNewDifficulty computes the new difficulty for a worker, applying
// the configured SnapMode and the pool's min/max clamp. The second return
// value is false when no retarget is warranted: fewer than two recorded
// shares, average share time already within variance, or a snapped value
// less than 5% away from the current difficulty.
func (v *VarDiff) CalculateNewDifficulty(state *WorkerDiffState) (float64, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.ShareTimes) < 2 {
		return state.CurrentDifficulty, false
	}

	totalTime := state.ShareTimes[len(state.ShareTimes)-1].Sub(state.ShareTimes[0])
	count := len(state.ShareTimes) - 1
	avgShareTime := totalTime / time.Duration(count)

	targetTime := v.config.TargetShareTime
	variance := v.config.VariancePercent / 100.0

	lowerBound := time.Duration(float64(targetTime) * (1 - variance))
	upperBound := time.Duration(float64(targetTime) * (1 + variance))

	if avgShareTime >= lowerBound && avgShareTime <= upperBound {
		return state.CurrentDifficulty, false
	}

	ratio := float64(targetTime) / float64(avgShareTime)
	newDiff := state.CurrentDifficulty * ratio

	maxIncrease := state.CurrentDifficulty * 4
	maxDecrease := state.CurrentDifficulty / 4
	if newDiff > maxIncrease {
		newDiff = maxIncrease
	} else if newDiff < maxDecrease {
		newDiff = maxDecrease
	}

	newDiff = v.snap(newDiff)

	if newDiff < v.config.MinDifficulty {
		newDiff = v.snap(v.config.MinDifficulty)
	} else if newDiff > v.config.MaxDifficulty {
		newDiff = v.snap(v.config.MaxDifficulty)
	}

	if math.Abs(newDiff-state.CurrentDifficulty)/state.CurrentDifficulty < 0.05 {
		return state.CurrentDifficulty, false
	}

	state.CurrentDifficulty = newDiff
	state.LastRetargetTime = time.Now()
	state.ShareTimes = state.ShareTimes[:0]

	return newDiff, true
}

// snap rounds d according to the controller's SnapMode.
func (v *VarDiff) snap(d float64) float64 {
	switch v.config.Snap {
	case SnapPowerOfTwo:
		if d <= 0 {
			return 1
		}
		exp := math.Round(math.Log2(d))
		return math.Pow(2, exp)
	case SnapInteger:
		return math.Round(d)
	default:
		return d
	}
}

// DifficultyToTarget converts pool difficulty to a 32-byte big-endian
// target, delegating to powverify's exact math/big implementation; kept here
// as a thin alias so protocol callers don't need to import powverify
// directly for this one conversion.
func DifficultyToTarget(difficulty float64) []byte {
	return powverify.DifficultyToTarget(difficulty)
}
