package protocol

import (
	"testing"
	"time"
)

func recordShares(state *WorkerDiffState, n int, interval time.Duration) {
	base := time.Now().Add(-time.Duration(n) * interval)
	for i := 0; i < n; i++ {
		state.RecordShare(base.Add(time.Duration(i) * interval))
	}
}

func TestCalculateNewDifficultyIncreasesOnFastShares(t *testing.T) {
	cfg := DifficultyConfig{
		TargetShareTime: 10 * time.Second,
		VariancePercent: 30,
		MinDifficulty:   0.001,
		MaxDifficulty:   1000000,
	}
	vd := NewVarDiff(cfg)
	state := NewWorkerDiffState(1.0)
	state.LastRetargetTime = time.Now().Add(-time.Hour)

	recordShares(state, 10, time.Second) // far faster than the 10s target

	newDiff, changed := vd.CalculateNewDifficulty(state)
	if !changed {
		t.Fatal("expected a difficulty change for shares submitted far faster than target")
	}
	if newDiff <= 1.0 {
		t.Errorf("expected difficulty to increase, got %v", newDiff)
	}
}

func TestCalculateNewDifficultyNoChangeWithinVariance(t *testing.T) {
	cfg := DifficultyConfig{
		TargetShareTime: 10 * time.Second,
		VariancePercent: 30,
		MinDifficulty:   0.001,
		MaxDifficulty:   1000000,
	}
	vd := NewVarDiff(cfg)
	state := NewWorkerDiffState(1.0)

	recordShares(state, 10, 10*time.Second) // right on target

	_, changed := vd.CalculateNewDifficulty(state)
	if changed {
		t.Error("expected no difficulty change when share time matches target within variance")
	}
}

func TestCalculateNewDifficultyClampsToMax(t *testing.T) {
	cfg := DifficultyConfig{
		TargetShareTime: 10 * time.Second,
		VariancePercent: 10,
		MinDifficulty:   0.001,
		MaxDifficulty:   2.0,
	}
	vd := NewVarDiff(cfg)
	state := NewWorkerDiffState(1.0)

	recordShares(state, 10, 10*time.Millisecond)

	newDiff, changed := vd.CalculateNewDifficulty(state)
	if !changed {
		t.Fatal("expected a difficulty change")
	}
	if newDiff > cfg.MaxDifficulty {
		t.Errorf("newDiff %v exceeds MaxDifficulty %v", newDiff, cfg.MaxDifficulty)
	}
}

func TestSnapPowerOfTwo(t *testing.T) {
	vd := NewVarDiff(DifficultyConfig{Snap: SnapPowerOfTwo})

	cases := []struct {
		in, want float64
	}{
		{1, 1},
		{3, 4},
		{5, 4},
		{6, 8},
		{100, 128},
	}
	for _, tc := range cases {
		if got := vd.snap(tc.in); got != tc.want {
			t.Errorf("snap(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSnapInteger(t *testing.T) {
	vd := NewVarDiff(DifficultyConfig{Snap: SnapInteger})
	if got := vd.snap(4.6); got != 5 {
		t.Errorf("snap(4.6) = %v, want 5", got)
	}
}

func TestShouldRetargetRespectsInterval(t *testing.T) {
	vd := NewVarDiff(DifficultyConfig{RetargetTime: time.Minute})
	state := NewWorkerDiffState(1.0)

	if vd.ShouldRetarget(state) {
		t.Error("should not retarget immediately after creation")
	}

	state.LastRetargetTime = time.Now().Add(-2 * time.Minute)
	if !vd.ShouldRetarget(state) {
		t.Error("should retarget once RetargetTime has elapsed")
	}
}
