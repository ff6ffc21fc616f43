package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ore-pool/stratum/internal/protocol"

	"go.uber.org/zap"
)

// newTestManager builds a Manager with nil storage clients. Tests in this
// file must only exercise paths that never touch m.redis/m.postgres: worker
// registration and disconnection round-trip through the real storage
// clients and belong in an integration suite, not here.
func newTestManager() *Manager {
	return NewManager(zap.NewNop(), nil, nil, protocol.DifficultyConfig{
		InitialDifficulty: 2.0,
		MinDifficulty:     0.001,
		MaxDifficulty:     1000000,
		TargetShareTime:   10 * time.Second,
		VariancePercent:   30,
		RetargetTime:      time.Minute,
	})
}

func (m *Manager) putForTest(name string, w *Worker) {
	m.workers.Store(name, w)
}

func TestNewManagerUsesInitialDifficulty(t *testing.T) {
	m := newTestManager()
	if m.initialDiff != 2.0 {
		t.Errorf("initialDiff = %v, want 2.0", m.initialDiff)
	}
}

func TestSetDifficultyUpdatesWorkerAndDiffState(t *testing.T) {
	m := newTestManager()
	w := &Worker{Name: "alice", DiffState: protocol.NewWorkerDiffState(2.0)}
	m.putForTest("alice", w)

	if err := m.SetDifficulty("alice", 8.0); err != nil {
		t.Fatalf("SetDifficulty: %v", err)
	}
	if w.Difficulty != 8.0 {
		t.Errorf("Difficulty = %v, want 8.0", w.Difficulty)
	}
	if w.DiffState.CurrentDifficulty != 8.0 {
		t.Errorf("DiffState.CurrentDifficulty = %v, want 8.0", w.DiffState.CurrentDifficulty)
	}
}

func TestSetDifficultyUnknownWorker(t *testing.T) {
	m := newTestManager()
	if err := m.SetDifficulty("nobody", 4.0); err == nil {
		t.Error("expected an error for an unregistered worker")
	}
}

func TestGetWorkerStats(t *testing.T) {
	m := newTestManager()
	w := &Worker{Name: "bob", ValidShares: 5, InvalidShares: 1, StaleShares: 2, Hashrate: 123.4}
	m.putForTest("bob", w)

	valid, invalid, stale, hashrate := m.GetWorkerStats("bob")
	if valid != 5 || invalid != 1 || stale != 2 || hashrate != 123.4 {
		t.Errorf("got (%d, %d, %d, %v)", valid, invalid, stale, hashrate)
	}
}

func TestGetWorkerStatsUnknownWorker(t *testing.T) {
	m := newTestManager()
	valid, invalid, stale, hashrate := m.GetWorkerStats("ghost")
	if valid != 0 || invalid != 0 || stale != 0 || hashrate != 0 {
		t.Error("expected zero values for an unregistered worker")
	}
}

func TestGetWorkerCountAndGetAllWorkers(t *testing.T) {
	m := newTestManager()
	m.putForTest("a", &Worker{Name: "a"})
	m.putForTest("b", &Worker{Name: "b"})

	if count := m.GetWorkerCount(); count != 2 {
		t.Errorf("GetWorkerCount() = %d, want 2", count)
	}
	if all := m.GetAllWorkers(); len(all) != 2 {
		t.Errorf("GetAllWorkers() returned %d workers, want 2", len(all))
	}
}

func TestGetWorker(t *testing.T) {
	m := newTestManager()
	w := &Worker{Name: "carol"}
	m.putForTest("carol", w)

	if got := m.GetWorker("carol"); got != w {
		t.Error("GetWorker did not return the stored worker")
	}
	if got := m.GetWorker("missing"); got != nil {
		t.Error("GetWorker should return nil for an unknown worker")
	}
}

func TestCheckVarDiffNoRetargetBeforeInterval(t *testing.T) {
	m := newTestManager()
	w := &Worker{Name: "dave", DiffState: protocol.NewWorkerDiffState(2.0)}
	m.putForTest("dave", w)

	if got := m.CheckVarDiff(context.Background(), "dave"); got != 0 {
		t.Errorf("CheckVarDiff = %v, want 0 before the retarget interval elapses", got)
	}
}

func TestUpdateHashrateComputesFromAverageShareTime(t *testing.T) {
	m := newTestManager()
	w := &Worker{Name: "erin", Difficulty: 1.0, DiffState: protocol.NewWorkerDiffState(1.0)}

	now := time.Now()
	w.DiffState.RecordShare(now.Add(-10 * time.Second))
	w.DiffState.RecordShare(now)

	m.updateHashrate(w)

	if w.Hashrate <= 0 {
		t.Errorf("expected a positive hashrate estimate, got %v", w.Hashrate)
	}
}
