package registry

import (
	"testing"
	"time"

	"github.com/ore-pool/stratum/internal/mining"

	"go.uber.org/zap"
)

func testCoinbaser() *mining.SimpleCoinbaser {
	return mining.NewSimpleCoinbaser(mining.CoinbaseConfig{
		PoolScriptPubKey: "76a914000000000000000000000000000000000000000088ac",
	})
}

func testTemplate(prevHash string, height int64, txs ...mining.TemplateTransaction) *mining.BlockTemplate {
	return mining.NewBlockTemplate(prevHash, 1, 0x1d00ffff, uint32(time.Now().Unix()), height, 5000000000, "", txs)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(Config{
		InstanceID:      1,
		Extranonce1Size: 4,
		Extranonce2Size: 4,
		WorkExpire:      time.Minute,
	}, testCoinbaser(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func TestAllocateExtranonce1Unique(t *testing.T) {
	reg := newTestRegistry(t)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		en1, err := reg.AllocateExtranonce1()
		if err != nil {
			t.Fatalf("AllocateExtranonce1: %v", err)
		}
		if _, exists := seen[en1]; exists {
			t.Fatalf("extranonce1 %s allocated twice", en1)
		}
		seen[en1] = struct{}{}
	}
}

func TestAllocateExtranonce1InstancePrefix(t *testing.T) {
	reg, err := New(Config{
		InstanceID:      5,
		Extranonce1Size: 4,
		Extranonce2Size: 4,
	}, testCoinbaser(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	en1, err := reg.AllocateExtranonce1()
	if err != nil {
		t.Fatalf("AllocateExtranonce1: %v", err)
	}

	firstByte := en1[:2]
	// InstanceID 5 occupies the top 5 bits of the first byte: 5<<3 = 0x28.
	if firstByte != "28" {
		t.Errorf("expected instance prefix 0x28 in first byte, got %s", firstByte)
	}
}

func TestReleaseExtranonce1ClearsLiveMark(t *testing.T) {
	reg := newTestRegistry(t)

	en1, err := reg.AllocateExtranonce1()
	if err != nil {
		t.Fatalf("AllocateExtranonce1: %v", err)
	}
	reg.ReleaseExtranonce1(en1)

	if _, exists := reg.liveExtra[en1]; exists {
		t.Error("extranonce1 should no longer be marked live after release")
	}
}

func TestAddTemplateIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	tmpl := testTemplate("aa", 100)

	job1, err := reg.AddTemplate(tmpl, true)
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if job1 == nil {
		t.Fatal("expected a job for the first template")
	}

	job2, err := reg.AddTemplate(testTemplate("aa", 100), false)
	if err != nil {
		t.Fatalf("AddTemplate (repeat): %v", err)
	}
	if job2 != nil {
		t.Error("expected nil job for an identical repeat template")
	}
}

func TestAddTemplateNewHeightProducesNewJob(t *testing.T) {
	reg := newTestRegistry(t)

	job1, err := reg.AddTemplate(testTemplate("aa", 100), true)
	if err != nil || job1 == nil {
		t.Fatalf("AddTemplate: job=%v err=%v", job1, err)
	}

	job2, err := reg.AddTemplate(testTemplate("bb", 101), true)
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}
	if job2 == nil || job2.ID == job1.ID {
		t.Errorf("expected a distinct job for the new template, got %v", job2)
	}
}

func TestIsStaleAfterCleanJobs(t *testing.T) {
	reg := newTestRegistry(t)

	job1, err := reg.AddTemplate(testTemplate("aa", 100), true)
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}

	if reg.IsStale(job1.ID) {
		t.Fatal("job should not be stale before a clean_jobs boundary passes it")
	}

	if _, err := reg.AddTemplate(testTemplate("bb", 101), true); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}

	if !reg.IsStale(job1.ID) {
		t.Error("job from before a clean_jobs=true template should now be stale")
	}
}

func TestCheckAndMarkDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	job, err := reg.AddTemplate(testTemplate("aa", 100), true)
	if err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}

	if reg.CheckAndMarkDuplicate(job.ID, "en1", "en2", "ntime", "nonce") {
		t.Fatal("first submission should not be a duplicate")
	}
	if !reg.CheckAndMarkDuplicate(job.ID, "en1", "en2", "ntime", "nonce") {
		t.Error("repeated submission with the same fields should be a duplicate")
	}
}

func TestGetJobNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if _, _, err := reg.GetJob("missing"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestWorkRecordRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	reg.RegisterWork("en1", "job1", 42.0)

	rec, ok := reg.GetWorkRecord("en1", "job1")
	if !ok {
		t.Fatal("expected a work record")
	}
	if rec.Difficulty != 42.0 {
		t.Errorf("Difficulty = %v, want 42.0", rec.Difficulty)
	}
}

func TestPruneExpiredWork(t *testing.T) {
	reg := newTestRegistry(t)
	reg.RegisterWork("en1", "job1", 1.0)

	reg.workMu.Lock()
	rec := reg.workLog["en1"]["job1"]
	rec.IssuedAt = time.Now().Add(-time.Hour)
	reg.workLog["en1"]["job1"] = rec
	reg.workMu.Unlock()

	pruned := reg.PruneExpiredWork()
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if _, ok := reg.GetWorkRecord("en1", "job1"); ok {
		t.Error("expired work record should have been pruned")
	}
}

type recordingSubscriber struct {
	jobs []string
}

func (r *recordingSubscriber) NotifyNewJob(job *mining.Job, clean bool) {
	r.jobs = append(r.jobs, job.ID)
}

func TestSubscribersNotifiedOnNewTemplate(t *testing.T) {
	reg := newTestRegistry(t)
	sub := &recordingSubscriber{}
	reg.Subscribe(sub)

	if _, err := reg.AddTemplate(testTemplate("aa", 100), true); err != nil {
		t.Fatalf("AddTemplate: %v", err)
	}

	if len(sub.jobs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sub.jobs))
	}
}
