// Package registry implements the template registry (spec §4.5): the pool of
// live block templates, extranonce1 allocation, job bookkeeping, and the
// job/work log the share pipeline consults before it ever touches proof of
// work. It is the single owner of the job_id counter, the live-extranonce1
// set, and the template history, mutated only from the event loop goroutine
// that calls it (see spec §5 concurrency model).
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ore-pool/stratum/internal/mining"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	jobsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_jobs_generated_total",
		Help: "Total number of jobs generated",
	})
	jobsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_jobs_evicted_total",
		Help: "Total number of jobs evicted by the pruner",
	})
	templatesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_templates_idempotent_skipped_total",
		Help: "Total number of add_template calls that matched the current template and were skipped",
	})
	liveExtranonceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stratum_live_extranonce1_count",
		Help: "Number of currently allocated extranonce1 values",
	})
)

func init() {
	prometheus.MustRegister(jobsGenerated, jobsEvicted, templatesSkipped, liveExtranonceGauge)
}

// ErrJobNotFound is returned by GetJob for an unknown job id.
var ErrJobNotFound = errors.New("registry: job not found")

// ErrExtranonceExhausted is returned when the registry-local counter space
// for extranonce1 allocation has been exhausted; spec §4.5 calls this a
// fatal configuration error.
var ErrExtranonceExhausted = errors.New("registry: extranonce1 space exhausted")

// Subscriber is the capability the registry calls to fan new jobs out to
// connections. Implemented by the server package; the registry never knows
// about connections or transports.
type Subscriber interface {
	NotifyNewJob(job *mining.Job, clean bool)
}

type jobEntry struct {
	template    *mining.BlockTemplate
	job         *mining.Job
	counter     uint64
	seen        map[string]struct{} // dedup keys: "extranonce1:extranonce2:ntime:nonce"
	mu          sync.Mutex
}

// Config carries the registry's static tuning knobs.
type Config struct {
	InstanceID           uint8 // 0..31, top 5 bits of extranonce1
	Extranonce1Size      int   // bytes
	Extranonce2Size      int   // bytes
	WorkExpire           time.Duration
	ForceRefreshInterval time.Duration
}

// Registry is the pool of live block templates and jobs.
type Registry struct {
	cfg       Config
	coinbaser *mining.SimpleCoinbaser
	logger    *zap.Logger

	mu             sync.RWMutex
	current        *mining.BlockTemplate
	jobs           map[string]*jobEntry
	jobOrder       []string // oldest to newest, by creation
	jobCounter     uint64
	cleanBoundary  uint64 // job counter at last clean_jobs=true; older jobs are Stale
	liveExtra      map[string]struct{}
	nextCounter    uint32
	subscribers    []Subscriber

	workMu  sync.Mutex
	workLog map[string]map[string]mining.WorkRecord // extranonce1 -> job_id -> record
}

// New constructs a Registry. coinbaser is used to build each job's
// coinbase1/coinbase2 split.
func New(cfg Config, coinbaser *mining.SimpleCoinbaser, logger *zap.Logger) (*Registry, error) {
	if cfg.InstanceID > 31 {
		return nil, fmt.Errorf("registry: instance id %d out of range [0,31]", cfg.InstanceID)
	}
	if cfg.Extranonce1Size < 1 || cfg.Extranonce1Size*8 <= 5 {
		return nil, fmt.Errorf("registry: extranonce1 size %d too small to carry a 5-bit instance prefix", cfg.Extranonce1Size)
	}

	return &Registry{
		cfg:       cfg,
		coinbaser: coinbaser,
		logger:    logger.Named("registry"),
		jobs:      make(map[string]*jobEntry),
		liveExtra: make(map[string]struct{}),
		workLog:   make(map[string]map[string]mining.WorkRecord),
	}, nil
}

// Subscribe registers a capability that receives notify_new_job events.
func (r *Registry) Subscribe(s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, s)
}

// Extranonce2Size returns the configured extranonce2 byte length.
func (r *Registry) Extranonce2Size() int {
	return r.cfg.Extranonce2Size
}

// AddTemplate creates a Job from tmpl, advances the job counter, stores it,
// evicts jobs older than WorkExpire, and broadcasts it to subscribers. If an
// identical template (same previous hash and transaction set) is already
// current, no new job is created or broadcast (spec testable property 7).
func (r *Registry) AddTemplate(tmpl *mining.BlockTemplate, clean bool) (*mining.Job, error) {
	r.mu.Lock()

	if r.current != nil && templatesEqual(r.current, tmpl) {
		r.mu.Unlock()
		templatesSkipped.Inc()
		return nil, nil
	}

	r.jobCounter++
	jobID := fmt.Sprintf("%x", r.jobCounter)
	counter := r.jobCounter

	job, err := tmpl.BuildJob(jobID, r.coinbaser, r.cfg.Extranonce1Size, r.cfg.Extranonce2Size, clean)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: build job: %w", err)
	}

	r.jobs[jobID] = &jobEntry{
		template: tmpl,
		job:      job,
		counter:  counter,
		seen:     make(map[string]struct{}),
	}
	r.jobOrder = append(r.jobOrder, jobID)
	r.current = tmpl

	if clean {
		r.cleanBoundary = counter
	}

	r.evictExpiredLocked()

	subs := append([]Subscriber(nil), r.subscribers...)
	r.mu.Unlock()

	jobsGenerated.Inc()
	r.logger.Info("new job created",
		zap.String("job_id", jobID),
		zap.Int64("height", tmpl.Height),
		zap.Bool("clean_jobs", clean),
	)

	for _, s := range subs {
		s.NotifyNewJob(job, clean)
	}

	return job, nil
}

// evictExpiredLocked removes jobs older than WorkExpire. Must be called with
// r.mu held.
func (r *Registry) evictExpiredLocked() {
	if r.cfg.WorkExpire <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.cfg.WorkExpire)

	kept := r.jobOrder[:0]
	for _, id := range r.jobOrder {
		entry := r.jobs[id]
		if entry.job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			jobsEvicted.Inc()
			continue
		}
		kept = append(kept, id)
	}
	r.jobOrder = kept
}

// GetJob returns the (template, job) pair for a job id.
func (r *Registry) GetJob(jobID string) (*mining.BlockTemplate, *mining.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[jobID]
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	return entry.template, entry.job, nil
}

// IsStale reports whether a job_id has been superseded by a clean_jobs=true
// template (spec §4.5: "If clean, all prior jobs become invalid").
func (r *Registry) IsStale(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.jobs[jobID]
	if !ok {
		return true
	}
	return entry.counter < r.cleanBoundary
}

// CheckAndMarkDuplicate reports whether (extranonce1, extranonce2, ntime,
// nonce) has already been accepted for job_id, and records it if not (spec
// invariant 2).
func (r *Registry) CheckAndMarkDuplicate(jobID, extranonce1, extranonce2, ntime, nonce string) (duplicate bool) {
	r.mu.RLock()
	entry, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	key := extranonce1 + ":" + extranonce2 + ":" + ntime + ":" + nonce

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if _, exists := entry.seen[key]; exists {
		return true
	}
	entry.seen[key] = struct{}{}
	return false
}

// RegisterWork records the difficulty a connection's work was issued under
// for a given job, so later submissions are checked against the target in
// effect at issue time rather than whatever the live vardiff target has
// become (spec invariant 4).
func (r *Registry) RegisterWork(extranonce1, jobID string, difficulty float64) {
	r.workMu.Lock()
	defer r.workMu.Unlock()

	if r.workLog[extranonce1] == nil {
		r.workLog[extranonce1] = make(map[string]mining.WorkRecord)
	}
	r.workLog[extranonce1][jobID] = mining.WorkRecord{
		JobID:      jobID,
		Difficulty: difficulty,
		IssuedAt:   time.Now(),
	}
}

// GetWorkRecord looks up the WorkRecord for (extranonce1, job_id).
func (r *Registry) GetWorkRecord(extranonce1, jobID string) (mining.WorkRecord, bool) {
	r.workMu.Lock()
	defer r.workMu.Unlock()

	byJob, ok := r.workLog[extranonce1]
	if !ok {
		return mining.WorkRecord{}, false
	}
	rec, ok := byJob[jobID]
	return rec, ok
}

// CurrentJob returns the job for the most recently added template, if any.
func (r *Registry) CurrentJob() (*mining.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.jobOrder) == 0 {
		return nil, false
	}
	id := r.jobOrder[len(r.jobOrder)-1]
	entry, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return entry.job, true
}

// templatesEqual reports whether two templates describe the same work: same
// previous hash, height, and transaction set. Bits/curtime/coinbase value can
// legitimately repeat across genuinely new templates, so they aren't part of
// the identity check; transaction set changes (mempool activity) do make a
// template "new" even with the same previous hash.
func templatesEqual(a, b *mining.BlockTemplate) bool {
	if a.PreviousBlockHash != b.PreviousBlockHash || a.Height != b.Height {
		return false
	}
	if len(a.Transactions) != len(b.Transactions) {
		return false
	}
	for i := range a.Transactions {
		if a.Transactions[i].Hash != b.Transactions[i].Hash {
			return false
		}
	}
	return true
}
