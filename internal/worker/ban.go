package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var workersBanned = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "stratum_workers_banned_total",
	Help: "Total number of worker ban events",
})

func init() {
	prometheus.MustRegister(workersBanned)
}

// BanPolicy configures temporary worker banning, translated from the
// original daemon's ENABLE_WORKER_BANNING/WORKER_*/INVALID_SHARES_* knobs.
type BanPolicy struct {
	Enabled              bool
	CacheTime            time.Duration // window of the invalid-spam counter; the percentage uses the worker's totals since registration
	BanDuration          time.Duration
	InvalidPercent       float64 // ban if invalid/total exceeds this percent
	InvalidSpamThreshold int64   // ban unconditionally after this many invalids inside CacheTime
	AutoAdd              bool    // USERS_AUTOADD; not consulted by mining.authorize
	CheckPassword        bool    // USERS_CHECK_PASSWORD; not consulted by mining.authorize
}

// CheckAndRecordInvalid records an invalid share against a worker's rolling
// counters and bans it if either the invalid-spam threshold or the
// invalid-share percentage is exceeded. Returns true if this call caused a
// ban.
func (m *Manager) CheckAndRecordInvalid(ctx context.Context, name string, policy BanPolicy) (banned bool) {
	if !policy.Enabled {
		return false
	}

	spamCount, err := m.redis.IncrementWorkerInvalidSpam(ctx, name, policy.CacheTime)
	if err != nil {
		m.logger.Warn("failed to track invalid spam counter", zap.String("worker", name), zap.Error(err))
		return false
	}

	if spamCount >= policy.InvalidSpamThreshold {
		m.ban(ctx, name, "invalid share spam", policy.BanDuration)
		return true
	}

	w, ok := m.workers.Load(name)
	if !ok {
		return false
	}
	worker := w.(*Worker)
	worker.mu.RLock()
	valid, invalid := worker.ValidShares, worker.InvalidShares
	worker.mu.RUnlock()

	total := valid + invalid
	if total < policy.InvalidSpamThreshold {
		// Too few samples to judge a ratio; spam threshold above still
		// catches a worker submitting nothing but garbage immediately.
		return false
	}

	invalidPercent := float64(invalid) / float64(total) * 100
	if invalidPercent > policy.InvalidPercent {
		m.ban(ctx, name, fmt.Sprintf("invalid share rate %.1f%% exceeds policy", invalidPercent), policy.BanDuration)
		return true
	}

	return false
}

// IsBanned reports whether a worker name is currently banned, consulting
// Redis so the ban is honored even across reconnects and multiple stratum
// processes sharing the same Redis instance.
func (m *Manager) IsBanned(ctx context.Context, name string) bool {
	banned, err := m.redis.IsWorkerBanned(ctx, name)
	if err != nil {
		m.logger.Warn("failed to check worker ban", zap.String("worker", name), zap.Error(err))
		return false
	}
	return banned
}

func (m *Manager) ban(ctx context.Context, name, reason string, duration time.Duration) {
	if err := m.redis.BanWorker(ctx, name, duration); err != nil {
		m.logger.Error("failed to record ban in redis", zap.String("worker", name), zap.Error(err))
	}
	if err := m.postgres.InsertBan(ctx, name, reason, time.Now().Add(duration)); err != nil {
		m.logger.Error("failed to record ban in postgres", zap.String("worker", name), zap.Error(err))
	}

	workersBanned.Inc()
	m.logger.Warn("worker banned",
		zap.String("worker", name),
		zap.String("reason", reason),
		zap.Duration("duration", duration),
	)
}
