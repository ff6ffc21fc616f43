// Package updater implements the block updater daemon-polling policy (spec
// §4.6): it is the only component that talks to the coin daemon's
// getblocktemplate/submitblock RPCs, turning daemon responses into
// registry.AddTemplate calls on a schedule instead of per-connection.
package updater

import (
	"context"
	"errors"
	"time"

	"github.com/ore-pool/stratum/internal/mining"

	"go.uber.org/zap"
)

// DaemonClient is the narrow RPC surface the updater needs from a coin
// daemon. Implementations live outside this package (an RPC client keyed to
// the coin's getblocktemplate/submitblock dialect); the updater only ever
// sees this interface, in the chimera-pool style of segregating transport
// capabilities into small consumer-defined interfaces.
type DaemonClient interface {
	GetBlockTemplate(ctx context.Context) (*mining.BlockTemplate, error)
	SubmitBlock(ctx context.Context, blockHex string) error
}

// TemplateSink is the registry capability the updater pushes new templates
// into. Satisfied by *registry.Registry.
type TemplateSink interface {
	AddTemplate(tmpl *mining.BlockTemplate, clean bool) (*mining.Job, error)
}

// Config tunes the updater's polling cadence, named after the daemon-polling
// knobs a pool operator sets per coin.
type Config struct {
	// PrevHashRefresh is how often to poll for a new previous-block-hash
	// (a new block found). Set equal to MerkleRefresh when a blocknotify
	// hook already pushes height changes, since polling then only exists
	// as a fallback.
	PrevHashRefresh time.Duration
	// MerkleRefresh is how often to re-fetch the template even without a
	// height change, to pick up new mempool transactions.
	MerkleRefresh time.Duration
	// ForceRefresh is how often a tick is marked forced: a forced poll hands
	// the fetched template to the sink even before MerkleRefresh has
	// elapsed. The sink still skips a template identical to its current one
	// (same previous hash, height and transactions), so an unchanged
	// template does not produce a new job.
	ForceRefresh time.Duration
	// BackoffInitial/BackoffMax bound the exponential backoff applied
	// after consecutive daemon RPC failures.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Updater polls DaemonClient on Config's schedule and pushes templates into
// a TemplateSink.
type Updater struct {
	cfg    Config
	client DaemonClient
	sink   TemplateSink
	logger *zap.Logger

	// BlockNotify, if non-nil, is signalled externally (e.g. by a coin
	// daemon's -blocknotify hook calling back into the pool process) to
	// short-circuit the next poll interval and refresh immediately.
	BlockNotify chan struct{}
}

// New constructs an Updater.
func New(cfg Config, client DaemonClient, sink TemplateSink, logger *zap.Logger) *Updater {
	if cfg.PrevHashRefresh <= 0 {
		cfg.PrevHashRefresh = 5 * time.Second
	}
	if cfg.MerkleRefresh <= 0 {
		cfg.MerkleRefresh = 60 * time.Second
	}
	if cfg.ForceRefresh <= 0 {
		cfg.ForceRefresh = 5 * time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}

	return &Updater{
		cfg:         cfg,
		client:      client,
		sink:        sink,
		logger:      logger.Named("updater"),
		BlockNotify: make(chan struct{}, 1),
	}
}

// Run polls the daemon until ctx is cancelled. It ticks at PrevHashRefresh
// (the tightest interval that matters when no blocknotify hook is wired)
// and polls immediately on BlockNotify signals. A template with a new
// previous-block hash is added with clean=true at once; one on the same
// previous block is added with clean=false once MerkleRefresh has passed
// since the last add, or on a forced tick (see ForceRefresh).
// A failing daemon RPC backs off exponentially up to BackoffMax rather than
// hammering a daemon that's mid-restart or resyncing.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.cfg.PrevHashRefresh)
	defer ticker.Stop()

	lastForce := time.Now()
	lastPrevHash := ""
	lastAdd := time.Now()
	backoff := u.cfg.BackoffInitial

	poll := func(forced bool) {
		tmpl, err := u.client.GetBlockTemplate(ctx)
		if err != nil {
			u.logger.Error("get block template failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > u.cfg.BackoffMax {
				backoff = u.cfg.BackoffMax
			}
			return
		}
		backoff = u.cfg.BackoffInitial

		newBlock := tmpl.PreviousBlockHash != lastPrevHash
		if !newBlock && !forced && time.Since(lastAdd) < u.cfg.MerkleRefresh {
			return
		}

		job, err := u.sink.AddTemplate(tmpl, newBlock)
		if err != nil {
			u.logger.Error("add template failed", zap.Error(err))
			return
		}
		lastPrevHash = tmpl.PreviousBlockHash
		lastAdd = time.Now()
		if job != nil {
			u.logger.Info("template refreshed",
				zap.String("job_id", job.ID),
				zap.Int64("height", tmpl.Height),
				zap.Bool("forced", forced),
			)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.BlockNotify:
			poll(false)
			lastForce = time.Now()
		case <-ticker.C:
			forced := time.Since(lastForce) >= u.cfg.ForceRefresh
			poll(forced)
			if forced {
				lastForce = time.Now()
			}
		}
	}
}

// ErrRejected names a daemon-reported block rejection. No function in this
// package returns it: SubmitBlock passes the client's error through
// unchanged, so a failed RPC and a rejected block are not told apart here.
var ErrRejected = errors.New("updater: daemon rejected block")

// SubmitBlock forwards an assembled block to the daemon and returns the
// client's error as is.
func (u *Updater) SubmitBlock(ctx context.Context, blockHex string) error {
	if err := u.client.SubmitBlock(ctx, blockHex); err != nil {
		return err
	}
	return nil
}
