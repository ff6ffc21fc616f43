package mining

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ore-pool/stratum/internal/powverify"
	"github.com/ore-pool/stratum/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	sharesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratum_shares_total",
		Help: "Total number of shares submitted",
	}, []string{"outcome"})

	shareProcessingTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratum_share_processing_seconds",
		Help:    "Share processing time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
	})

	blocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratum_blocks_found_total",
		Help: "Total number of blocks found",
	})
)

func init() {
	prometheus.MustRegister(sharesTotal, shareProcessingTime, blocksFound)
}

// WorkRecord is the difficulty and job a connection's work was issued under,
// keyed by (extranonce1, job_id). Per spec invariant 4, the target applied to
// a share is the one in effect when its WorkRecord was created, not whatever
// the connection's live vardiff target has since become. Owned by this
// package (rather than the registry that stores it) so both registry and
// share pipeline can depend on it without an import cycle between them.
type WorkRecord struct {
	JobID      string
	Difficulty float64
	IssuedAt   time.Time
}

// JobSource is the registry capability the share pipeline needs: job/template
// lookup, staleness and duplicate checks, and work-record bookkeeping. A
// narrow, consumer-defined interface (chimera-pool's interface-segregation
// style) so this package never imports the registry that implements it.
type JobSource interface {
	GetJob(jobID string) (*BlockTemplate, *Job, error)
	IsStale(jobID string) bool
	CheckAndMarkDuplicate(jobID, extranonce1, extranonce2, ntime, nonce string) bool
	GetWorkRecord(extranonce1, jobID string) (WorkRecord, bool)
}

// BlockSubmitter forwards an assembled block to the coin daemon. Satisfied
// by *updater.Updater.
type BlockSubmitter interface {
	SubmitBlock(ctx context.Context, blockHex string) error
}

// OutcomeKind tags the result of a submit_share call (spec §4.5's Outcome
// tagged union).
type OutcomeKind int

const (
	OutcomeValidShare OutcomeKind = iota
	OutcomeBlockCandidate
	OutcomeStale
	OutcomeDuplicate
	OutcomeLowDifficulty
	OutcomeNTimeOutOfRange
	OutcomeJobNotFound
	OutcomeMalformedParams
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValidShare:
		return "valid_share"
	case OutcomeBlockCandidate:
		return "block_candidate"
	case OutcomeStale:
		return "stale"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeLowDifficulty:
		return "low_difficulty"
	case OutcomeNTimeOutOfRange:
		return "ntime_out_of_range"
	case OutcomeJobNotFound:
		return "job_not_found"
	case OutcomeMalformedParams:
		return "malformed_params"
	default:
		return "unknown"
	}
}

// Share is a submitted share from a worker.
type Share struct {
	WorkerName  string
	JobID       string
	Extranonce1 string
	Extranonce2 string
	Ntime       string
	Nonce       string
	SubmittedAt time.Time
	IPAddress   string
}

// Outcome is the result of validating a Share.
type Outcome struct {
	Kind       OutcomeKind
	ShareDiff  float64
	BlockHash  string
	RejectText string
}

// ntimeFutureTolerance is how far into the future a client's ntime may sit
// relative to the job's curtime before it is rejected (spec §4.7 step 3;
// wider than the teacher's hardcoded ±600s to match upstream daemon
// tolerance for clients with skewed clocks).
const ntimeFutureTolerance = 7200 * time.Second
const ntimePastTolerance = 7200 * time.Second

// ShareValidator runs the 10-step share pipeline (spec §4.7): job lookup,
// staleness, duplicate detection, ntime range, header assembly, PoW check
// against both the connection's share target and the network target, and
// persistence.
type ShareValidator struct {
	logger    *zap.Logger
	redis     *storage.RedisClient
	postgres  *storage.PostgresClient
	jobs      JobSource
	algo      powverify.Algorithm
	submitter BlockSubmitter
}

// NewShareValidator constructs a ShareValidator.
func NewShareValidator(logger *zap.Logger, redis *storage.RedisClient, postgres *storage.PostgresClient, jobs JobSource, algo powverify.Algorithm, submitter BlockSubmitter) *ShareValidator {
	return &ShareValidator{
		logger:    logger.Named("share"),
		redis:     redis,
		postgres:  postgres,
		jobs:      jobs,
		algo:      algo,
		submitter: submitter,
	}
}

// Validate runs the share pipeline and returns the Outcome. The share is
// checked against the WorkRecord's difficulty if one was registered for
// (extranonce1, job_id), else against difficulty 1 (a worker that submits
// before any WorkRecord exists still gets checked against something).
func (v *ShareValidator) Validate(ctx context.Context, share *Share) (*Outcome, error) {
	start := time.Now()
	defer func() {
		shareProcessingTime.Observe(time.Since(start).Seconds())
	}()

	template, job, err := v.jobs.GetJob(share.JobID)
	if err != nil {
		sharesTotal.WithLabelValues(OutcomeJobNotFound.String()).Inc()
		return &Outcome{Kind: OutcomeJobNotFound, RejectText: "job not found"}, nil
	}

	if v.jobs.IsStale(share.JobID) {
		sharesTotal.WithLabelValues(OutcomeStale.String()).Inc()
		return &Outcome{Kind: OutcomeStale, RejectText: "stale job"}, nil
	}

	if v.jobs.CheckAndMarkDuplicate(share.JobID, share.Extranonce1, share.Extranonce2, share.Ntime, share.Nonce) {
		sharesTotal.WithLabelValues(OutcomeDuplicate.String()).Inc()
		return &Outcome{Kind: OutcomeDuplicate, RejectText: "duplicate share"}, nil
	}

	ntimeVal, err := parseHexUint32(share.Ntime)
	if err != nil || !ntimeInRange(ntimeVal, template.CurTime) {
		sharesTotal.WithLabelValues(OutcomeNTimeOutOfRange.String()).Inc()
		return &Outcome{Kind: OutcomeNTimeOutOfRange, RejectText: "ntime out of range"}, nil
	}

	nonceVal, err := parseHexUint32(share.Nonce)
	if err != nil {
		sharesTotal.WithLabelValues(OutcomeMalformedParams.String()).Inc()
		return &Outcome{Kind: OutcomeMalformedParams, RejectText: "invalid nonce"}, nil
	}

	extranonce1, err := hex.DecodeString(share.Extranonce1)
	if err != nil {
		return nil, fmt.Errorf("mining: invalid extranonce1: %w", err)
	}
	extranonce2, err := hex.DecodeString(share.Extranonce2)
	if err != nil {
		return nil, fmt.Errorf("mining: invalid extranonce2: %w", err)
	}

	header, err := SerializeHeader(job, extranonce1, extranonce2, ntimeVal, nonceVal)
	if err != nil {
		return nil, fmt.Errorf("mining: serialize header: %w", err)
	}

	digest, err := v.algo.Hash(header)
	if err != nil {
		return nil, fmt.Errorf("mining: hash header: %w", err)
	}

	shareDiff := v.algo.ShareDifficulty(digest)

	difficulty := 1.0
	if rec, ok := v.jobs.GetWorkRecord(share.Extranonce1, share.JobID); ok {
		difficulty = rec.Difficulty
	}

	if !powverify.MeetsShareDifficulty(digest, difficulty) {
		sharesTotal.WithLabelValues(OutcomeLowDifficulty.String()).Inc()
		return &Outcome{Kind: OutcomeLowDifficulty, ShareDiff: shareDiff, RejectText: "low difficulty share"}, nil
	}

	outcome := &Outcome{Kind: OutcomeValidShare, ShareDiff: shareDiff}
	sharesTotal.WithLabelValues(OutcomeValidShare.String()).Inc()

	if v.algo.MeetsTarget(digest, template.Bits) {
		outcome.Kind = OutcomeBlockCandidate
		outcome.BlockHash = hex.EncodeToString(reverseCopy(digest))
		blocksFound.Inc()

		v.logger.Info("block candidate found",
			zap.String("hash", outcome.BlockHash),
			zap.String("worker", share.WorkerName),
			zap.Float64("share_diff", shareDiff),
		)

		block, err := AssembleBlock(job, extranonce1, extranonce2, ntimeVal, nonceVal)
		if err != nil {
			v.logger.Error("assemble block failed", zap.Error(err))
		} else if v.submitter != nil {
			go v.submitAndRecord(context.Background(), share, template, outcome, hex.EncodeToString(block))
		}
	}

	go v.logShare(context.Background(), share, difficulty, outcome)

	return outcome, nil
}

func (v *ShareValidator) submitAndRecord(ctx context.Context, share *Share, template *BlockTemplate, outcome *Outcome, blockHex string) {
	if err := v.submitter.SubmitBlock(ctx, blockHex); err != nil {
		v.logger.Error("submit block failed", zap.Error(err), zap.String("hash", outcome.BlockHash))
		return
	}

	if err := v.postgres.InsertBlock(ctx, &storage.Block{
		Hash:       outcome.BlockHash,
		Height:     template.Height,
		WorkerName: share.WorkerName,
		Difficulty: outcome.ShareDiff,
		FoundAt:    time.Now(),
		Confirmed:  false,
	}); err != nil {
		v.logger.Error("insert block failed", zap.Error(err))
	}
}

func (v *ShareValidator) logShare(ctx context.Context, share *Share, difficulty float64, outcome *Outcome) {
	dbShare := &storage.Share{
		WorkerName:   share.WorkerName,
		JobID:        share.JobID,
		Difficulty:   difficulty,
		ShareDiff:    outcome.ShareDiff,
		Valid:        outcome.Kind == OutcomeValidShare || outcome.Kind == OutcomeBlockCandidate,
		IsBlock:      outcome.Kind == OutcomeBlockCandidate,
		BlockHash:    outcome.BlockHash,
		RejectReason: outcome.RejectText,
		IPAddress:    share.IPAddress,
		SubmittedAt:  share.SubmittedAt,
	}

	if err := v.postgres.InsertShare(ctx, dbShare); err != nil {
		v.logger.Error("insert share failed", zap.Error(err))
	}
}

func parseHexUint32(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return 0, fmt.Errorf("mining: invalid 4-byte hex value %q", s)
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func ntimeInRange(ntime, jobCurTime uint32) bool {
	lo := int64(jobCurTime) - int64(ntimePastTolerance.Seconds())
	hi := int64(jobCurTime) + int64(ntimeFutureTolerance.Seconds())
	v := int64(ntime)
	return v >= lo && v <= hi
}

