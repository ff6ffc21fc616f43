// Package main is the entry point for the Stratum mining server.
// It handles configuration loading, logger initialization, and graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ore-pool/stratum/internal/config"
	"github.com/ore-pool/stratum/internal/mining"
	"github.com/ore-pool/stratum/internal/powverify"
	"github.com/ore-pool/stratum/internal/protocol"
	"github.com/ore-pool/stratum/internal/registry"
	"github.com/ore-pool/stratum/internal/rpcnode"
	"github.com/ore-pool/stratum/internal/server"
	"github.com/ore-pool/stratum/internal/storage"
	"github.com/ore-pool/stratum/internal/updater"
	"github.com/ore-pool/stratum/internal/worker"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Stratum mining server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis storage
	redisStorage, err := storage.NewRedisClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisStorage.Close()

	// Initialize PostgreSQL storage
	pgStorage, err := storage.NewPostgresClient(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgStorage.Close()

	// Initialize worker manager
	snap := protocol.SnapFloat
	switch cfg.Mining.VardiffSnap {
	case "pow2":
		snap = protocol.SnapPowerOfTwo
	case "int":
		snap = protocol.SnapInteger
	}
	workerManager := worker.NewManager(logger, redisStorage, pgStorage, protocol.DifficultyConfig{
		InitialDifficulty: cfg.Mining.InitialDifficulty,
		MinDifficulty:     cfg.Mining.MinDifficulty,
		MaxDifficulty:     cfg.Mining.MaxDifficulty,
		TargetShareTime:   cfg.Mining.TargetShareTime,
		RetargetTime:      cfg.Mining.RetargetTime,
		VariancePercent:   cfg.Mining.VariancePercent,
		Snap:              snap,
	})

	banPolicy := worker.BanPolicy{
		Enabled:              cfg.Worker.BanningEnabled,
		CacheTime:            cfg.Worker.CacheTime,
		BanDuration:          cfg.Worker.BanTime,
		InvalidPercent:       cfg.Worker.InvalidSharesPercent,
		InvalidSpamThreshold: cfg.Worker.InvalidSharesSpam,
		AutoAdd:              cfg.Worker.AutoAdd,
		CheckPassword:        cfg.Worker.CheckPassword,
	}

	// Resolve the proof-of-work algorithm for this coin
	algo, err := powverify.Get(cfg.PoW.Algorithm)
	if err != nil {
		logger.Fatal("Unknown pow algorithm", zap.String("algorithm", cfg.PoW.Algorithm), zap.Error(err))
	}

	coinbaser := mining.NewSimpleCoinbaser(mining.CoinbaseConfig{
		PoolScriptPubKey: cfg.Coinbase.PoolScriptPubKey,
		Extras:           cfg.Coinbase.Extras,
		AppendTxComment:  cfg.Coinbase.AppendTxComment,
		Comment:          cfg.Coinbase.TxComment,
	})

	// Initialize the template registry
	reg, err := registry.New(registry.Config{
		InstanceID:           cfg.Instance.ID,
		Extranonce1Size:      cfg.Mining.Extranonce1Size,
		Extranonce2Size:      cfg.Mining.Extranonce2Size,
		WorkExpire:           cfg.Timing.WorkExpire,
		ForceRefreshInterval: cfg.Timing.ForceRefresh,
	}, coinbaser, logger)
	if err != nil {
		logger.Fatal("Failed to create registry", zap.Error(err))
	}
	go reg.StartPruneLoop(ctx)

	// Initialize the coin daemon RPC client and block template updater
	daemonClient := rpcnode.New(cfg.Node)
	blockUpdater := updater.New(updater.Config{
		PrevHashRefresh: cfg.Timing.PrevHashRefresh,
		MerkleRefresh:   cfg.Timing.MerkleRefresh,
		ForceRefresh:    cfg.Timing.ForceRefresh,
	}, daemonClient, reg, logger)
	go blockUpdater.Run(ctx)

	// Initialize share validator
	shareValidator := mining.NewShareValidator(logger, redisStorage, pgStorage, reg, algo, blockUpdater)

	// Create and start the server
	srv, err := server.New(cfg.Server, logger, workerManager, reg, shareValidator, banPolicy)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Start the server in a goroutine
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Server error", zap.Error(err))
			cancel()
		}
	}()

	// Start metrics server if enabled
	if cfg.Server.Metrics.Enabled {
		go func() {
			if err := srv.StartMetricsServer(); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Initiate graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server shutdown complete")
}

// initLogger initializes the zap logger based on configuration.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writeSyncer = zapcore.AddSync(file)
	} else {
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, nil
}
