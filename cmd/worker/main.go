package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/audience-sync/internal/app"
	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/pkg/distlock"
	"github.com/ignite/audience-sync/internal/pkg/logger"
	"github.com/ignite/audience-sync/internal/storage"
	"github.com/ignite/audience-sync/internal/worker"
)

func main() {
	logger.Info("Starting audience sync worker...")

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config/config.yaml"); err == nil {
			path = "config/config.yaml"
		}
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	app.ConfigureLogging(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Gate.Err(); err != nil {
		logger.Warn("Ad platform unavailable, sweeps are skipped until it is configured", "error", err)
	}

	// Sweep scheduler: one replica per tick via the distributed lock
	lock := distlock.NewLock(a.Redis, a.DB, distlock.SweepLockKey, cfg.Sync.LockTTL())
	scheduler := worker.NewAudienceSyncScheduler(a.Sync, lock, cfg.Sync.PollInterval())
	scheduler.SetLockTTL(cfg.Sync.LockTTL())
	scheduler.SetReadyCheck(a.Gate.Err)

	archive, prefix, err := storage.New(ctx, cfg.Archive)
	if err != nil {
		logger.Warn("Sweep report archive disabled", "error", err)
	} else if archive != nil {
		scheduler.SetArchive(archive, prefix)
		logger.Info("Sweep report archive enabled", "type", cfg.Archive.Type)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start sweep scheduler", "error", err)
		os.Exit(1)
	}

	// Claim recovery: requeues members stuck in flight after a crash
	recovery := worker.NewClaimRecoveryWorker(a.Sync, 0, cfg.Sync.ClaimStaleAfter())
	go recovery.Start(ctx)

	// Retention: prunes old sync logs and dead members
	retention := worker.NewRetentionWorker(a.DB)
	go retention.Start(ctx)

	logger.Info("Worker running...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker...")
	scheduler.Stop()
	cancel()
	logger.Info("Worker stopped")
}
