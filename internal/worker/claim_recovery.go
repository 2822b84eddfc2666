package worker

import (
	"context"
	"time"

	"github.com/ignite/audience-sync/internal/pkg/logger"
)

// =============================================================================
// CLAIM RECOVERY WORKER
// =============================================================================
// A sync run that dies between claiming members and finalizing them leaves
// rows in_flight. This worker returns claims older than the stale age to
// pending so the next run uploads them again.

const (
	// DefaultRecoveryInterval is how often stale claims are scanned for.
	DefaultRecoveryInterval = 5 * time.Minute

	// DefaultClaimStaleAge is how long a claim may stay in flight.
	DefaultClaimStaleAge = 30 * time.Minute
)

// ClaimRequeuer returns stale in-flight claims to pending.
type ClaimRequeuer interface {
	RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int64, error)
}

// ClaimRecoveryWorker periodically requeues stale claims.
type ClaimRecoveryWorker struct {
	requeuer ClaimRequeuer
	interval time.Duration
	staleAge time.Duration
	now      func() time.Time
}

// NewClaimRecoveryWorker creates a recovery worker. Non-positive durations
// use the defaults.
func NewClaimRecoveryWorker(requeuer ClaimRequeuer, interval, staleAge time.Duration) *ClaimRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAge <= 0 {
		staleAge = DefaultClaimStaleAge
	}
	return &ClaimRecoveryWorker{
		requeuer: requeuer,
		interval: interval,
		staleAge: staleAge,
		now:      time.Now,
	}
}

// Start runs the recovery loop. It blocks until ctx is cancelled.
func (w *ClaimRecoveryWorker) Start(ctx context.Context) {
	logger.Info("[ClaimRecovery] Starting", "interval", w.interval, "stale_age", w.staleAge)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[ClaimRecovery] Stopping")
			return
		case <-ticker.C:
			w.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce requeues claims older than the stale age and returns how many
// rows moved.
func (w *ClaimRecoveryWorker) RecoverOnce(ctx context.Context) int64 {
	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := w.requeuer.RequeueStaleClaims(scanCtx, w.now().Add(-w.staleAge))
	if err != nil {
		logger.Error("[ClaimRecovery] Requeue failed", "error", err)
		return 0
	}
	if n > 0 {
		logger.Warn("[ClaimRecovery] Requeued stale claims", "count", n)
	}
	return n
}
