package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/metrics"
	"github.com/ignite/audience-sync/internal/pkg/distlock"
	"github.com/ignite/audience-sync/internal/pkg/logger"
	"github.com/ignite/audience-sync/internal/service/audiencesync"
	"github.com/ignite/audience-sync/internal/storage"
)

// =============================================================================
// AUDIENCE SYNC SCHEDULER
// =============================================================================
// Every poll interval one replica takes the sweep lock and syncs all due
// audiences with triggeredBy = cron. Replicas that miss the lock skip the
// tick. The sweep result is archived when an archive is configured.

// DefaultSweepInterval is how often due audiences are swept.
const DefaultSweepInterval = 5 * time.Minute

// SweepRunner runs one sweep over all due audiences.
type SweepRunner interface {
	SyncAllAudiences(ctx context.Context, triggeredBy domain.TriggerSource, triggeredByUser *string) (*audiencesync.SyncAllResult, error)
}

// lockExtender is implemented by locks with an expiry, such as the Redis lock.
type lockExtender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// AudienceSyncScheduler sweeps due audiences on a ticker.
type AudienceSyncScheduler struct {
	runner        SweepRunner
	lock          distlock.DistLock
	lockTTL       time.Duration
	archive       storage.Archive
	archivePrefix string
	workerID      string
	pollInterval  time.Duration
	now           func() time.Time
	readyCheck    func() error

	// Stats
	sweepsRun     int64
	sweepsSkipped int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewAudienceSyncScheduler creates a scheduler. A non-positive interval uses
// DefaultSweepInterval.
func NewAudienceSyncScheduler(runner SweepRunner, lock distlock.DistLock, pollInterval time.Duration) *AudienceSyncScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultSweepInterval
	}
	return &AudienceSyncScheduler{
		runner:       runner,
		lock:         lock,
		workerID:     fmt.Sprintf("sweeper-%s-%d", hostname(), time.Now().UnixNano()%10000),
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// SetArchive enables sweep report archiving under prefix.
func (s *AudienceSyncScheduler) SetArchive(a storage.Archive, prefix string) {
	s.archive = a
	s.archivePrefix = prefix
}

// SetLockTTL enables lock keepalive for locks that expire. The lock is
// extended every ttl/2 while a sweep runs.
func (s *AudienceSyncScheduler) SetLockTTL(ttl time.Duration) {
	s.lockTTL = ttl
}

// SetReadyCheck installs a check run before each sweep. A non-nil error
// skips the tick without taking the lock or calling the runner.
func (s *AudienceSyncScheduler) SetReadyCheck(check func() error) {
	s.readyCheck = check
}

// Start begins the sweep loop.
func (s *AudienceSyncScheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger.Info("[AudienceSyncScheduler] Starting", "worker_id", s.workerID, "interval", s.pollInterval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the loop and waits for an in-progress sweep to return.
func (s *AudienceSyncScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	logger.Info("[AudienceSyncScheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
	logger.Info("[AudienceSyncScheduler] Stopped",
		"sweeps", atomic.LoadInt64(&s.sweepsRun),
		"skipped", atomic.LoadInt64(&s.sweepsSkipped))
}

// IsRunning reports whether the loop is active.
func (s *AudienceSyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *AudienceSyncScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil {
				logger.Error("[AudienceSyncScheduler] Sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single locked sweep. ran is false when another replica
// holds the lock or the ready check fails.
func (s *AudienceSyncScheduler) RunOnce(ctx context.Context) (ran bool, err error) {
	if s.readyCheck != nil {
		if notReady := s.readyCheck(); notReady != nil {
			atomic.AddInt64(&s.sweepsSkipped, 1)
			metrics.RecordSweepSkipped()
			logger.Warn("[AudienceSyncScheduler] Sweep skipped", "reason", notReady.Error())
			return false, nil
		}
	}

	var result *audiencesync.SyncAllResult
	ran, err = distlock.WithLock(ctx, s.lock, func(ctx context.Context) error {
		stop := s.keepAlive(ctx)
		defer stop()

		var sweepErr error
		result, sweepErr = s.runner.SyncAllAudiences(ctx, domain.TriggerCron, nil)
		return sweepErr
	})
	if !ran && err == nil {
		atomic.AddInt64(&s.sweepsSkipped, 1)
		metrics.RecordSweepSkipped()
		logger.Debug("[AudienceSyncScheduler] Sweep lock held elsewhere, skipping tick")
		return false, nil
	}
	if result != nil {
		atomic.AddInt64(&s.sweepsRun, 1)
		logger.Info("[AudienceSyncScheduler] Sweep complete",
			"audiences", result.TotalAudiences,
			"synced", result.Synced,
			"partial", result.Partial,
			"failed", result.Failed)
		s.archiveResult(ctx, result)
	}
	return ran, err
}

func (s *AudienceSyncScheduler) keepAlive(ctx context.Context) func() {
	ext, ok := s.lock.(lockExtender)
	if !ok || s.lockTTL <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, s.lockTTL); err != nil {
					logger.Warn("[AudienceSyncScheduler] Failed to extend sweep lock", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *AudienceSyncScheduler) archiveResult(ctx context.Context, result *audiencesync.SyncAllResult) {
	if s.archive == nil {
		return
	}
	// The sweep context may already be canceled on shutdown.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	key, err := storage.SaveSweepReport(archiveCtx, s.archive, s.archivePrefix, storage.SweepReport{
		GeneratedAt: s.now(),
		Trigger:     string(domain.TriggerCron),
		Worker:      s.workerID,
		Result:      result,
	})
	if err != nil {
		logger.Warn("[AudienceSyncScheduler] Failed to archive sweep report", "error", err)
		return
	}
	logger.Debug("[AudienceSyncScheduler] Sweep report archived", "key", key)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "audience-worker"
	}
	return h
}
