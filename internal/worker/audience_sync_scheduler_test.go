package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/pkg/distlock"
	"github.com/ignite/audience-sync/internal/service/audiencesync"
	"github.com/ignite/audience-sync/internal/storage"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	triggers []domain.TriggerSource
	delay    time.Duration
	result   *audiencesync.SyncAllResult
	err      error
}

func (f *fakeRunner) SyncAllAudiences(ctx context.Context, triggeredBy domain.TriggerSource, _ *string) (*audiencesync.SyncAllResult, error) {
	f.mu.Lock()
	f.calls++
	f.triggers = append(f.triggers, triggeredBy)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.result, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestAudienceSyncScheduler_DefaultInterval(t *testing.T) {
	s := NewAudienceSyncScheduler(&fakeRunner{}, nil, 0)
	assert.Equal(t, DefaultSweepInterval, s.pollInterval)
	assert.Contains(t, s.workerID, "sweeper-")
}

func TestAudienceSyncScheduler_RunOnceArchivesReport(t *testing.T) {
	client := setupRedis(t)
	runner := &fakeRunner{result: &audiencesync.SyncAllResult{Success: true, TotalAudiences: 2, Synced: 2}}

	archive, err := storage.NewLocalArchive(t.TempDir())
	require.NoError(t, err)

	s := NewAudienceSyncScheduler(runner, distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute), time.Minute)
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	s.SetArchive(archive, "reports")

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []domain.TriggerSource{domain.TriggerCron}, runner.triggers)

	data, err := archive.Get(context.Background(), storage.ReportKey("reports", at))
	require.NoError(t, err)
	var report struct {
		Trigger string                     `json:"trigger"`
		Result  audiencesync.SyncAllResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "cron", report.Trigger)
	assert.Equal(t, 2, report.Result.Synced)

	// Lock was released, so a second sweep runs too.
	ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, runner.callCount())
}

func TestAudienceSyncScheduler_SkipsWhenLockHeld(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	other := distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	runner := &fakeRunner{}
	s := NewAudienceSyncScheduler(runner, distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute), time.Minute)

	ran, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, runner.callCount())
	assert.Equal(t, int64(1), atomic.LoadInt64(&s.sweepsSkipped))
}

func TestAudienceSyncScheduler_SkipsWhenNotReady(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	runner := &fakeRunner{result: &audiencesync.SyncAllResult{Success: true}}

	s := NewAudienceSyncScheduler(runner, distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute), time.Minute)
	ready := errors.New("ad platform is not configured")
	s.SetReadyCheck(func() error { return ready })

	ran, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, runner.callCount())
	assert.Equal(t, int64(1), atomic.LoadInt64(&s.sweepsSkipped))

	// The lock was never taken.
	other := distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Release(ctx))

	ready = nil
	ran, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, runner.callCount())
}

func TestAudienceSyncScheduler_SweepErrorStillArchives(t *testing.T) {
	client := setupRedis(t)
	runner := &fakeRunner{
		result: &audiencesync.SyncAllResult{Success: true, TotalAudiences: 3, Synced: 1},
		err:    context.Canceled,
	}
	archive, err := storage.NewLocalArchive(t.TempDir())
	require.NoError(t, err)

	s := NewAudienceSyncScheduler(runner, distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute), time.Minute)
	s.SetArchive(archive, "")
	at := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = archive.Get(context.Background(), storage.ReportKey("", at))
	assert.NoError(t, err)
}

type countingLock struct {
	extends int64
}

func (l *countingLock) Acquire(context.Context) (bool, error) { return true, nil }
func (l *countingLock) Release(context.Context) error         { return nil }
func (l *countingLock) Extend(context.Context, time.Duration) error {
	atomic.AddInt64(&l.extends, 1)
	return errors.New("lock lost")
}

func TestAudienceSyncScheduler_ExtendsLockDuringSweep(t *testing.T) {
	lock := &countingLock{}
	runner := &fakeRunner{delay: 80 * time.Millisecond, result: &audiencesync.SyncAllResult{Success: true}}

	s := NewAudienceSyncScheduler(runner, lock, time.Minute)
	s.SetLockTTL(20 * time.Millisecond)

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&lock.extends), int64(1))
}

func TestAudienceSyncScheduler_StartStop(t *testing.T) {
	client := setupRedis(t)
	runner := &fakeRunner{result: &audiencesync.SyncAllResult{Success: true}}
	s := NewAudienceSyncScheduler(runner, distlock.NewRedisLock(client, distlock.SweepLockKey, time.Minute), 10*time.Millisecond)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	assert.Eventually(t, func() bool { return runner.callCount() > 0 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}
