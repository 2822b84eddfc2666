package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRequeuer struct {
	olderThan time.Time
	n         int64
	err       error
}

func (f *fakeRequeuer) RequeueStaleClaims(_ context.Context, olderThan time.Time) (int64, error) {
	f.olderThan = olderThan
	return f.n, f.err
}

func TestClaimRecoveryWorker_Defaults(t *testing.T) {
	w := NewClaimRecoveryWorker(&fakeRequeuer{}, 0, -1)
	assert.Equal(t, DefaultRecoveryInterval, w.interval)
	assert.Equal(t, DefaultClaimStaleAge, w.staleAge)
}

func TestClaimRecoveryWorker_RecoverOnce(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	req := &fakeRequeuer{n: 4}
	w := NewClaimRecoveryWorker(req, time.Minute, 30*time.Minute)
	w.now = func() time.Time { return now }

	assert.Equal(t, int64(4), w.RecoverOnce(context.Background()))
	assert.Equal(t, now.Add(-30*time.Minute), req.olderThan)

	req.err = errors.New("db down")
	assert.Zero(t, w.RecoverOnce(context.Background()))
}

func TestClaimRecoveryWorker_StartStopsOnCancel(t *testing.T) {
	req := &fakeRequeuer{}
	w := NewClaimRecoveryWorker(req, 5*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery worker did not stop")
	}
}
