package worker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/audience-sync/internal/pkg/logger"
)

// =============================================================================
// RETENTION WORKER: Prunes Old Sync Logs & Dead Members
// =============================================================================
// Retention policies:
//   - Sync logs:                       90 days
//   - Members that exhausted attempts: 30 days
//
// Deletes run in batches so a large backlog never holds long locks on
// audience_users while sync runs are claiming from it.

const (
	// DefaultRetentionInterval is how often the retention cycle runs.
	DefaultRetentionInterval = 6 * time.Hour

	retentionBatchSize = 5000
)

type retentionRule struct {
	table string
	query string
}

var retentionRules = []retentionRule{
	{"audience_sync_logs", `
		DELETE FROM audience_sync_logs
		WHERE id IN (
			SELECT id FROM audience_sync_logs
			WHERE created_at < NOW() - INTERVAL '90 days'
			LIMIT $1
		)`},
	{"audience_users", `
		DELETE FROM audience_users
		WHERE id IN (
			SELECT id FROM audience_users
			WHERE status = 'failed'
			  AND updated_at < NOW() - INTERVAL '30 days'
			LIMIT $1
		)`},
}

// RetentionWorker periodically removes expired sync bookkeeping.
type RetentionWorker struct {
	db       *sql.DB
	interval time.Duration
	pause    time.Duration
}

// NewRetentionWorker creates a retention worker.
func NewRetentionWorker(db *sql.DB) *RetentionWorker {
	return &RetentionWorker{
		db:       db,
		interval: DefaultRetentionInterval,
		pause:    100 * time.Millisecond,
	}
}

// Start runs one cycle immediately, then on every tick until ctx ends.
func (rw *RetentionWorker) Start(ctx context.Context) {
	logger.Info("[Retention] Starting", "interval", rw.interval, "batch_size", retentionBatchSize)

	rw.RunOnce(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Retention] Stopping")
			return
		case <-ticker.C:
			rw.RunOnce(ctx)
		}
	}
}

// RunOnce applies every rule and returns rows deleted per table.
func (rw *RetentionWorker) RunOnce(ctx context.Context) map[string]int64 {
	start := time.Now()
	out := make(map[string]int64, len(retentionRules))
	for _, rule := range retentionRules {
		n := rw.batchDelete(ctx, rule)
		out[rule.table] = n
		if n > 0 {
			logger.Info("[Retention] Removed expired rows", "table", rule.table, "rows", n)
		}
	}
	logger.Debug("[Retention] Cycle completed", "elapsed", time.Since(start).Round(time.Millisecond))
	return out
}

// batchDelete repeats the rule's DELETE until it affects no rows. A missing
// table is logged once and skipped.
func (rw *RetentionWorker) batchDelete(ctx context.Context, rule retentionRule) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := rw.db.ExecContext(queryCtx, rule.query, retentionBatchSize)
		cancel()
		if err != nil {
			if isUndefinedTable(err) {
				logger.Warn("[Retention] Table does not exist, skipping", "table", rule.table)
			} else {
				logger.Error("[Retention] Delete failed", "table", rule.table, "error", err)
			}
			return total
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return total
		}
		total += affected

		if rw.pause > 0 {
			time.Sleep(rw.pause)
		}
	}
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
