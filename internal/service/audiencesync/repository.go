package audiencesync

import (
	"context"
	"time"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/ignite/audience-sync/internal/metaads"
)

// Repository is the sync state store. Implementations must be safe for
// concurrent use.
type Repository interface {
	// GetAudience returns ErrAudienceNotFound when no row has the id.
	GetAudience(ctx context.Context, id string) (*domain.Audience, error)

	// ListAutoSyncAudiences returns auto-sync audiences that are not soft
	// deleted, most recently updated first. Due filtering is left to the caller.
	ListAutoSyncAudiences(ctx context.Context) ([]domain.Audience, error)

	// UpsertPendingMembers inserts members keyed on (audience_id,
	// external_id_hash). Existing rows are refreshed to pending with the
	// error and attempt counter cleared.
	UpsertPendingMembers(ctx context.Context, members []domain.AudienceUser) error

	// ClaimPendingMembers moves up to limit pending members of the audience
	// to in_flight under claimToken and returns them. Rows claimed by another
	// run are skipped.
	ClaimPendingMembers(ctx context.Context, audienceID, claimToken string, limit int, at time.Time) ([]domain.AudienceUser, error)

	// MarkMembersUploaded finalizes the rows held by claimToken.
	MarkMembersUploaded(ctx context.Context, audienceID, claimToken, sessionID string, at time.Time) (int64, error)

	// ReleaseClaimedMembers returns the rows held by claimToken to pending,
	// incrementing attempts. Rows reaching maxAttempts become failed.
	ReleaseClaimedMembers(ctx context.Context, audienceID, claimToken, errMsg string, maxAttempts int) (int64, error)

	// RecordSyncSuccess advances the audience cadence.
	RecordSyncSuccess(ctx context.Context, audienceID string, u SuccessUpdate) error

	// RecordSyncFailure sets sync_status = failed and leaves last_synced_at alone.
	RecordSyncFailure(ctx context.Context, audienceID string) error

	// InsertSyncLog appends a run log. Logs are never updated.
	InsertSyncLog(ctx context.Context, log *domain.SyncLog) error

	CountAudiences(ctx context.Context) (int, error)
	CountAutoSyncAudiences(ctx context.Context) (int, error)
	CountPendingMembers(ctx context.Context) (int, error)

	// RecentSyncLogs returns the newest logs joined with the audience name.
	RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error)

	// RequeueStaleClaims returns in_flight rows claimed before olderThan to
	// pending. Used by the claim recovery worker.
	RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int64, error)
}

// SuccessUpdate is written to the audience after a successful run.
type SuccessUpdate struct {
	SyncedAt   time.Time
	SyncStatus domain.SyncStatus
	// MarkReady sets status = ready (after an upload).
	MarkReady bool
	// FrequencyHours, when set, normalizes sync_frequency_hours.
	FrequencyHours *int
}

// LeadSource reads lead candidates from the CRM tables.
type LeadSource interface {
	// ListLeadCandidates returns leads ordered by updated_at descending.
	// A nil since returns the newest leads; otherwise updated_at >= since.
	ListLeadCandidates(ctx context.Context, since *time.Time, limit int) ([]domain.LeadRecord, error)
}

// AdPlatform uploads hashed users to a remote audience. *metaads.Client
// satisfies it.
type AdPlatform interface {
	AddUsers(ctx context.Context, audienceID string, users []hashing.HashedUserData, schema ...metaads.SchemaField) (*metaads.UploadResult, error)
}
