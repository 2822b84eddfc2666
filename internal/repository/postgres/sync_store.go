package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/ignite/audience-sync/internal/service/audiencesync"
)

// upsertBatchSize bounds the array parameters of one upsert statement.
const upsertBatchSize = 2000

func (r *AudienceRepo) GetAudience(ctx context.Context, id string) (*domain.Audience, error) {
	a, err := scanAudience(r.db.QueryRowContext(ctx,
		`SELECT `+audienceColumns+` FROM audiences WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, audiencesync.ErrAudienceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audience: %w", err)
	}
	return a, nil
}

func (r *AudienceRepo) ListAutoSyncAudiences(ctx context.Context) ([]domain.Audience, error) {
	out, err := r.queryAudiences(ctx, `
		SELECT `+audienceColumns+`
		FROM audiences
		WHERE auto_sync = true AND deleted_at IS NULL AND status <> 'deleted'
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list auto-sync audiences: %w", err)
	}
	return out, nil
}

func (r *AudienceRepo) UpsertPendingMembers(ctx context.Context, members []domain.AudienceUser) error {
	members = dedupeMembers(members)
	for _, batch := range hashing.Chunk(members, upsertBatchSize) {
		n := len(batch)
		ids := make([]string, n)
		audienceIDs := make([]string, n)
		leadIDs := make([]string, n)
		emails := make([]string, n)
		phones := make([]string, n)
		externalIDs := make([]string, n)
		for i, m := range batch {
			ids[i] = m.ID
			if ids[i] == "" {
				ids[i] = uuid.New().String()
			}
			audienceIDs[i] = m.AudienceID
			leadIDs[i] = m.LeadID
			if m.EmailHash != nil {
				emails[i] = *m.EmailHash
			}
			if m.PhoneHash != nil {
				phones[i] = *m.PhoneHash
			}
			externalIDs[i] = m.ExternalIDHash
		}

		_, err := r.db.ExecContext(ctx, `
			INSERT INTO audience_users
				(id, audience_id, lead_id, email_hash, phone_hash, external_id_hash,
				 status, attempts, created_at, updated_at)
			SELECT data.id, data.audience_id, data.lead_id,
			       NULLIF(data.email_hash, ''), NULLIF(data.phone_hash, ''),
			       data.external_id_hash, 'pending', 0, NOW(), NOW()
			FROM (
				SELECT UNNEST($1::uuid[]) AS id,
				       UNNEST($2::uuid[]) AS audience_id,
				       UNNEST($3::text[]) AS lead_id,
				       UNNEST($4::text[]) AS email_hash,
				       UNNEST($5::text[]) AS phone_hash,
				       UNNEST($6::text[]) AS external_id_hash
			) AS data
			ON CONFLICT (audience_id, external_id_hash) DO UPDATE
			SET lead_id = EXCLUDED.lead_id,
			    email_hash = EXCLUDED.email_hash,
			    phone_hash = EXCLUDED.phone_hash,
			    status = 'pending',
			    attempts = 0,
			    error_message = NULL,
			    claim_token = NULL,
			    claimed_at = NULL,
			    updated_at = NOW()
		`, pq.Array(ids), pq.Array(audienceIDs), pq.Array(leadIDs),
			pq.Array(emails), pq.Array(phones), pq.Array(externalIDs))
		if err != nil {
			return fmt.Errorf("upsert audience users: %w", err)
		}
	}
	return nil
}

// dedupeMembers keeps the last row per conflict key; ON CONFLICT cannot
// touch the same row twice in one statement.
func dedupeMembers(members []domain.AudienceUser) []domain.AudienceUser {
	seen := make(map[string]int, len(members))
	out := make([]domain.AudienceUser, 0, len(members))
	for _, m := range members {
		key := m.AudienceID + "|" + m.ExternalIDHash
		if i, ok := seen[key]; ok {
			out[i] = m
			continue
		}
		seen[key] = len(out)
		out = append(out, m)
	}
	return out
}

func (r *AudienceRepo) ClaimPendingMembers(ctx context.Context, audienceID, claimToken string, limit int, at time.Time) ([]domain.AudienceUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE audience_users
		SET status = 'in_flight', claim_token = $2, claimed_at = $3, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM audience_users
			WHERE audience_id = $1 AND status = 'pending'
			ORDER BY updated_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, audience_id, lead_id, email_hash, phone_hash, external_id_hash, attempts
	`, audienceID, claimToken, at, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending members: %w", err)
	}
	defer rows.Close()

	var out []domain.AudienceUser
	for rows.Next() {
		var (
			u            domain.AudienceUser
			email, phone sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.AudienceID, &u.LeadID, &email, &phone, &u.ExternalIDHash, &u.Attempts); err != nil {
			return nil, fmt.Errorf("scan claimed member: %w", err)
		}
		u.EmailHash = nullString(email)
		u.PhoneHash = nullString(phone)
		u.Status = domain.MemberInFlight
		token, claimedAt := claimToken, at
		u.ClaimToken = &token
		u.ClaimedAt = &claimedAt
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *AudienceRepo) MarkMembersUploaded(ctx context.Context, audienceID, claimToken, sessionID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audience_users
		SET status = 'uploaded', upload_session_id = NULLIF($3, ''), uploaded_at = $4,
		    claim_token = NULL, claimed_at = NULL, error_message = NULL, updated_at = NOW()
		WHERE audience_id = $1 AND claim_token = $2 AND status = 'in_flight'
	`, audienceID, claimToken, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("mark members uploaded: %w", err)
	}
	return res.RowsAffected()
}

func (r *AudienceRepo) ReleaseClaimedMembers(ctx context.Context, audienceID, claimToken, errMsg string, maxAttempts int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audience_users
		SET attempts = attempts + 1,
		    status = CASE WHEN $4 > 0 AND attempts + 1 >= $4 THEN 'failed' ELSE 'pending' END,
		    error_message = $3,
		    claim_token = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE audience_id = $1 AND claim_token = $2 AND status = 'in_flight'
	`, audienceID, claimToken, errMsg, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("release claimed members: %w", err)
	}
	return res.RowsAffected()
}

func (r *AudienceRepo) RecordSyncSuccess(ctx context.Context, audienceID string, u audiencesync.SuccessUpdate) error {
	var freq sql.NullInt64
	if u.FrequencyHours != nil {
		freq = sql.NullInt64{Int64: int64(*u.FrequencyHours), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE audiences
		SET last_synced_at = $2,
		    sync_status = $3,
		    status = CASE WHEN $4::boolean THEN 'ready' ELSE status END,
		    sync_frequency_hours = COALESCE($5::integer, sync_frequency_hours),
		    updated_at = NOW()
		WHERE id = $1
	`, audienceID, u.SyncedAt, string(u.SyncStatus), u.MarkReady, freq)
	if err != nil {
		return fmt.Errorf("record sync success: %w", err)
	}
	return nil
}

func (r *AudienceRepo) RecordSyncFailure(ctx context.Context, audienceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audiences SET sync_status = 'failed', updated_at = NOW() WHERE id = $1`,
		audienceID,
	)
	if err != nil {
		return fmt.Errorf("record sync failure: %w", err)
	}
	return nil
}

func (r *AudienceRepo) InsertSyncLog(ctx context.Context, l *domain.SyncLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO audience_sync_logs
			(id, audience_id, users_added, users_removed, users_failed, batch_count,
			 status, session_id, error_message, duration_seconds, started_at,
			 completed_at, triggered_by, triggered_by_user, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		RETURNING created_at
	`, l.ID, l.AudienceID, l.UsersAdded, l.UsersRemoved, l.UsersFailed, l.BatchCount,
		string(l.Status), l.SessionID, l.ErrorMessage, l.DurationSeconds, l.StartedAt,
		l.CompletedAt, string(l.TriggeredBy), l.TriggeredByUser,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

func (r *AudienceRepo) CountAudiences(ctx context.Context) (int, error) {
	return r.count(ctx, "count audiences",
		`SELECT COUNT(*) FROM audiences WHERE deleted_at IS NULL`)
}

func (r *AudienceRepo) CountAutoSyncAudiences(ctx context.Context) (int, error) {
	return r.count(ctx, "count auto-sync audiences",
		`SELECT COUNT(*) FROM audiences WHERE deleted_at IS NULL AND auto_sync = true`)
}

func (r *AudienceRepo) CountPendingMembers(ctx context.Context) (int, error) {
	return r.count(ctx, "count pending members",
		`SELECT COUNT(*) FROM audience_users WHERE status = 'pending'`)
}

func (r *AudienceRepo) count(ctx context.Context, what, q string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return n, nil
}

func (r *AudienceRepo) RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, l.audience_id, COALESCE(a.name, ''), l.users_added, l.users_removed,
		       l.users_failed, l.batch_count, l.status, l.session_id, l.error_message,
		       l.duration_seconds, l.started_at, l.completed_at, l.triggered_by,
		       l.triggered_by_user, l.created_at
		FROM audience_sync_logs l
		LEFT JOIN audiences a ON a.id = l.audience_id
		ORDER BY l.created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sync logs: %w", err)
	}
	defer rows.Close()

	out := []domain.SyncLog{}
	for rows.Next() {
		var (
			l               domain.SyncLog
			session, errMsg sql.NullString
			triggeredByUser sql.NullString
		)
		if err := rows.Scan(
			&l.ID, &l.AudienceID, &l.AudienceName, &l.UsersAdded, &l.UsersRemoved,
			&l.UsersFailed, &l.BatchCount, &l.Status, &session, &errMsg,
			&l.DurationSeconds, &l.StartedAt, &l.CompletedAt, &l.TriggeredBy,
			&triggeredByUser, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		l.SessionID = nullString(session)
		l.ErrorMessage = nullString(errMsg)
		l.TriggeredByUser = nullString(triggeredByUser)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *AudienceRepo) RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audience_users
		SET status = 'pending', claim_token = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'in_flight' AND claimed_at < $1
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale claims: %w", err)
	}
	return res.RowsAffected()
}
