package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/service/audience"
)

// AudienceRepo implements audience.Repository and audiencesync.Repository
// against PostgreSQL.
type AudienceRepo struct{ db *sql.DB }

// NewAudienceRepo creates a Postgres-backed audience repository.
func NewAudienceRepo(db *sql.DB) *AudienceRepo { return &AudienceRepo{db: db} }

const audienceColumns = `id, meta_audience_id, COALESCE(meta_account_id,''), audience_type, subtype,
	name, description, config, source_audience_id, lookalike_spec, status,
	approximate_count, auto_sync, sync_frequency_hours, last_synced_at, sync_status,
	created_by, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAudience(s rowScanner) (*domain.Audience, error) {
	var (
		a                              domain.Audience
		subtype, description, sourceID sql.NullString
		syncStatus, createdBy          sql.NullString
		config, lookalike              []byte
		lastSyncedAt, deletedAt        sql.NullTime
	)
	err := s.Scan(
		&a.ID, &a.MetaAudienceID, &a.MetaAccountID, &a.Type, &subtype,
		&a.Name, &description, &config, &sourceID, &lookalike, &a.Status,
		&a.ApproximateCount, &a.AutoSync, &a.SyncFrequencyHours, &lastSyncedAt, &syncStatus,
		&createdBy, &a.CreatedAt, &a.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if subtype.Valid {
		st := domain.AudienceSubtype(subtype.String)
		a.Subtype = &st
	}
	if syncStatus.Valid {
		ss := domain.SyncStatus(syncStatus.String)
		a.SyncStatus = &ss
	}
	a.Description = nullString(description)
	a.SourceAudienceID = nullString(sourceID)
	a.CreatedBy = nullString(createdBy)
	a.LastSyncedAt = nullTime(lastSyncedAt)
	a.DeletedAt = nullTime(deletedAt)
	if len(config) > 0 {
		a.Config = json.RawMessage(config)
	}
	if len(lookalike) > 0 && string(lookalike) != "null" {
		var spec domain.LookalikeSpec
		if err := json.Unmarshal(lookalike, &spec); err != nil {
			return nil, fmt.Errorf("decode lookalike_spec: %w", err)
		}
		a.LookalikeSpec = &spec
	}
	return &a, nil
}

func (r *AudienceRepo) queryAudiences(ctx context.Context, q string, args ...interface{}) ([]domain.Audience, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Audience{}
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audience: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AudienceRepo) Get(ctx context.Context, id string) (*domain.Audience, error) {
	a, err := scanAudience(r.db.QueryRowContext(ctx,
		`SELECT `+audienceColumns+` FROM audiences WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, audience.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audience: %w", err)
	}
	return a, nil
}

func (r *AudienceRepo) List(ctx context.Context, f audience.ListFilter) ([]domain.Audience, error) {
	q := `SELECT ` + audienceColumns + ` FROM audiences WHERE deleted_at IS NULL`
	args := []interface{}{}
	idx := 1
	if f.Type != "" {
		q += fmt.Sprintf(" AND audience_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, f.Limit)

	out, err := r.queryAudiences(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audiences: %w", err)
	}
	return out, nil
}

func (r *AudienceRepo) ListByType(ctx context.Context, t domain.AudienceType) ([]domain.Audience, error) {
	out, err := r.queryAudiences(ctx, `
		SELECT `+audienceColumns+`
		FROM audiences
		WHERE audience_type = $1 AND deleted_at IS NULL
		ORDER BY approximate_count DESC`, t)
	if err != nil {
		return nil, fmt.Errorf("list audiences by type: %w", err)
	}
	return out, nil
}

func (r *AudienceRepo) Create(ctx context.Context, a *domain.Audience) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	spec, err := jsonParam(a.LookalikeSpec)
	if err != nil {
		return err
	}
	var config interface{}
	if len(a.Config) > 0 {
		config = string(a.Config)
	}
	var subtype interface{}
	if a.Subtype != nil {
		subtype = string(*a.Subtype)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO audiences
			(id, meta_audience_id, meta_account_id, audience_type, subtype, name,
			 description, config, source_audience_id, lookalike_spec, status,
			 auto_sync, sync_frequency_hours, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::jsonb, '{}'::jsonb), $9, $10::jsonb,
			$11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`, a.ID, a.MetaAudienceID, a.MetaAccountID, a.Type, subtype, a.Name,
		a.Description, config, a.SourceAudienceID, spec, a.Status,
		a.AutoSync, a.SyncFrequencyHours, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create audience: %w", err)
	}
	return nil
}

func (r *AudienceRepo) Update(ctx context.Context, id string, u audience.UpdateFields) (*domain.Audience, error) {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.ClearDescription {
		sets = append(sets, "description = NULL")
	} else if u.Description != nil {
		add("description", *u.Description)
	}
	if u.AutoSync != nil {
		add("auto_sync", *u.AutoSync)
	}
	if u.SyncFrequencyHours != nil {
		add("sync_frequency_hours", *u.SyncFrequencyHours)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	sets = append(sets, "updated_at = NOW()")

	q := fmt.Sprintf(`UPDATE audiences SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), idx, audienceColumns)
	args = append(args, id)

	a, err := scanAudience(r.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, audience.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update audience: %w", err)
	}
	return a, nil
}

func (r *AudienceRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE audiences
		SET status = 'deleted', deleted_at = $2, auto_sync = false, updated_at = NOW()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete audience: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return audience.ErrNotFound
	}
	return nil
}

func (r *AudienceRepo) CountPendingFor(ctx context.Context, audienceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audience_users WHERE audience_id = $1 AND status = 'pending'`,
		audienceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending members: %w", err)
	}
	return n, nil
}

func (r *AudienceRepo) ListInsights(ctx context.Context, audienceID string, since time.Time) ([]domain.AudienceInsight, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT audience_id, reach, impressions, clicks, spend, conversions, revenue,
		       date_start, date_end
		FROM audience_insights
		WHERE audience_id = $1 AND date_start >= $2
		ORDER BY date_start DESC
	`, audienceID, since)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	out := []domain.AudienceInsight{}
	for rows.Next() {
		var in domain.AudienceInsight
		if err := rows.Scan(
			&in.AudienceID, &in.Reach, &in.Impressions, &in.Clicks, &in.Spend,
			&in.Conversions, &in.Revenue, &in.DateStart, &in.DateEnd,
		); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func jsonParam(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *domain.LookalikeSpec:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
