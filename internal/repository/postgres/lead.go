package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/audience-sync/internal/domain"
)

// LeadRepo reads audience candidates from the CRM lead table.
type LeadRepo struct{ db *sql.DB }

// NewLeadRepo creates a Postgres-backed lead source.
func NewLeadRepo(db *sql.DB) *LeadRepo { return &LeadRepo{db: db} }

// ListLeadCandidates returns the newest leads, or the leads updated at or
// after since. The phone is the WhatsApp number when present, otherwise
// the landline.
func (r *LeadRepo) ListLeadCandidates(ctx context.Context, since *time.Time, limit int) ([]domain.LeadRecord, error) {
	q := `
		SELECT id::text, COALESCE(email, ''),
		       COALESCE(NULLIF(whatsapp, ''), NULLIF(telefone, ''), ''),
		       COALESCE(nome, ''), updated_at, COALESCE(status, '')
		FROM insurance_leads`
	args := []interface{}{}
	if since != nil {
		q += ` WHERE updated_at >= $1 ORDER BY updated_at DESC LIMIT $2`
		args = append(args, *since, limit)
	} else {
		q += ` ORDER BY updated_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list lead candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.LeadRecord
	for rows.Next() {
		var l domain.LeadRecord
		if err := rows.Scan(&l.ID, &l.Email, &l.Phone, &l.Name, &l.UpdatedAt, &l.Status); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
