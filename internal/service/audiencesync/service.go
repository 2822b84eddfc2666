package audiencesync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/ignite/audience-sync/internal/metrics"
	"github.com/ignite/audience-sync/internal/pkg/logger"
)

const (
	defaultCandidateCap      = 10000
	defaultClaimLimit        = 10000
	defaultMaxUploadAttempts = 5
	defaultOverviewLogLimit  = 20

	// leadCountry is attached to every hashed lead; the CRM only holds
	// Brazilian leads.
	leadCountry = "BR"
)

// Options tunes the orchestrator. Zero values take the defaults.
type Options struct {
	CandidateCap      int
	ClaimLimit        int
	MaxUploadAttempts int
	OverviewLogLimit  int
	// Now is the clock; tests pin it.
	Now func() time.Time
}

// Service runs audience syncs. A single Service is safe for concurrent use:
// overlapping runs of one audience upload disjoint claimed sets.
type Service struct {
	repo     Repository
	leads    LeadSource
	platform AdPlatform
	opts     Options
}

// NewService creates a sync orchestrator.
func NewService(repo Repository, leads LeadSource, platform AdPlatform, opts Options) *Service {
	if opts.CandidateCap <= 0 {
		opts.CandidateCap = defaultCandidateCap
	}
	if opts.ClaimLimit <= 0 {
		opts.ClaimLimit = defaultClaimLimit
	}
	if opts.MaxUploadAttempts <= 0 {
		opts.MaxUploadAttempts = defaultMaxUploadAttempts
	}
	if opts.OverviewLogLimit <= 0 {
		opts.OverviewLogLimit = defaultOverviewLogLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, leads: leads, platform: platform, opts: opts}
}

// SyncError is one failure recorded against a run.
type SyncError struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// SyncResult is the outcome of a single audience run.
type SyncResult struct {
	Success         bool              `json:"success"`
	AudienceID      string            `json:"audience_id"`
	Status          domain.SyncStatus `json:"status"`
	UsersAdded      int               `json:"users_added"`
	UsersRemoved    int               `json:"users_removed"`
	UsersFailed     int               `json:"users_failed"`
	BatchCount      int               `json:"batch_count"`
	SessionID       *string           `json:"session_id"`
	Errors          []SyncError       `json:"errors"`
	DurationSeconds int               `json:"duration_seconds"`
}

// SyncAllResult aggregates a sweep over every due audience.
type SyncAllResult struct {
	Success        bool          `json:"success"`
	TotalAudiences int           `json:"totalAudiences"`
	Synced         int           `json:"synced"`
	Partial        int           `json:"partial"`
	Failed         int           `json:"failed"`
	Results        []*SyncResult `json:"results"`
}

// Overview is the read-only dashboard summary.
type Overview struct {
	TotalAudiences    int              `json:"totalAudiences"`
	AutoSyncAudiences int              `json:"autoSyncAudiences"`
	PendingUsers      int              `json:"pendingUsers"`
	LastSyncAt        *time.Time       `json:"lastSyncAt"`
	RecentLogs        []domain.SyncLog `json:"recentLogs"`
}

// run carries the state of one SyncAudience call between its steps.
type run struct {
	audience   *domain.Audience
	startedAt  time.Time
	trigger    domain.TriggerSource
	user       *string
	claimToken string
}

// SyncAudience synchronizes one audience. The returned error is non-nil only
// when the audience cannot be loaded; every other failure is captured in the
// result and in a failed sync log.
func (s *Service) SyncAudience(ctx context.Context, audienceID string, triggeredBy domain.TriggerSource, triggeredByUser *string) (*SyncResult, error) {
	startedAt := s.opts.Now()

	aud, err := s.repo.GetAudience(ctx, audienceID)
	if err != nil {
		if errors.Is(err, ErrAudienceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load audience %s: %w", audienceID, err)
	}
	// Deleted audiences are gone as far as sync is concerned; running would
	// flip their status back to ready.
	if aud.DeletedAt != nil {
		return nil, ErrAudienceNotFound
	}
	if triggeredBy == "" {
		triggeredBy = domain.TriggerManual
	}

	r := &run{audience: aud, startedAt: startedAt, trigger: triggeredBy, user: triggeredByUser}
	result, err := s.execute(ctx, r)
	if err != nil {
		return s.fail(ctx, r, err), nil
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, r *run) (*SyncResult, error) {
	aud := r.audience

	// last_synced_at is set to startedAt, which precedes this query, so a
	// lead updated while the run is in flight is picked up next time.
	candidates, err := s.leads.ListLeadCandidates(ctx, aud.LastSyncedAt, s.opts.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("list lead candidates: %w", err)
	}

	members := BuildMembers(aud.ID, candidates)
	if len(members) > 0 {
		if err := s.repo.UpsertPendingMembers(ctx, members); err != nil {
			return nil, fmt.Errorf("upsert members: %w", err)
		}
	}

	token := uuid.NewString()
	claimed, err := s.repo.ClaimPendingMembers(ctx, aud.ID, token, s.opts.ClaimLimit, s.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("claim pending members: %w", err)
	}
	if len(claimed) > 0 {
		r.claimToken = token
	}

	if len(claimed) == 0 {
		freq := aud.EffectiveSyncFrequency()
		if err := s.repo.RecordSyncSuccess(ctx, aud.ID, SuccessUpdate{
			SyncedAt:       r.startedAt,
			SyncStatus:     domain.SyncSuccess,
			FrequencyHours: &freq,
		}); err != nil {
			return nil, fmt.Errorf("record sync: %w", err)
		}
		result := &SyncResult{
			Success:    true,
			AudienceID: aud.ID,
			Status:     domain.SyncSuccess,
			Errors:     []SyncError{},
		}
		return s.finish(ctx, r, result)
	}

	if aud.MetaAudienceID == "" {
		return nil, ErrNoExternalID
	}

	users := make([]hashing.HashedUserData, 0, len(claimed))
	for _, m := range claimed {
		users = append(users, memberToHashed(m))
	}

	upload, err := s.platform.AddUsers(ctx, aud.MetaAudienceID, users)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if _, err := s.repo.MarkMembersUploaded(ctx, aud.ID, token, upload.SessionID, now); err != nil {
		return nil, fmt.Errorf("mark uploaded: %w", err)
	}
	// Rows are no longer in flight; a later failure must not release them.
	r.claimToken = ""

	status := domain.SyncSuccess
	if upload.NumInvalid > 0 {
		status = domain.SyncPartial
	}
	if err := s.repo.RecordSyncSuccess(ctx, aud.ID, SuccessUpdate{
		SyncedAt:   r.startedAt,
		SyncStatus: status,
		MarkReady:  true,
	}); err != nil {
		return nil, fmt.Errorf("record sync: %w", err)
	}

	result := &SyncResult{
		Success:     true,
		AudienceID:  aud.ID,
		Status:      status,
		UsersAdded:  upload.NumReceived,
		UsersFailed: upload.NumInvalid,
		BatchCount:  upload.Batches,
		Errors:      []SyncError{},
	}
	if upload.SessionID != "" {
		sid := upload.SessionID
		result.SessionID = &sid
	}
	return s.finish(ctx, r, result)
}

// finish writes the success log and records metrics.
func (s *Service) finish(ctx context.Context, r *run, result *SyncResult) (*SyncResult, error) {
	completedAt := s.opts.Now()
	result.DurationSeconds = roundSeconds(completedAt.Sub(r.startedAt))

	if err := s.repo.InsertSyncLog(ctx, s.newLog(r, result, completedAt, nil)); err != nil {
		return nil, fmt.Errorf("insert sync log: %w", err)
	}

	metrics.RecordSyncRun(string(result.Status), string(r.trigger), result.UsersAdded, result.UsersFailed, completedAt.Sub(r.startedAt))
	logger.Info("[audiencesync] sync complete",
		"audience_id", r.audience.ID,
		"status", result.Status,
		"users_added", result.UsersAdded,
		"users_failed", result.UsersFailed,
		"batches", result.BatchCount,
		"trigger", r.trigger)
	return result, nil
}

// fail releases any claim, marks the audience failed and writes the failed
// log. Cleanup runs even when ctx has been canceled.
func (s *Service) fail(ctx context.Context, r *run, cause error) *SyncResult {
	cleanupCtx := context.WithoutCancel(ctx)
	msg := cause.Error()
	aud := r.audience

	logger.Error("[audiencesync] sync failed", "audience_id", aud.ID, "trigger", r.trigger, "error", msg)

	if r.claimToken != "" {
		n, err := s.repo.ReleaseClaimedMembers(cleanupCtx, aud.ID, r.claimToken, msg, s.opts.MaxUploadAttempts)
		if err != nil {
			logger.Error("[audiencesync] release claim failed", "audience_id", aud.ID, "error", err)
		} else {
			logger.Info("[audiencesync] claimed members released", "audience_id", aud.ID, "released", n)
		}
	}
	if err := s.repo.RecordSyncFailure(cleanupCtx, aud.ID); err != nil {
		logger.Error("[audiencesync] record failure status failed", "audience_id", aud.ID, "error", err)
	}

	completedAt := s.opts.Now()
	result := &SyncResult{
		Success:         false,
		AudienceID:      aud.ID,
		Status:          domain.SyncFailed,
		Errors:          []SyncError{{Ref: aud.ID, Error: msg}},
		DurationSeconds: roundSeconds(completedAt.Sub(r.startedAt)),
	}
	if err := s.repo.InsertSyncLog(cleanupCtx, s.newLog(r, result, completedAt, &msg)); err != nil {
		logger.Error("[audiencesync] insert failed sync log", "audience_id", aud.ID, "error", err)
	}

	metrics.RecordSyncRun(string(domain.SyncFailed), string(r.trigger), 0, 0, completedAt.Sub(r.startedAt))
	return result
}

func (s *Service) newLog(r *run, result *SyncResult, completedAt time.Time, errMsg *string) *domain.SyncLog {
	return &domain.SyncLog{
		ID:              uuid.NewString(),
		AudienceID:      r.audience.ID,
		UsersAdded:      result.UsersAdded,
		UsersRemoved:    0,
		UsersFailed:     result.UsersFailed,
		BatchCount:      result.BatchCount,
		Status:          result.Status,
		SessionID:       result.SessionID,
		ErrorMessage:    errMsg,
		DurationSeconds: result.DurationSeconds,
		StartedAt:       r.startedAt,
		CompletedAt:     completedAt,
		TriggeredBy:     r.trigger,
		TriggeredByUser: r.user,
		CreatedAt:       completedAt,
	}
}

// SyncAllAudiences runs every due audience one after another. The error is
// non-nil when the due set cannot be listed or ctx ends mid-sweep; in the
// latter case the partial result is returned too.
func (s *Service) SyncAllAudiences(ctx context.Context, triggeredBy domain.TriggerSource, triggeredByUser *string) (*SyncAllResult, error) {
	audiences, err := s.repo.ListAutoSyncAudiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auto-sync audiences: %w", err)
	}

	now := s.opts.Now()
	due := make([]domain.Audience, 0, len(audiences))
	for i := range audiences {
		if audiences[i].IsDue(now) {
			due = append(due, audiences[i])
		}
	}

	out := &SyncAllResult{TotalAudiences: len(due), Results: make([]*SyncResult, 0, len(due))}
	for _, aud := range due {
		if err := ctx.Err(); err != nil {
			out.Success = false
			return out, err
		}

		res, err := s.SyncAudience(ctx, aud.ID, triggeredBy, triggeredByUser)
		if err != nil {
			// Deleted between listing and running, or unreadable
			res = &SyncResult{
				AudienceID: aud.ID,
				Status:     domain.SyncFailed,
				Errors:     []SyncError{{Ref: aud.ID, Error: err.Error()}},
			}
		}
		out.Results = append(out.Results, res)

		switch {
		case res.Success && res.UsersFailed == 0:
			out.Synced++
		case res.Success:
			out.Partial++
		default:
			out.Failed++
		}
	}
	out.Success = out.Failed == 0

	logger.Info("[audiencesync] sweep complete",
		"trigger", triggeredBy,
		"due", out.TotalAudiences,
		"synced", out.Synced,
		"partial", out.Partial,
		"failed", out.Failed)
	return out, nil
}

// GetAudienceSyncOverview summarizes sync state for the dashboard.
func (s *Service) GetAudienceSyncOverview(ctx context.Context) (*Overview, error) {
	total, err := s.repo.CountAudiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("count audiences: %w", err)
	}
	autoSync, err := s.repo.CountAutoSyncAudiences(ctx)
	if err != nil {
		return nil, fmt.Errorf("count auto-sync audiences: %w", err)
	}
	pending, err := s.repo.CountPendingMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending members: %w", err)
	}
	logs, err := s.repo.RecentSyncLogs(ctx, s.opts.OverviewLogLimit)
	if err != nil {
		return nil, fmt.Errorf("recent sync logs: %w", err)
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}

	ov := &Overview{
		TotalAudiences:    total,
		AutoSyncAudiences: autoSync,
		PendingUsers:      pending,
		RecentLogs:        logs,
	}
	if len(logs) > 0 {
		last := logs[0].CreatedAt
		ov.LastSyncAt = &last
	}
	return ov, nil
}

// RequeueStaleClaims returns members stuck in flight since before olderThan.
func (s *Service) RequeueStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := s.repo.RequeueStaleClaims(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeue stale claims: %w", err)
	}
	metrics.RecordClaimsRecovered(n)
	return n, nil
}

// BuildMembers turns eligible leads into pending audience members. Leads
// with neither a valid email nor a valid phone are dropped.
func BuildMembers(audienceID string, leads []domain.LeadRecord) []domain.AudienceUser {
	members := make([]domain.AudienceUser, 0, len(leads))
	for i := range leads {
		lead := &leads[i]
		if !lead.IsEligible() {
			continue
		}
		hashed, ok := hashLead(lead)
		if !ok {
			continue
		}
		m := domain.AudienceUser{
			ID:             uuid.NewString(),
			AudienceID:     audienceID,
			LeadID:         lead.ID,
			ExternalIDHash: hashed.ExternalID,
			Status:         domain.MemberPending,
		}
		if hashed.Email != "" {
			m.EmailHash = &hashed.Email
		}
		if hashed.Phone != "" {
			m.PhoneHash = &hashed.Phone
		}
		members = append(members, m)
	}
	return members
}

func hashLead(lead *domain.LeadRecord) (hashing.HashedUserData, bool) {
	email := strings.TrimSpace(lead.Email)
	phone := strings.TrimSpace(lead.Phone)
	useEmail := email != "" && hashing.ValidateEmail(email)
	usePhone := phone != "" && hashing.ValidatePhone(phone)
	if !useEmail && !usePhone {
		return hashing.HashedUserData{}, false
	}

	data := hashing.UserData{
		ExternalID: lead.ID,
		FirstName:  lead.Name,
		Country:    leadCountry,
	}
	if useEmail {
		data.Email = email
	}
	if usePhone {
		data.Phone = phone
	}
	hashed := hashing.HashUserData(data)
	return hashed, hashed.ExternalID != ""
}

func memberToHashed(m domain.AudienceUser) hashing.HashedUserData {
	u := hashing.HashedUserData{ExternalID: m.ExternalIDHash}
	if m.EmailHash != nil {
		u.Email = *m.EmailHash
	}
	if m.PhoneHash != nil {
		u.Phone = *m.PhoneHash
	}
	return u
}

func roundSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}
