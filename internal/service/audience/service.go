package audience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/hashing"
	"github.com/ignite/audience-sync/internal/metaads"
	"github.com/ignite/audience-sync/internal/pkg/logger"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 500
	defaultInsightDays  = 30
	maxInsightDays      = 180
	defaultLookalike    = 0.01
	defaultCountry      = "BR"
	minLookalikeSources = 100
)

// Service implements audience management. A nil remote means the ad
// platform is unavailable: reads degrade to local data and creates fail
// with ErrRemoteUnavailable.
type Service struct {
	repo      Repository
	remote    Remote
	accountID string
	now       func() time.Time
}

// NewService creates an audience service. accountID is stored on created
// rows, without the "act_" prefix.
func NewService(repo Repository, remote Remote, accountID string) *Service {
	return &Service{repo: repo, remote: remote, accountID: accountID, now: time.Now}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RemoteAvailable reports whether create calls can reach the ad platform.
func (s *Service) RemoteAvailable() bool { return s.remote != nil }

// View is an audience row optionally merged with live platform data.
type View struct {
	domain.Audience
	MetaStatus *string `json:"meta_status,omitempty"`
}

// ListResult is returned by List.
type ListResult struct {
	Total           int    `json:"total"`
	Audiences       []View `json:"audiences"`
	MetaUnavailable bool   `json:"metaUnavailable,omitempty"`
}

// List returns local audiences, merged with remote counts and status when
// WithMeta is set. A remote failure falls back to the local rows.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	f.Limit = clamp(f.Limit, 1, maxListLimit, defaultListLimit)

	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	views := make([]View, len(rows))
	for i := range rows {
		views[i] = View{Audience: rows[i]}
	}
	out := &ListResult{Total: len(views), Audiences: views}
	if !f.WithMeta {
		return out, nil
	}
	if s.remote == nil {
		out.MetaUnavailable = true
		return out, nil
	}

	remote, err := s.remote.ListAudiences(ctx)
	if err != nil {
		logger.Warn("[audience] remote list failed, serving local rows", "error", err)
		remote = nil
	}
	byID := make(map[string]metaads.AudienceSummary, len(remote))
	for _, r := range remote {
		byID[r.ID] = r
	}
	for i := range views {
		r, ok := byID[views[i].MetaAudienceID]
		if !ok {
			continue
		}
		views[i].ApproximateCount = r.ApproximateCount
		status := r.Status
		views[i].MetaStatus = &status
	}
	return out, nil
}

// CreateCustomInput holds the fields for creating a custom or saved audience.
type CreateCustomInput struct {
	Type               domain.AudienceType
	Name               string
	Description        *string
	Subtype            string
	Rule               json.RawMessage
	RetentionDays      int
	AutoSync           *bool
	SyncFrequencyHours int
	CreatedBy          *string
}

// CreateCustom creates the audience remotely, then stores it as populating.
func (s *Service) CreateCustom(ctx context.Context, in CreateCustomInput) (*domain.Audience, error) {
	if in.Type == "" {
		in.Type = domain.AudienceCustom
	}
	if in.Type == domain.AudienceLookalike {
		return nil, fmt.Errorf("%w: use the lookalike endpoint to create lookalike audiences", ErrInvalidInput)
	}
	if in.Type != domain.AudienceCustom && in.Type != domain.AudienceSaved {
		return nil, fmt.Errorf("%w: unknown audience type %q", ErrInvalidInput, in.Type)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if s.remote == nil {
		return nil, ErrRemoteUnavailable
	}

	subtype := NormalizeSubtype(in.Subtype)
	description := ""
	if in.Description != nil {
		description = *in.Description
	}

	created, err := s.remote.CreateCustomAudience(ctx, metaads.CustomAudienceInput{
		Name:          name,
		Description:   description,
		Subtype:       string(subtype),
		Rule:          in.Rule,
		RetentionDays: in.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	var retention *int
	if in.RetentionDays > 0 {
		retention = &in.RetentionDays
	}
	cfg, _ := json.Marshal(map[string]*int{"retention_days": retention})

	autoSync := true
	if in.AutoSync != nil {
		autoSync = *in.AutoSync
	}

	a := &domain.Audience{
		MetaAudienceID:     created.ID,
		MetaAccountID:      s.accountID,
		Type:               in.Type,
		Subtype:            &subtype,
		Name:               name,
		Description:        nonEmpty(in.Description),
		Config:             cfg,
		Status:             domain.AudiencePopulating,
		AutoSync:           autoSync,
		SyncFrequencyHours: domain.NormalizeSyncFrequency(in.SyncFrequencyHours),
		CreatedBy:          in.CreatedBy,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("store audience: %w", err)
	}

	logger.Info("[audience] custom audience created", "audience_id", a.ID, "meta_audience_id", a.MetaAudienceID)
	return a, nil
}

// CreateLookalikeInput holds the fields for creating a lookalike audience.
// SourceAudienceID is the local id of the origin audience.
type CreateLookalikeInput struct {
	SourceAudienceID string
	Country          string
	Ratio            float64
	StartingRatio    *float64
	Name             string
	Description      *string
	CreatedBy        *string
}

// CreateLookalike creates a lookalike of a stored audience. Lookalikes are
// maintained by the platform, so auto-sync is off.
func (s *Service) CreateLookalike(ctx context.Context, in CreateLookalikeInput) (*domain.Audience, error) {
	if strings.TrimSpace(in.SourceAudienceID) == "" {
		return nil, fmt.Errorf("%w: sourceAudienceId is required", ErrInvalidInput)
	}
	ratio := in.Ratio
	if ratio == 0 {
		ratio = defaultLookalike
	}
	if !hashing.ValidateLookalikeRatio(ratio) {
		return nil, fmt.Errorf("%w: ratio must be between 0.01 and 0.10", ErrInvalidInput)
	}
	country := strings.ToUpper(strings.TrimSpace(in.Country))
	if country == "" {
		country = defaultCountry
	}

	source, err := s.repo.Get(ctx, in.SourceAudienceID)
	if err != nil {
		return nil, fmt.Errorf("lookalike source: %w", err)
	}
	if source.DeletedAt != nil {
		return nil, fmt.Errorf("lookalike source: %w", ErrNotFound)
	}
	if s.remote == nil {
		return nil, ErrRemoteUnavailable
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		label := fmt.Sprintf("%s %d%% %s", source.Name, int(math.Round(ratio*100)), country)
		name = hashing.GenerateAudienceName("lookalike", label, s.now())
	}

	created, err := s.remote.CreateLookalikeAudience(ctx, metaads.LookalikeInput{
		SourceAudienceID: source.MetaAudienceID,
		Country:          country,
		Ratio:            ratio,
		StartingRatio:    in.StartingRatio,
		Name:             name,
	})
	if err != nil {
		return nil, err
	}

	sourceID := source.ID
	a := &domain.Audience{
		MetaAudienceID:   created.ID,
		MetaAccountID:    s.accountID,
		Type:             domain.AudienceLookalike,
		Name:             created.Name,
		Description:      nonEmpty(in.Description),
		SourceAudienceID: &sourceID,
		LookalikeSpec: &domain.LookalikeSpec{
			Country:       country,
			Ratio:         ratio,
			StartingRatio: in.StartingRatio,
		},
		Status:             domain.AudiencePopulating,
		AutoSync:           false,
		SyncFrequencyHours: domain.DefaultSyncFrequencyHours,
		CreatedBy:          in.CreatedBy,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("store audience: %w", err)
	}

	logger.Info("[audience] lookalike created", "audience_id", a.ID, "source_id", source.ID, "ratio", ratio, "country", country)
	return a, nil
}

// ListLookalikeSources returns custom audiences usable as lookalike seeds.
// When any audience has at least 100 members only those are returned.
func (s *Service) ListLookalikeSources(ctx context.Context) ([]domain.Audience, error) {
	rows, err := s.repo.ListByType(ctx, domain.AudienceCustom)
	if err != nil {
		return nil, err
	}
	large := make([]domain.Audience, 0, len(rows))
	for _, r := range rows {
		if r.ApproximateCount >= minLookalikeSources {
			large = append(large, r)
		}
	}
	if len(large) > 0 {
		return large, nil
	}
	if rows == nil {
		rows = []domain.Audience{}
	}
	return rows, nil
}

// Detail is a single audience with its queue depth and live platform view.
type Detail struct {
	Audience     *domain.Audience         `json:"audience"`
	PendingUsers int                      `json:"pending_users"`
	Meta         *metaads.AudienceSummary `json:"meta"`
}

// Get returns a live audience. Soft-deleted audiences are not found.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DeletedAt != nil {
		return nil, ErrNotFound
	}

	pending, err := s.repo.CountPendingFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}

	d := &Detail{Audience: a, PendingUsers: pending}
	if s.remote != nil && a.MetaAudienceID != "" {
		meta, err := s.remote.GetAudience(ctx, a.MetaAudienceID)
		if err != nil {
			logger.Warn("[audience] remote status unavailable", "audience_id", id, "error", err)
		} else {
			d.Meta = meta
		}
	}
	return d, nil
}

// UpdateInput holds the editable fields. ClearDescription sets the
// description to NULL.
type UpdateInput struct {
	Name               *string
	Description        *string
	ClearDescription   bool
	AutoSync           *bool
	SyncFrequencyHours *int
	Status             *string
}

// Update edits an audience. Name and description changes are pushed to the
// platform first, best effort.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Audience, error) {
	fields := UpdateFields{
		Description:      in.Description,
		ClearDescription: in.ClearDescription,
		AutoSync:         in.AutoSync,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		fields.Name = &name
	}
	if in.SyncFrequencyHours != nil {
		h := *in.SyncFrequencyHours
		if h < 1 {
			h = 1
		}
		fields.SyncFrequencyHours = &h
	}
	if in.Status != nil {
		st, ok := parseStatus(*in.Status)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *in.Status)
		}
		fields.Status = &st
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.remote != nil && current.MetaAudienceID != "" && (fields.Name != nil || in.Description != nil || in.ClearDescription) {
		patch := metaads.AudiencePatch{Name: fields.Name, Description: in.Description}
		if in.ClearDescription {
			empty := ""
			patch.Description = &empty
		}
		if err := s.remote.UpdateAudience(ctx, current.MetaAudienceID, patch); err != nil {
			logger.Warn("[audience] remote update failed, keeping local update", "audience_id", id, "error", err)
		}
	}

	return s.repo.Update(ctx, id, fields)
}

// Delete removes the audience remotely (best effort) and soft-deletes it.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if s.remote != nil && current.MetaAudienceID != "" {
		if err := s.remote.DeleteAudience(ctx, current.MetaAudienceID); err != nil {
			logger.Warn("[audience] remote delete failed, soft-deleting locally", "audience_id", id, "error", err)
		}
	}

	if err := s.repo.SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	logger.Info("[audience] audience deleted", "audience_id", id)
	return nil
}

// InsightSummary totals insight rows with derived ratios.
type InsightSummary struct {
	Reach       int64   `json:"reach"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	CTR         float64 `json:"ctr"`
	CPC         float64 `json:"cpc"`
	CPA         float64 `json:"cpa"`
	ROAS        float64 `json:"roas"`
}

// InsightsReport is returned by Insights.
type InsightsReport struct {
	AudienceID string                   `json:"audienceId"`
	Days       int                      `json:"days"`
	Summary    InsightSummary           `json:"summary"`
	Insights   []domain.AudienceInsight `json:"insights"`
}

// Insights sums the audience's insight rows of the last days days (1..180,
// default 30).
func (s *Service) Insights(ctx context.Context, id string, days int) (*InsightsReport, error) {
	days = clamp(days, 1, maxInsightDays, defaultInsightDays)

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -days)

	rows, err := s.repo.ListInsights(ctx, id, since)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	if rows == nil {
		rows = []domain.AudienceInsight{}
	}

	return &InsightsReport{
		AudienceID: id,
		Days:       days,
		Summary:    Summarize(rows),
		Insights:   rows,
	}, nil
}

// Summarize totals rows; ratios are zero when their denominator is.
func Summarize(rows []domain.AudienceInsight) InsightSummary {
	var sum InsightSummary
	for _, r := range rows {
		sum.Reach += r.Reach
		sum.Impressions += r.Impressions
		sum.Clicks += r.Clicks
		sum.Spend += r.Spend
		sum.Conversions += r.Conversions
		sum.Revenue += r.Revenue
	}
	if sum.Impressions > 0 {
		sum.CTR = float64(sum.Clicks) / float64(sum.Impressions) * 100
	}
	if sum.Clicks > 0 {
		sum.CPC = sum.Spend / float64(sum.Clicks)
	}
	if sum.Conversions > 0 {
		sum.CPA = sum.Spend / float64(sum.Conversions)
	}
	if sum.Spend > 0 {
		sum.ROAS = sum.Revenue / sum.Spend
	}
	return sum
}

// NormalizeSubtype lower-cases v and maps unknown values to customer_list.
func NormalizeSubtype(v string) domain.AudienceSubtype {
	n := domain.AudienceSubtype(strings.ToLower(strings.TrimSpace(v)))
	for _, s := range domain.SupportedSubtypes {
		if s == n {
			return n
		}
	}
	return domain.SubtypeCustomerList
}

func parseStatus(v string) (domain.AudienceStatus, bool) {
	switch st := domain.AudienceStatus(strings.ToLower(strings.TrimSpace(v))); st {
	case domain.AudiencePopulating, domain.AudienceReady, domain.AudienceError, domain.AudienceDeleted:
		return st, true
	}
	return "", false
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

// IsNotFound reports whether err means the audience does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
