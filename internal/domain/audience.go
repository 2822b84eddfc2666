package domain

import (
	"encoding/json"
	"time"
)

// AudienceType enumerates the kinds of audiences that can be managed.
type AudienceType string

const (
	AudienceCustom    AudienceType = "custom"
	AudienceLookalike AudienceType = "lookalike"
	AudienceSaved     AudienceType = "saved"
)

// AudienceSubtype describes the data source of a custom audience.
type AudienceSubtype string

const (
	SubtypeCustomerList AudienceSubtype = "customer_list"
	SubtypeWebsite      AudienceSubtype = "website"
	SubtypeApp          AudienceSubtype = "app"
	SubtypeOffline      AudienceSubtype = "offline"
	SubtypeEngagement   AudienceSubtype = "engagement"
)

// SupportedSubtypes lists every subtype accepted on creation.
var SupportedSubtypes = []AudienceSubtype{
	SubtypeCustomerList,
	SubtypeWebsite,
	SubtypeApp,
	SubtypeOffline,
	SubtypeEngagement,
}

// AudienceStatus is the lifecycle state of the audience on the ad platform.
type AudienceStatus string

const (
	AudiencePopulating AudienceStatus = "populating"
	AudienceReady      AudienceStatus = "ready"
	AudienceError      AudienceStatus = "error"
	AudienceDeleted    AudienceStatus = "deleted"
)

// SyncStatus is the outcome of the most recent sync run.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncPartial SyncStatus = "partial"
	SyncFailed  SyncStatus = "failed"
	SyncPending SyncStatus = "pending"
)

// DefaultSyncFrequencyHours is used when an audience has no cadence set.
const DefaultSyncFrequencyHours = 4

// LookalikeSpec is the similarity configuration of a lookalike audience.
type LookalikeSpec struct {
	Country       string   `json:"country"`
	Ratio         float64  `json:"ratio"`
	StartingRatio *float64 `json:"starting_ratio,omitempty"`
}

// Audience is a targeting list mirrored on the external ad platform.
type Audience struct {
	ID                 string           `json:"id" db:"id"`
	MetaAudienceID     string           `json:"meta_audience_id" db:"meta_audience_id"`
	MetaAccountID      string           `json:"meta_account_id" db:"meta_account_id"`
	Type               AudienceType     `json:"audience_type" db:"audience_type"`
	Subtype            *AudienceSubtype `json:"subtype" db:"subtype"`
	Name               string           `json:"name" db:"name"`
	Description        *string          `json:"description" db:"description"`
	Config             json.RawMessage  `json:"config,omitempty" db:"config"`
	SourceAudienceID   *string          `json:"source_audience_id" db:"source_audience_id"`
	LookalikeSpec      *LookalikeSpec   `json:"lookalike_spec" db:"lookalike_spec"`
	Status             AudienceStatus   `json:"status" db:"status"`
	ApproximateCount   int64            `json:"approximate_count" db:"approximate_count"`
	AutoSync           bool             `json:"auto_sync" db:"auto_sync"`
	SyncFrequencyHours int              `json:"sync_frequency_hours" db:"sync_frequency_hours"`
	LastSyncedAt       *time.Time       `json:"last_synced_at" db:"last_synced_at"`
	SyncStatus         *SyncStatus      `json:"sync_status" db:"sync_status"`
	CreatedBy          *string          `json:"created_by" db:"created_by"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time       `json:"deleted_at" db:"deleted_at"`
}

// EffectiveSyncFrequency returns the cadence in hours, never less than one.
func (a *Audience) EffectiveSyncFrequency() int {
	return NormalizeSyncFrequency(a.SyncFrequencyHours)
}

// NormalizeSyncFrequency applies the default and the one-hour floor.
func NormalizeSyncFrequency(hours int) int {
	if hours == 0 {
		hours = DefaultSyncFrequencyHours
	}
	if hours < 1 {
		return 1
	}
	return hours
}

// IsDue reports whether an auto-synced audience has reached its cadence.
// An audience that was never synced is always due.
func (a *Audience) IsDue(now time.Time) bool {
	if !a.AutoSync || a.DeletedAt != nil || a.Status == AudienceDeleted {
		return false
	}
	if a.LastSyncedAt == nil {
		return true
	}
	interval := time.Duration(a.EffectiveSyncFrequency()) * time.Hour
	return now.Sub(*a.LastSyncedAt) >= interval
}
