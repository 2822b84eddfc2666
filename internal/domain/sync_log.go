package domain

import "time"

// TriggerSource identifies what started a sync run.
type TriggerSource string

const (
	TriggerManual  TriggerSource = "manual"
	TriggerCron    TriggerSource = "cron"
	TriggerWebhook TriggerSource = "webhook"
)

// SyncLog is the immutable record of one sync run.
type SyncLog struct {
	ID              string        `json:"id" db:"id"`
	AudienceID      string        `json:"audience_id" db:"audience_id"`
	AudienceName    string        `json:"audience_name,omitempty" db:"-"`
	UsersAdded      int           `json:"users_added" db:"users_added"`
	UsersRemoved    int           `json:"users_removed" db:"users_removed"`
	UsersFailed     int           `json:"users_failed" db:"users_failed"`
	BatchCount      int           `json:"batch_count" db:"batch_count"`
	Status          SyncStatus    `json:"status" db:"status"`
	SessionID       *string       `json:"session_id" db:"session_id"`
	ErrorMessage    *string       `json:"error_message" db:"error_message"`
	DurationSeconds int           `json:"duration_seconds" db:"duration_seconds"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	CompletedAt     time.Time     `json:"completed_at" db:"completed_at"`
	TriggeredBy     TriggerSource `json:"triggered_by" db:"triggered_by"`
	TriggeredByUser *string       `json:"triggered_by_user" db:"triggered_by_user"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}
