package domain

import "time"

// MemberStatus tracks an audience member through the upload queue.
type MemberStatus string

const (
	MemberPending  MemberStatus = "pending"
	MemberInFlight MemberStatus = "in_flight"
	MemberUploaded MemberStatus = "uploaded"
	MemberFailed   MemberStatus = "failed"
)

// AudienceUser is one lead queued for (or already delivered to) an audience.
// Rows are unique on (AudienceID, ExternalIDHash).
type AudienceUser struct {
	ID              string       `json:"id" db:"id"`
	AudienceID      string       `json:"audience_id" db:"audience_id"`
	LeadID          string       `json:"lead_id" db:"lead_id"`
	EmailHash       *string      `json:"email_hash" db:"email_hash"`
	PhoneHash       *string      `json:"phone_hash" db:"phone_hash"`
	ExternalIDHash  string       `json:"external_id_hash" db:"external_id_hash"`
	Status          MemberStatus `json:"status" db:"status"`
	ClaimToken      *string      `json:"claim_token,omitempty" db:"claim_token"`
	ClaimedAt       *time.Time   `json:"claimed_at,omitempty" db:"claimed_at"`
	Attempts        int          `json:"attempts" db:"attempts"`
	ErrorMessage    *string      `json:"error_message" db:"error_message"`
	UploadSessionID *string      `json:"upload_session_id" db:"upload_session_id"`
	UploadedAt      *time.Time   `json:"uploaded_at" db:"uploaded_at"`
}
