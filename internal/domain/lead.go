package domain

import (
	"strings"
	"time"
)

// blockedLeadStatuses never reach an audience. The CRM stores the
// Portuguese labels, the English ones come from imports.
var blockedLeadStatuses = map[string]struct{}{
	"lost":      {},
	"archived":  {},
	"perdido":   {},
	"arquivado": {},
}

// LeadRecord is a CRM lead as read from the lead source table.
type LeadRecord struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone" db:"phone"`
	Name      string    `json:"name" db:"nome"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	Status    string    `json:"status" db:"status"`
}

// IsEligible reports whether the lead may be pushed to an audience.
func (l *LeadRecord) IsEligible() bool {
	_, blocked := blockedLeadStatuses[strings.ToLower(strings.TrimSpace(l.Status))]
	return !blocked
}
