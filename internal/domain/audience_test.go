package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAudience_IsDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}
	deletedAt := now.Add(-time.Hour)

	tests := []struct {
		name     string
		audience Audience
		want     bool
	}{
		{"never synced", Audience{AutoSync: true, SyncFrequencyHours: 4, Status: AudienceReady}, true},
		{"one second before cadence", Audience{AutoSync: true, SyncFrequencyHours: 4, LastSyncedAt: ago(4*time.Hour - time.Second)}, false},
		{"exactly at cadence", Audience{AutoSync: true, SyncFrequencyHours: 4, LastSyncedAt: ago(4 * time.Hour)}, true},
		{"past cadence", Audience{AutoSync: true, SyncFrequencyHours: 4, LastSyncedAt: ago(5 * time.Hour)}, true},
		{"auto sync off", Audience{AutoSync: false, SyncFrequencyHours: 4}, false},
		{"status deleted", Audience{AutoSync: true, Status: AudienceDeleted}, false},
		{"soft deleted", Audience{AutoSync: true, DeletedAt: &deletedAt}, false},
		{"zero frequency uses default", Audience{AutoSync: true, LastSyncedAt: ago(3 * time.Hour)}, false},
		{"negative frequency floors to one hour", Audience{AutoSync: true, SyncFrequencyHours: -2, LastSyncedAt: ago(time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.audience.IsDue(now))
		})
	}
}

func TestLeadRecord_IsEligible(t *testing.T) {
	for _, status := range []string{"lost", "Archived", "perdido", " ARQUIVADO "} {
		l := LeadRecord{Status: status}
		assert.False(t, l.IsEligible(), status)
	}
	for _, status := range []string{"", "new", "novo", "won"} {
		l := LeadRecord{Status: status}
		assert.True(t, l.IsEligible(), status)
	}
}
