package domain

import "time"

// AudienceInsight is one reporting row of delivery performance for an audience.
type AudienceInsight struct {
	AudienceID  string    `json:"audience_id" db:"audience_id"`
	Reach       int64     `json:"reach" db:"reach"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	Spend       float64   `json:"spend" db:"spend"`
	Conversions int64     `json:"conversions" db:"conversions"`
	Revenue     float64   `json:"revenue" db:"revenue"`
	DateStart   time.Time `json:"date_start" db:"date_start"`
	DateEnd     time.Time `json:"date_end" db:"date_end"`
}
