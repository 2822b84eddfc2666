package metaads

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Credentials identify the ad account the client acts on. AdAccountID is
// kept without the "act_" prefix.
type Credentials struct {
	AccessToken string
	AdAccountID string
	PixelID     string
	BusinessID  string
}

// IsConfigured reports whether both the token and the ad account are set.
func (c Credentials) IsConfigured() bool {
	return c.AccessToken != "" && c.AdAccountID != ""
}

// SchemaField is a column of the user upload payload.
type SchemaField string

const (
	SchemaEmail      SchemaField = "EMAIL"
	SchemaPhone      SchemaField = "PHONE"
	SchemaExternalID SchemaField = "EXTERN_ID"
)

// DefaultSchema is the column order used when AddUsers is called without one.
var DefaultSchema = []SchemaField{SchemaEmail, SchemaPhone, SchemaExternalID}

// MaxUsersPerRequest is the Graph API limit for one /users call.
const MaxUsersPerRequest = 10000

// AudienceSummary is the local view of a remote custom audience.
type AudienceSummary struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Subtype          string `json:"subtype"`
	ApproximateCount int64  `json:"approximate_count"`
	Status           string `json:"status"`
}

// CustomAudienceInput describes a custom audience to create. Subtype
// "website" builds a pixel audience, anything else a customer-file audience.
type CustomAudienceInput struct {
	Name               string
	Description        string
	Subtype            string
	CustomerFileSource string
	Rule               json.RawMessage
	RetentionDays      int
	Prefill            *bool
}

// LookalikeInput describes a lookalike audience seeded from SourceAudienceID,
// which is the remote id of the origin audience.
type LookalikeInput struct {
	SourceAudienceID string
	Country          string
	Ratio            float64
	StartingRatio    *float64
	Name             string
}

// CreatedAudience is returned by the create calls.
type CreatedAudience struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudiencePatch holds the remote fields UpdateAudience may change.
type AudiencePatch struct {
	Name        *string
	Description *string
}

// IsEmpty reports whether the patch would send nothing.
func (p AudiencePatch) IsEmpty() bool {
	return (p.Name == nil || strings.TrimSpace(*p.Name) == "") && p.Description == nil
}

// UploadResult aggregates the per-chunk answers of AddUsers.
type UploadResult struct {
	SessionID   string `json:"session_id,omitempty"`
	NumReceived int    `json:"num_received"`
	NumInvalid  int    `json:"num_invalid"`
	Batches     int    `json:"batches"`
}

// wire types

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

type graphAudience struct {
	ID                         string `json:"id"`
	Name                       string `json:"name"`
	Subtype                    string `json:"subtype"`
	ApproximateCountLowerBound int64  `json:"approximate_count_lower_bound"`
	ApproximateCountUpperBound int64  `json:"approximate_count_upper_bound"`
	OperationStatus            *struct {
		Code        json.Number `json:"code"`
		Description string      `json:"description"`
	} `json:"operation_status"`
	DeliveryStatus *struct {
		Code        json.Number `json:"code"`
		Description string      `json:"description"`
	} `json:"delivery_status"`
}

func (g graphAudience) summary() AudienceSummary {
	s := AudienceSummary{
		ID:               g.ID,
		Name:             g.Name,
		Subtype:          g.Subtype,
		ApproximateCount: g.ApproximateCountUpperBound,
		Status:           "unknown",
	}
	if s.Subtype == "" {
		s.Subtype = "unknown"
	}
	if g.ApproximateCountLowerBound > s.ApproximateCount {
		s.ApproximateCount = g.ApproximateCountLowerBound
	}
	switch {
	case g.OperationStatus != nil && g.OperationStatus.Code.String() != "":
		s.Status = g.OperationStatus.Code.String()
	case g.DeliveryStatus != nil && g.DeliveryStatus.Description != "":
		s.Status = g.DeliveryStatus.Description
	}
	return s
}

type uploadPayload struct {
	Schema []SchemaField `json:"schema"`
	Data   [][]string    `json:"data"`
}

type uploadResponse struct {
	SessionID         opaqueID `json:"session_id"`
	NumReceived       int      `json:"num_received"`
	NumInvalidEntries int      `json:"num_invalid_entries"`
}

// opaqueID holds an identifier the Graph API returns either as a JSON
// number or as a string.
type opaqueID string

func (id *opaqueID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = opaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	*id = opaqueID(n.String())
	return nil
}
