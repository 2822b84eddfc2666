package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/pkg/httputil"
	"github.com/ignite/audience-sync/internal/service/audience"
)

type createAudienceRequest struct {
	Type               string          `json:"type" validate:"omitempty,oneof=custom saved lookalike"`
	Name               string          `json:"name" validate:"required,max=200"`
	Description        *string         `json:"description"`
	Subtype            string          `json:"subtype"`
	Rule               json.RawMessage `json:"rule"`
	RetentionDays      int             `json:"retention_days" validate:"gte=0,lte=180"`
	AutoSync           *bool           `json:"auto_sync"`
	SyncFrequencyHours int             `json:"sync_frequency_hours" validate:"gte=0"`
}

type createLookalikeRequest struct {
	SourceAudienceID string   `json:"sourceAudienceId" validate:"required"`
	Country          string   `json:"country" validate:"omitempty,len=2"`
	Ratio            float64  `json:"ratio" validate:"gte=0"`
	StartingRatio    *float64 `json:"startingRatio"`
	Name             string   `json:"name"`
	Description      *string  `json:"description"`
}

// updateAudienceRequest keeps description raw so an explicit null can be
// told apart from an absent field.
type updateAudienceRequest struct {
	Name               *string         `json:"name"`
	Description        json.RawMessage `json:"description"`
	AutoSync           *bool           `json:"auto_sync"`
	SyncFrequencyHours *int            `json:"sync_frequency_hours"`
	Status             *string         `json:"status"`
}

// HandleListAudiences lists live audiences.
//
//	GET /api/audiences?type=&status=&limit=&withMeta=1
func (h *Handlers) HandleListAudiences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	res, err := h.audiences.List(r.Context(), audience.ListFilter{
		Type:     q.Get("type"),
		Status:   q.Get("status"),
		Limit:    limit,
		WithMeta: q.Get("withMeta") == "1",
	})
	if err != nil {
		respondError(w, err)
		return
	}

	body := map[string]interface{}{
		"success":   true,
		"total":     res.Total,
		"audiences": res.Audiences,
	}
	if res.MetaUnavailable {
		body["metaUnavailable"] = true
	}
	httputil.OK(w, body)
}

// HandleCreateAudience creates a custom or saved audience.
//
//	POST /api/audiences
func (h *Handlers) HandleCreateAudience(w http.ResponseWriter, r *http.Request) {
	if !h.gate.check(w) {
		return
	}
	var req createAudienceRequest
	if !httputil.DecodeValid(w, r, &req) {
		return
	}

	a, err := h.audiences.CreateCustom(r.Context(), audience.CreateCustomInput{
		Type:               domain.AudienceType(req.Type),
		Name:               req.Name,
		Description:        req.Description,
		Subtype:            req.Subtype,
		Rule:               req.Rule,
		RetentionDays:      req.RetentionDays,
		AutoSync:           req.AutoSync,
		SyncFrequencyHours: req.SyncFrequencyHours,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "audience": a})
}

// HandleListLookalikeSources lists audiences large enough to seed a lookalike.
//
//	GET /api/audiences/lookalike
func (h *Handlers) HandleListLookalikeSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.audiences.ListLookalikeSources(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":      true,
		"totalSources": len(sources),
		"sources":      sources,
	})
}

// HandleCreateLookalike creates a lookalike of a stored audience.
//
//	POST /api/audiences/lookalike
func (h *Handlers) HandleCreateLookalike(w http.ResponseWriter, r *http.Request) {
	if !h.gate.check(w) {
		return
	}
	var req createLookalikeRequest
	if !httputil.DecodeValid(w, r, &req) {
		return
	}
	if _, ok := validAudienceID(w, req.SourceAudienceID); !ok {
		return
	}

	a, err := h.audiences.CreateLookalike(r.Context(), audience.CreateLookalikeInput{
		SourceAudienceID: req.SourceAudienceID,
		Country:          req.Country,
		Ratio:            req.Ratio,
		StartingRatio:    req.StartingRatio,
		Name:             req.Name,
		Description:      req.Description,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "audience": a})
}

// HandleGetAudience returns one audience with its queue depth.
//
//	GET /api/audiences/{audienceID}
func (h *Handlers) HandleGetAudience(w http.ResponseWriter, r *http.Request) {
	id, ok := audienceID(w, r)
	if !ok {
		return
	}
	d, err := h.audiences.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":       true,
		"audience":      d.Audience,
		"pending_users": d.PendingUsers,
		"meta":          d.Meta,
	})
}

// HandleUpdateAudience edits name, description, sync settings or status.
//
//	PUT /api/audiences/{audienceID}
func (h *Handlers) HandleUpdateAudience(w http.ResponseWriter, r *http.Request) {
	id, ok := audienceID(w, r)
	if !ok {
		return
	}
	var req updateAudienceRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	in := audience.UpdateInput{
		Name:               req.Name,
		AutoSync:           req.AutoSync,
		SyncFrequencyHours: req.SyncFrequencyHours,
		Status:             req.Status,
	}
	switch {
	case len(req.Description) == 0:
	case bytes.Equal(bytes.TrimSpace(req.Description), []byte("null")):
		in.ClearDescription = true
	default:
		var desc string
		if err := json.Unmarshal(req.Description, &desc); err != nil {
			httputil.BadRequest(w, "description must be a string or null")
			return
		}
		in.Description = &desc
	}

	a, err := h.audiences.Update(r.Context(), id, in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "audience": a})
}

// HandleDeleteAudience soft-deletes an audience.
//
//	DELETE /api/audiences/{audienceID}
func (h *Handlers) HandleDeleteAudience(w http.ResponseWriter, r *http.Request) {
	id, ok := audienceID(w, r)
	if !ok {
		return
	}
	if err := h.audiences.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"success": true, "audienceId": id})
}

// HandleAudienceInsights sums recent insight rows.
//
//	GET /api/audiences/{audienceID}/insights?days=30
func (h *Handlers) HandleAudienceInsights(w http.ResponseWriter, r *http.Request) {
	id, ok := audienceID(w, r)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	rep, err := h.audiences.Insights(r.Context(), id, days)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success":    true,
		"audienceId": rep.AudienceID,
		"days":       rep.Days,
		"summary":    rep.Summary,
		"insights":   rep.Insights,
	})
}
