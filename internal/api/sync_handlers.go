package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/pkg/httputil"
	"github.com/ignite/audience-sync/internal/pkg/logger"
)

type syncRequest struct {
	AudienceID string `json:"audienceId"`
}

// mergeResult flattens v's JSON object into out.
func mergeResult(out map[string]interface{}, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &out)
}

// HandleSyncOverview returns counts, the last sync time and recent logs.
//
//	GET /api/audiences/sync
func (h *Handlers) HandleSyncOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.sync.GetAudienceSyncOverview(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	body := map[string]interface{}{"success": true}
	if err := mergeResult(body, ov); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, body)
}

// HandleManualSync syncs one audience when audienceId is given, otherwise
// every due audience. A missing or malformed body means a full sweep.
//
//	POST /api/audiences/sync
func (h *Handlers) HandleManualSync(w http.ResponseWriter, r *http.Request) {
	if !h.gate.check(w) {
		return
	}

	var req syncRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			req = syncRequest{}
		}
	}
	user := adminUser(r)

	if id := strings.TrimSpace(req.AudienceID); id != "" {
		if _, ok := validAudienceID(w, id); !ok {
			return
		}
		result, err := h.sync.SyncAudience(r.Context(), id, domain.TriggerManual, user)
		if err != nil {
			respondError(w, err)
			return
		}
		httputil.OK(w, map[string]interface{}{
			"success":     result.Success,
			"mode":        "single",
			"adAccountId": h.gate.accountID(),
			"result":      result,
		})
		return
	}

	h.runSweep(w, r, domain.TriggerManual, user, map[string]interface{}{
		"mode":        "all",
		"adAccountId": h.gate.accountID(),
	})
}

// HandleCronSync runs a full sweep on behalf of the scheduler.
//
//	GET|POST /api/cron/sync-audiences
func (h *Handlers) HandleCronSync(w http.ResponseWriter, r *http.Request) {
	if !h.gate.check(w) {
		return
	}
	logger.Info("[api] cron sync triggered")
	h.runSweep(w, r, domain.TriggerCron, nil, map[string]interface{}{
		"source":      "cron",
		"adAccountId": h.gate.accountID(),
		"timestamp":   h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Handlers) runSweep(w http.ResponseWriter, r *http.Request, trigger domain.TriggerSource, user *string, body map[string]interface{}) {
	result, err := h.sync.SyncAllAudiences(r.Context(), trigger, user)
	if err != nil && result == nil {
		respondError(w, err)
		return
	}
	if err != nil {
		logger.Warn("[api] sweep interrupted", "trigger", string(trigger), "error", err)
	}
	if err := mergeResult(body, result); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, body)
}

// adminUser names the operator behind a manual sync, when the caller says.
func adminUser(r *http.Request) *string {
	u := strings.TrimSpace(r.Header.Get("X-Admin-User"))
	if u == "" {
		return nil
	}
	return &u
}
