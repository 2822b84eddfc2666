package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/metaads"
	"github.com/ignite/audience-sync/internal/pkg/httputil"
	"github.com/ignite/audience-sync/internal/pkg/logger"
	"github.com/ignite/audience-sync/internal/service/audience"
	"github.com/ignite/audience-sync/internal/service/audiencesync"
)

// AudienceManager is the audience CRUD surface used by the handlers.
type AudienceManager interface {
	List(ctx context.Context, f audience.ListFilter) (*audience.ListResult, error)
	CreateCustom(ctx context.Context, in audience.CreateCustomInput) (*domain.Audience, error)
	CreateLookalike(ctx context.Context, in audience.CreateLookalikeInput) (*domain.Audience, error)
	ListLookalikeSources(ctx context.Context) ([]domain.Audience, error)
	Get(ctx context.Context, id string) (*audience.Detail, error)
	Update(ctx context.Context, id string, in audience.UpdateInput) (*domain.Audience, error)
	Delete(ctx context.Context, id string) error
	Insights(ctx context.Context, id string, days int) (*audience.InsightsReport, error)
}

// SyncRunner runs and summarizes audience syncs.
type SyncRunner interface {
	SyncAudience(ctx context.Context, audienceID string, triggeredBy domain.TriggerSource, triggeredByUser *string) (*audiencesync.SyncResult, error)
	SyncAllAudiences(ctx context.Context, triggeredBy domain.TriggerSource, triggeredByUser *string) (*audiencesync.SyncAllResult, error)
	GetAudienceSyncOverview(ctx context.Context) (*audiencesync.Overview, error)
}

// Handlers holds the dependencies of the audience and sync endpoints.
type Handlers struct {
	audiences AudienceManager
	sync      SyncRunner
	gate      MetaGate
	now       func() time.Time
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(audiences AudienceManager, sync SyncRunner, gate MetaGate) *Handlers {
	return &Handlers{audiences: audiences, sync: sync, gate: gate, now: time.Now}
}

// respondError maps service errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *metaads.APIError
	switch {
	case errors.Is(err, audience.ErrInvalidInput), errors.Is(err, metaads.ErrInvalidRatio):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, audience.ErrNotFound), errors.Is(err, audiencesync.ErrAudienceNotFound):
		httputil.NotFound(w, errAudienceNotFound)
	case errors.Is(err, audience.ErrRemoteUnavailable), errors.Is(err, metaads.ErrNotConfigured):
		httputil.Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &apiErr):
		logger.Warn("[api] ad platform error", "status", apiErr.StatusCode, "error", apiErr.Message)
		httputil.Error(w, http.StatusBadGateway, apiErr.Error())
	default:
		httputil.InternalError(w, err)
	}
}

const errAudienceNotFound = "audience not found"

// audienceID reads the {audienceID} route parameter. Ids are UUIDs, so
// anything else cannot name an audience and gets a 404 before any query.
func audienceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	return validAudienceID(w, chi.URLParam(r, "audienceID"))
}

func validAudienceID(w http.ResponseWriter, id string) (string, bool) {
	if _, err := uuid.Parse(id); err != nil {
		httputil.NotFound(w, errAudienceNotFound)
		return "", false
	}
	return id, true
}
