package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSyncRun(t *testing.T) {
	beforeRuns := testutil.ToFloat64(syncRunsTotal.WithLabelValues("partial", "cron"))
	beforeAdded := testutil.ToFloat64(syncUsersTotal.WithLabelValues("added"))
	beforeInvalid := testutil.ToFloat64(syncUsersTotal.WithLabelValues("invalid"))

	RecordSyncRun("partial", "cron", 40, 2, 3*time.Second)

	assert.Equal(t, beforeRuns+1, testutil.ToFloat64(syncRunsTotal.WithLabelValues("partial", "cron")))
	assert.Equal(t, beforeAdded+40, testutil.ToFloat64(syncUsersTotal.WithLabelValues("added")))
	assert.Equal(t, beforeInvalid+2, testutil.ToFloat64(syncUsersTotal.WithLabelValues("invalid")))
}

func TestRecordClaimsRecovered_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(claimsRecoveredTotal)
	RecordClaimsRecovered(0)
	RecordClaimsRecovered(3)
	assert.Equal(t, before+3, testutil.ToFloat64(claimsRecoveredTotal))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/audiences/{audienceID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/audiences/{audienceID}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/audiences/abc", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/audiences/{audienceID}", "404")))
}
