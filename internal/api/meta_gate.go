package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ignite/audience-sync/internal/config"
	"github.com/ignite/audience-sync/internal/pkg/httputil"
)

// MetaGate is the startup-resolved availability of the ad platform. Handlers
// that must reach the platform check it before doing any work.
type MetaGate struct {
	Missing        []string
	AccountMatches bool
	AdAccountID    string
}

// NewMetaGate evaluates resolved credentials against the required account.
func NewMetaGate(creds config.MetaCredentials, requiredAccount string) MetaGate {
	return MetaGate{
		Missing:        creds.Missing(),
		AccountMatches: config.MatchesRequiredAccount(creds.AdAccountID, requiredAccount),
		AdAccountID:    creds.AdAccountID,
	}
}

// Available reports whether platform calls may be made.
func (g MetaGate) Available() bool {
	return len(g.Missing) == 0 && g.AccountMatches
}

// Err describes why the platform is unavailable, or returns nil.
func (g MetaGate) Err() error {
	if len(g.Missing) > 0 {
		return fmt.Errorf("ad platform is not configured: missing %s", strings.Join(g.Missing, ", "))
	}
	if !g.AccountMatches {
		return errors.New("active ad account does not match the required account")
	}
	return nil
}

// check writes 503 with the missing fields as details, or 412 on an account mismatch,
// and reports whether the request may proceed.
func (g MetaGate) check(w http.ResponseWriter) bool {
	if len(g.Missing) > 0 {
		httputil.ErrorWithCode(w, http.StatusServiceUnavailable, "meta_not_configured",
			"ad platform is not configured", g.Missing)
		return false
	}
	if !g.AccountMatches {
		httputil.ErrorWithCode(w, http.StatusPreconditionFailed, "meta_account_mismatch",
			"active ad account does not match the required account", nil)
		return false
	}
	return true
}

func (g MetaGate) accountID() interface{} {
	if g.AdAccountID == "" {
		return nil
	}
	return g.AdAccountID
}
