package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/audience-sync/internal/pkg/httputil"
)

const adminCookie = "admin_token"

// requireToken admits requests whose bearer token (or, when cookie is
// set, the named cookie) equals secret. An empty secret admits nobody.
func requireToken(secret, cookie string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && cookie != "" {
				if c, err := r.Cookie(cookie); err == nil {
					token = c.Value
				}
			}
			if secret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
