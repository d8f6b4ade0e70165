package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/kalambet/appraise/internal/session"
)

const bearerPrefix = "Bearer "

// BearerAuth guards the pipeline write path with a static token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if token == "" || !strings.HasPrefix(auth, bearerPrefix) || subtle.ConstantTimeCompare([]byte(auth[len(bearerPrefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, errAuthentication, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionAuth verifies the session JWT and stores the session in the request
// context. Browsers cannot set headers on WebSocket upgrades, so the token is
// also accepted as the access_token query parameter.
func SessionAuth(v *session.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := ""
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
				tok = auth[len(bearerPrefix):]
			} else {
				tok = r.URL.Query().Get("access_token")
			}
			if tok == "" {
				httpError(w, http.StatusUnauthorized, errAuthentication, "sign in required")
				return
			}
			sess, err := v.Verify(tok)
			if err != nil {
				httpError(w, http.StatusUnauthorized, errAuthentication, "invalid session")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithContext(r.Context(), sess)))
		})
	}
}
