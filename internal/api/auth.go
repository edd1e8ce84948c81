package api

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader carries the admin token for provider management.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth requires the X-Admin-Token header to match token. An empty
// token leaves the route open, for local development.
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusForbidden, "authentication_error", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
