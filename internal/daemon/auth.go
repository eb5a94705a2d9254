package daemon

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// requireToken wraps a handler with bearer-token checks. An empty token
// disables authentication entirely, which is the local-development default;
// when a token is configured every request must present it.
func requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if presentedToken(r) != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func presentedToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, bearerPrefix)
}
