package daemon

import (
	"net/http"
	"strings"
)

// accountHeader carries the caller's account identity, injected by the
// authenticating proxy in front of the daemon.
const accountHeader = "X-Account-ID"

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// callerAccount extracts the account identity from the request. Empty when
// the request is anonymous.
func callerAccount(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(accountHeader))
}
