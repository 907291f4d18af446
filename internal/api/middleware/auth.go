package middleware

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/observatory/internal/rooms"
)

// BearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when the header is missing or malformed.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// RequireMasterKey rejects requests whose bearer token is not the master
// key. With no master key configured every request is rejected.
func RequireMasterKey(masterKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rooms.ValidateMasterKey(masterKey, BearerToken(r)) {
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
