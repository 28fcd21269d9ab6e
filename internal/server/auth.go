package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// AdminAuth guards the admin API with a static bearer token. With no token
// configured the admin surface is disabled outright and answers 503, so a
// misdeployed instance can never expose publishing unauthenticated.
func AdminAuth(token string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeAuthError(w, http.StatusServiceUnavailable, "missing_env", "admin token is not configured")
				return
			}
			header := r.Header.Get("Authorization")
			want := "Bearer " + token
			if subtle.ConstantTimeCompare([]byte(header), []byte(want)) != 1 {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
				return
			}
			next(w, r)
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"ok":         false,
		"error_code": code,
		"message":    message,
	}); err != nil {
		slog.Default().Error("failed to write auth error", "error", err)
	}
}
