package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// AdminAuth verifies the admin key presented as "Authorization: Token <key>".
// An empty key disables the admin API.
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			token := ocpi.TokenFromHeader(authHeader)
			if token == "" {
				deny(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			if adminKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
				deny(w, http.StatusForbidden, "Invalid admin key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ocpi.Response{
		StatusCode:    ocpi.StatusClientError,
		StatusMessage: message,
		Timestamp:     ocpi.Timestamp(time.Now()),
	})
}
