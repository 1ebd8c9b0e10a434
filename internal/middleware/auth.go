package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"iap-entitlement-api/pkg/apierror"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// APIKeys lists accepted keys. An empty list disables authentication.
	APIKeys []string
	// PublicPaths are served without a key.
	PublicPaths []string
}

// DefaultPublicPaths are the health checks and the metrics endpoint.
var DefaultPublicPaths = []string{"/api/v1/health", "/api/v1/ready", "/metrics"}

// NewAuthMiddleware creates an API key middleware. Keys are read from X-API-Key
// or an Authorization: Bearer header.
func NewAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(cfg.APIKeys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					apiKey = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if apiKey == "" {
				writeError(w, apierror.Unauthorized("Authentication required. Use X-API-Key or Authorization: Bearer header."))
				return
			}
			if !isValidKey(apiKey, cfg.APIKeys) {
				writeError(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// isValidKey checks if the provided key is in the valid keys list.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
