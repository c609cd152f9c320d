package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fantasbr/hookline/internal/keys"
	"github.com/fantasbr/hookline/internal/models"
	"github.com/fantasbr/hookline/internal/storage"
)

type contextKey string

const keyContextKey contextKey = "api_key"

func KeyFromContext(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(keyContextKey).(*models.APIKey)
	return key
}

// AuthMiddleware resolves the bearer token to a stored API key by hash.
// Presented plaintext is never persisted or logged.
func AuthMiddleware(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth {
				writeError(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <api_key>")
				return
			}

			key, err := store.GetAPIKeyByHash(r.Context(), keys.HashKey(token))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if key == nil || !key.Usable(time.Now().UTC()) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			// Usage tracking is best-effort; an update failure must not
			// fail the request.
			_ = store.TouchAPIKey(r.Context(), key.ID)

			ctx := context.WithValue(r.Context(), keyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission gates a route group on one capability. The wildcard
// permission passes every gate.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromContext(r.Context())
			if key == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !key.HasPermission(perm) {
				writeError(w, http.StatusForbidden, "api key lacks permission "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func LoggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
