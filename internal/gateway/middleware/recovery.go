package middleware

import (
	"net/http"
	"runtime/debug"

	"appdock/internal/gateway/handlers"
	"appdock/pkg/logger"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				handlers.SendJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"status":      http.StatusInternalServerError,
					"message":     "internal server error",
					"errorSource": "PLATFORM",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
