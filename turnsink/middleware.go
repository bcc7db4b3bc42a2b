// CLAUDE:SUMMARY Request middleware for turnsink: per-request trace ID and logger.
package turnsink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
)

type ctxKey int

const loggerKey ctxKey = iota

// traceID tags each request with a short random ID, echoed in X-Trace-ID
// and attached to a per-request logger.
func traceID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			trace := hex.EncodeToString(id)
			w.Header().Set("X-Trace-ID", trace)

			logger := base.With("trace_id", trace, "method", r.Method, "path", r.URL.Path)
			logger.Debug("turnsink: request", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))
		})
	}
}

// requestLogger returns the per-request logger, or fallback.
func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return fallback
}
