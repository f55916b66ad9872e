package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// requestIDFrom returns the request id bound to ctx, or "" if none.
func requestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDContextKey).(string)
	return v
}

// requestIDMiddleware assigns request_id (preferring an inbound
// X-Request-Id header, else a fresh UUID), binds it to the request
// context, and always echoes it on the response, per spec.md §4.9.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, grounded on the teacher's internal/audit/gateway.go
// statusRecorder.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// recoverMiddleware converts a handler panic into a 500 error envelope
// instead of crashing the process, grounded on the teacher's
// AuditMiddleware's wrap-then-inspect pattern.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestID := requestIDFrom(r.Context())
				slog.Error("httpapi: panic recovered", "request_id", requestID, "panic", rec)
				writeError(w, http.StatusInternalServerError, requestID, "internal", "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records governor_admission_total{effect} and request
// latency for every handled request.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		effect := "allowed"
		switch {
		case wrapped.status == http.StatusForbidden:
			effect = "denied"
		case wrapped.status >= 500:
			effect = "error"
		case wrapped.status >= 400:
			effect = "rejected"
		}
		admissionTotal.WithLabelValues(effect).Inc()
		requestDuration.WithLabelValues(r.Method, effect).Observe(time.Since(start).Seconds())
	})
}
