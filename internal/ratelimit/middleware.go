package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"hoa-portal/internal/observability"
)

// Middleware enforces action per client address before calling next. It is
// meant for anonymous endpoints; authenticated handlers call Enforce with the
// user id instead.
func (l *Limiter) Middleware(action Action, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := l.Enforce(r.Context(), action, observability.ClientIP(r))
		if err != nil {
			if WriteExceeded(w, err) {
				return
			}
			observability.CaptureRequestError(r, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "rate limit check failed"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteExceeded writes a 429 response when err is an *ExceededError and
// reports whether it did.
func WriteExceeded(w http.ResponseWriter, err error) bool {
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		return false
	}

	w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfter(time.Now().UTC())))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(exceeded.Limit))
	w.Header().Set("X-RateLimit-Reset", exceeded.ResetTime.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       exceeded.Error(),
		"limit":       exceeded.Limit,
		"reset_time":  exceeded.ResetTime.UTC(),
		"retry_after": exceeded.RetryAfter(time.Now().UTC()),
	})
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
