package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

// Middleware enforces the named bucket's policy. Rejections carry
// Retry-After and the X-RateLimit-* headers.
func (l *Limiter) Middleware(bucket string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict, err := l.Check(r.Context(), r, bucket)
			if err != nil {
				// Redis being down should not take the API down with it.
				logger.Errorf("Rate-limit check failed, allowing request: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			if verdict.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(verdict.ResetAt.Unix(), 10))
			}

			if !verdict.Allowed {
				retrySecs := int(verdict.RetryAfter.Seconds())
				if retrySecs < 1 {
					retrySecs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retrySecs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"Rate limit exceeded. Please try again later."}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
