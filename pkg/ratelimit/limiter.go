package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cryptoutil"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

// Limiter evaluates requests against the policy table using fixed-window
// Redis counters. The window index is baked into the counter key, so
// counters age out on their own.
type Limiter struct {
	rdb      redis.UniversalClient
	policies map[string]Policy
	now      func() time.Time
}

// New creates a Limiter over the shared KV client.
func New(client *kv.Client, policies map[string]Policy) *Limiter {
	return &Limiter{rdb: client.Redis(), policies: policies, now: time.Now}
}

// Verdict is the outcome of one rate-limit check.
type Verdict struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// identity resolves who the caller is for counting purposes: user ID
// when authenticated, else the client IP, else the literal "anonymous".
func identityFor(r *http.Request) (id string, authenticated, hasIP bool) {
	if ident, ok := auth.IdentityFromContext(r.Context()); ok {
		return ident.UserID, true, true
	}
	if ip := clientIP(r); ip != "" {
		return ip, false, true
	}
	return "anonymous", false, false
}

// clientIP picks the client address from the proxy headers, in trust
// order.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop is the original client.
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	return ""
}

// effectiveLimit applies the unauthenticated and anonymous adjustments
// to the bucket's base limit.
func effectiveLimit(policy Policy, bucket string, authenticated, hasIP bool) int {
	limit := policy.Max
	// Auth endpoints are unauthenticated by nature; everything else gets
	// half quota without a session.
	if !authenticated && bucket != BucketAuth {
		limit /= 2
	}
	if !hasIP && limit > anonymousCap {
		limit = anonymousCap
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Check counts this request against the caller's window and returns the
// verdict. The blocked counter advances once per exceeded window, and
// crossing the escalation threshold logs at error level.
func (l *Limiter) Check(ctx context.Context, r *http.Request, bucket string) (Verdict, error) {
	policy, ok := l.policies[bucket]
	if !ok {
		// Unknown bucket means the router wired a path without a policy;
		// fail open rather than taking the endpoint down.
		return Verdict{Allowed: true}, nil
	}

	identity, authenticated, hasIP := identityFor(r)
	limit := effectiveLimit(policy, bucket, authenticated, hasIP)

	windowSecs := int64(policy.Window / time.Second)
	now := l.now()
	windowIndex := now.Unix() / windowSecs
	resetAt := time.Unix((windowIndex+1)*windowSecs, 0)

	key := fmt.Sprintf("ratelimit:%s:%s:%d", identity, r.URL.Path, windowIndex)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Verdict{}, fmt.Errorf("incrementing rate-limit counter: %w", err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, 2*policy.Window).Err(); err != nil {
			return Verdict{}, fmt.Errorf("setting rate-limit counter TTL: %w", err)
		}
	}

	verdict := Verdict{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: max(0, limit-int(count)),
		ResetAt:   resetAt,
	}

	logID := identity
	if !authenticated && hasIP {
		logID = cryptoutil.HashIP(identity)
	}

	if verdict.Allowed {
		// One warning per window, when usage first crosses 80 %.
		if count == int64((limit*4+4)/5) {
			logger.Warnf("Rate limit at 80%% for %s on %s (%d/%d)", logID, r.URL.Path, count, limit)
		}
		return verdict, nil
	}

	verdict.RetryAfter = time.Until(resetAt)
	if verdict.RetryAfter < time.Second {
		verdict.RetryAfter = time.Second
	}

	// First exceedance in this window advances the blocked counter.
	if count == int64(limit)+1 {
		blockedKey := fmt.Sprintf("ratelimit:blocked:%s:%s", identity, r.URL.Path)
		blocked, err := l.rdb.Incr(ctx, blockedKey).Result()
		if err != nil {
			return verdict, fmt.Errorf("incrementing blocked counter: %w", err)
		}
		if blocked == 1 {
			if err := l.rdb.Expire(ctx, blockedKey, 5*policy.Window).Err(); err != nil {
				return verdict, fmt.Errorf("setting blocked counter TTL: %w", err)
			}
		}
		if blocked >= escalationThreshold {
			logger.Errorf("HIGH severity: potential brute-force from %s on %s (%d consecutive blocked windows)",
				logID, r.URL.Path, blocked)
		} else {
			logger.Warnf("Rate limit exceeded for %s on %s", logID, r.URL.Path)
		}
	}

	return verdict, nil
}
