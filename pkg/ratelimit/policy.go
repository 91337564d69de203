// Package ratelimit implements fixed-window request limiting over Redis
// counters, keyed by caller identity and path, with brute-force
// escalation tracking.
package ratelimit

import "time"

// Policy is one entry of the per-endpoint policy table.
type Policy struct {
	Max    int
	Window time.Duration
}

// Bucket names used by the router.
const (
	BucketAuth    = "auth"
	BucketRefresh = "refresh"
	BucketSync    = "sync"
)

// DefaultPolicies is the production policy table. Injectable so tests
// can shrink windows.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		BucketAuth:    {Max: 10, Window: time.Minute},
		BucketRefresh: {Max: 10, Window: 5 * time.Minute},
		BucketSync:    {Max: 60, Window: time.Minute},
	}
}

// anonymousCap hard-caps the quota when no user ID and no client IP are
// available.
const anonymousCap = 10

// escalationThreshold is the number of consecutive blocked windows after
// which the limiter logs a potential brute-force attempt.
const escalationThreshold = 3
