package models

import "time"

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Key builds the bucket key for a client IP within a service.
func Key(service, ip string) string {
	return "ratelimit:" + service + ":ip:" + ip
}
