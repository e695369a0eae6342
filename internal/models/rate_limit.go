package models

import "time"

// RateLimitDecision is the outcome of a sliding-window check for one
// (rule, key) pair. Denial carries the seconds until the window frees up.
type RateLimitDecision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}
