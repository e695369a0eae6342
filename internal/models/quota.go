package models

import "time"

// QuotaDecision is the outcome of consuming one unit of the daily
// sending allowance. Denial is a business result, not an error.
type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// QuotaSnapshot is the quota-relevant slice of the user row as stored.
// EmailsSentToday is only meaningful when LastEmailSentKey matches the
// current day-key; any mismatch means the logical value is 0.
type QuotaSnapshot struct {
	EmailsSentToday  int
	LastEmailSentKey *string
	SubscriptionTier string
	Timezone         string
}

// QuotaStatus is the read-only view surfaced on profile/status endpoints.
type QuotaStatus struct {
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
}
