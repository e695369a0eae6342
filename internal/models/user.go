package models

import (
	"time"
)

// Subscription tiers determine the daily sending allowance.
const (
	TierFree       = "free"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	EmailVerified     bool
	Role              string // "user", "admin"
	Status            string // "active", "suspended", "disabled"
	SubscriptionTier  string // "free", "premium", "enterprise"
	Timezone          string // IANA name, e.g. "America/New_York"
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time

	Security SecurityRecord
}

// SecurityRecord is the security sub-record embedded in the user entity.
// It is owned by the user row's lifecycle and mutated only through the
// atomic conditional updates in UserSecurityRepository.
type SecurityRecord struct {
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	LockReason          *string
	LockedAt            *time.Time
	EmailsSentToday     int
	LastEmailSentKey    *string // day-key the counter is valid for
	ReportCount         int
}

// IsLocked reports whether the account is currently locked. A lock
// timestamp in the past counts as unlocked without requiring a write;
// the background sweep clears stale fields later.
func (s SecurityRecord) IsLocked(now time.Time) bool {
	return s.AccountLockedUntil != nil && s.AccountLockedUntil.After(now)
}

// SecurityScore derives an informational 0-100 health score for the
// account. It is never used in access-control decisions.
func (s SecurityRecord) SecurityScore(now time.Time) int {
	score := 100 - 5*s.FailedLoginAttempts - 10*s.ReportCount
	if s.IsLocked(now) {
		score -= 20
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
