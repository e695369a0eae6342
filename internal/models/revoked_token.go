package models

import "time"

// Revocation reasons recorded alongside blacklisted tokens.
const (
	RevocationReasonLogout         = "logout"
	RevocationReasonAccountDeleted = "account_deleted"
	RevocationReasonAdminRevoke    = "admin_revoke"
)

// RevokedToken is the ephemeral blacklist record. It is stored under the
// token's SHA-256 hash with a TTL equal to the token's remaining life, so
// the record self-expires the moment the token would have expired anyway.
type RevokedToken struct {
	TokenHash     string    `json:"token_hash"`
	UserID        string    `json:"user_id"`
	Reason        string    `json:"reason"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// RevocationReceipt is returned to callers after a successful revoke.
type RevocationReceipt struct {
	TTLSeconds int64     `json:"ttl_seconds"`
	ExpiresAt  time.Time `json:"expires_at"`
}
