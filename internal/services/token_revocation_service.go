package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quillsend/quillsend/internal/models"
)

// RevocationStore defines the expiring-key operations the revocation
// service needs from the counter store.
type RevocationStore interface {
	Blacklist(ctx context.Context, rec *models.RevokedToken, rawToken string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
	UserTokens(ctx context.Context, userID string) ([]string, error)
	TrackToken(ctx context.Context, userID, rawToken string, ttl time.Duration) error
	DeleteUserIndex(ctx context.Context, userID string) error
}

// TokenRevocationService marks otherwise-valid tokens as unusable before
// their embedded expiry. Records carry a TTL equal to the token's
// remaining life, so the blacklist self-prunes.
type TokenRevocationService struct {
	store  RevocationStore
	policy StoreErrorPolicy
	logger *slog.Logger

	now func() time.Time
}

// NewTokenRevocationService creates the revocation service. Revocation
// is defense in depth on top of normal expiry validation, so callers
// should pass FailOpen for the read path.
func NewTokenRevocationService(store RevocationStore, policy StoreErrorPolicy, logger *slog.Logger) *TokenRevocationService {
	return &TokenRevocationService{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// HashToken derives the storage key for a raw token. The raw token is
// never used as a key.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// tokenExpiry decodes the token's exp claim without re-verifying the
// signature; signature validity is not this component's concern.
func tokenExpiry(rawToken string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := &models.TokenClaims{}

	if _, _, err := parser.ParseUnverified(rawToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token claims: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}

	return exp.Time, nil
}

// Revoke blacklists a token for the remainder of its life. The stored
// record disappears at the same instant the token would have expired
// naturally, so no manual pruning is ever required for correctness.
func (s *TokenRevocationService) Revoke(ctx context.Context, rawToken, userID, reason string) (*models.RevocationReceipt, error) {
	now := s.now()

	expiresAt, err := tokenExpiry(rawToken)
	if err != nil {
		return nil, fmt.Errorf("revoke token: %w", err)
	}

	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		// Already expired: nothing to store, expiry validation rejects it.
		return &models.RevocationReceipt{TTLSeconds: 0, ExpiresAt: expiresAt}, nil
	}

	rec := &models.RevokedToken{
		TokenHash:     HashToken(rawToken),
		UserID:        userID,
		Reason:        reason,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
	}

	if err := s.store.Blacklist(ctx, rec, rawToken, ttl); err != nil {
		s.logger.Error("failed to blacklist token",
			slog.String("user_id", userID),
			slog.String("reason", reason),
			slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}

	s.logger.Info("token revoked",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int64("ttl_seconds", int64(ttl.Seconds())))

	return &models.RevocationReceipt{
		TTLSeconds: int64(ttl.Seconds()),
		ExpiresAt:  expiresAt,
	}, nil
}

// IsRevoked reports whether a token has been blacklisted. A store error
// does not block authenticated traffic: revocation is a secondary
// defense, and the primary expiry validation happens elsewhere.
func (s *TokenRevocationService) IsRevoked(ctx context.Context, rawToken string) bool {
	revoked, err := s.store.IsBlacklisted(ctx, HashToken(rawToken))
	if err != nil {
		s.logger.Warn("revocation check failed",
			slog.String("on_store_error", s.policy.String()),
			slog.Any("error", err))
		return s.policy == FailClosed
	}
	return revoked
}

// TrackIssued registers a freshly issued token in the per-user index so
// bulk revocation can find it later. Failure here is logged and ignored:
// the token remains individually revocable.
func (s *TokenRevocationService) TrackIssued(ctx context.Context, userID, rawToken string, ttl time.Duration) {
	if err := s.store.TrackToken(ctx, userID, rawToken, ttl); err != nil {
		s.logger.Warn("failed to track issued token",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}

// RevokeAll blacklists every indexed token for a user and drops the
// index; used on logout-everywhere and account deletion.
func (s *TokenRevocationService) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	tokens, err := s.store.UserTokens(ctx, userID)
	if err != nil {
		s.logger.Error("failed to enumerate user tokens",
			slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrStoreUnavailable
	}

	count := 0
	for _, token := range tokens {
		if _, err := s.Revoke(ctx, token, userID, reason); err != nil {
			s.logger.Warn("failed to revoke indexed token",
				slog.String("user_id", userID), slog.Any("error", err))
			continue
		}
		count++
	}

	if err := s.store.DeleteUserIndex(ctx, userID); err != nil {
		s.logger.Warn("failed to delete user token index",
			slog.String("user_id", userID), slog.Any("error", err))
	}

	s.logger.Info("bulk token revocation",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Int("count", count))

	return count, nil
}
