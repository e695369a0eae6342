package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quillsend/quillsend/internal/metrics"
	"github.com/quillsend/quillsend/internal/models"
)

const LockReasonTooManyFailedAttempts = "too_many_failed_attempts"

// AccountSecurityStore defines the user-row mutations the lockout state
// machine needs. All of them are single atomic statements.
type AccountSecurityStore interface {
	RecordFailedAttempt(ctx context.Context, userID string, threshold int, lockUntil time.Time, reason string) (attempts int, lockedUntil *time.Time, justLocked bool, err error)
	ResetFailedAttempts(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, userID string, until time.Time, reason string) error
	UnlockAccount(ctx context.Context, userID string) error
	UnlockExpiredAccounts(ctx context.Context) (int64, error)
}

// AccountSecurityService drives the per-account lockout state machine:
// Active -> (threshold failures) -> Locked -> (expiry or manual unlock)
// -> Active. Lock expiry is interpreted lazily; no write is needed for
// an elapsed lock to count as unlocked. An account whose lock lapsed
// without a counter reset locks again on the very next failure.
type AccountSecurityService struct {
	store     AccountSecurityStore
	threshold int
	duration  time.Duration
	policy    StoreErrorPolicy
	logger    *slog.Logger

	now func() time.Time
}

// NewAccountSecurityService creates the lockout guard. Lockout protects
// against credential brute-forcing, so callers should pass FailClosed.
func NewAccountSecurityService(store AccountSecurityStore, threshold int, duration time.Duration, policy StoreErrorPolicy, logger *slog.Logger) *AccountSecurityService {
	return &AccountSecurityService{
		store:     store,
		threshold: threshold,
		duration:  duration,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordFailedAttempt counts one authentication failure and reports
// whether the account just transitioned to Locked. The increment and
// the threshold transition are one indivisible store operation.
func (s *AccountSecurityService) RecordFailedAttempt(ctx context.Context, userID string) (justLocked bool, err error) {
	now := s.now()

	attempts, _, justLocked, err := s.store.RecordFailedAttempt(ctx, userID, s.threshold, now.Add(s.duration), LockReasonTooManyFailedAttempts)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, models.ErrNotFound
		}
		s.logger.Error("failed to record login failure",
			slog.String("user_id", userID),
			slog.String("on_store_error", s.policy.String()),
			slog.Any("error", err))
		if s.policy == FailOpen {
			return false, nil
		}
		return false, models.ErrStoreUnavailable
	}

	if justLocked {
		metrics.AccountLockouts.Inc()
		s.logger.Warn("account locked after repeated failures",
			slog.String("user_id", userID),
			slog.Int("failed_attempts", attempts),
			slog.Duration("lock_duration", s.duration))
	}

	return justLocked, nil
}

// IsLocked is the pure lock predicate: locked-until set and still in the
// future. Works on an already-loaded user without touching the store.
func (s *AccountSecurityService) IsLocked(user *models.User) bool {
	return user.Security.IsLocked(s.now())
}

// LockRemaining reports how long until an active lock expires; zero when
// the account is not locked.
func (s *AccountSecurityService) LockRemaining(user *models.User) time.Duration {
	now := s.now()
	if !user.Security.IsLocked(now) {
		return 0
	}
	return user.Security.AccountLockedUntil.Sub(now)
}

// ResetFailedAttempts clears the failure counter after a successful
// authentication.
func (s *AccountSecurityService) ResetFailedAttempts(ctx context.Context, userID string) error {
	if err := s.store.ResetFailedAttempts(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to reset login failures",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrStoreUnavailable
	}
	return nil
}

// LockAccount is the explicit moderation lock, bypassing the automatic
// threshold.
func (s *AccountSecurityService) LockAccount(ctx context.Context, userID, reason string, duration time.Duration) error {
	if duration <= 0 {
		duration = s.duration
	}

	if err := s.store.LockAccount(ctx, userID, s.now().Add(duration), reason); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to lock account",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrStoreUnavailable
	}

	s.logger.Info("account locked by moderator",
		slog.String("user_id", userID),
		slog.String("reason", reason),
		slog.Duration("duration", duration))
	return nil
}

// UnlockAccount clears the lock and the failure counter.
func (s *AccountSecurityService) UnlockAccount(ctx context.Context, userID string) error {
	if err := s.store.UnlockAccount(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to unlock account",
			slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrStoreUnavailable
	}

	s.logger.Info("account unlocked", slog.String("user_id", userID))
	return nil
}

// UnlockExpiredAccounts bulk-clears elapsed locks. Housekeeping only;
// the lazy predicate never depends on it.
func (s *AccountSecurityService) UnlockExpiredAccounts(ctx context.Context) (int64, error) {
	return s.store.UnlockExpiredAccounts(ctx)
}

// SecurityScore derives the informational account health metric.
func (s *AccountSecurityService) SecurityScore(user *models.User) int {
	return user.Security.SecurityScore(s.now())
}
