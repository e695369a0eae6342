package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quillsend/quillsend/internal/config"
	"github.com/quillsend/quillsend/internal/metrics"
	"github.com/quillsend/quillsend/internal/models"
)

// QuotaStore defines the conditional-update operations the quota guard
// needs from the record store.
type QuotaStore interface {
	ConsumeDailyQuota(ctx context.Context, userID, todayKey string, limit int) (used int, allowed bool, err error)
	GetQuotaSnapshot(ctx context.Context, userID string) (*models.QuotaSnapshot, error)
}

// QuotaService atomically consumes units of the per-user, per-day
// sending allowance. There is no in-process state; correctness under
// concurrent requests comes entirely from the store's conditional update.
type QuotaService struct {
	store  QuotaStore
	config config.QuotaConfig
	policy StoreErrorPolicy
	logger *slog.Logger

	now func() time.Time
}

// NewQuotaService creates a QuotaService. Quota protects a billing
// guarantee, so callers should pass FailClosed.
func NewQuotaService(store QuotaStore, cfg config.QuotaConfig, policy StoreErrorPolicy, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		store:  store,
		config: cfg,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// DayKey identifies "today" in the given timezone. Equality with the
// stored key is what makes a persisted counter valid; a mismatch means
// the logical counter is 0 regardless of the stored integer.
func DayKey(now time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
		timezone = "UTC"
	}
	return now.In(loc).Format("2006-01-02") + "-" + timezone
}

// nextReset is the upcoming midnight in the user's timezone.
func nextReset(now time.Time, timezone string) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Consume takes one unit of today's allowance. Two concurrent calls for
// the same user can never both be admitted past the cap: admit/deny is
// decided by a single conditional update in the store. On denial the
// returned usage numbers come from a follow-up non-mutating read and may
// trail the true value by one unit; they are for display only.
func (s *QuotaService) Consume(ctx context.Context, userID, tier, timezone string) (*models.QuotaDecision, error) {
	now := s.now()
	limit := s.config.DailyLimitForTier(tier)
	todayKey := DayKey(now, timezone)
	resetAt := nextReset(now, timezone)

	used, allowed, err := s.store.ConsumeDailyQuota(ctx, userID, todayKey, limit)
	if err != nil {
		s.logger.Error("quota store unavailable",
			slog.String("user_id", userID),
			slog.String("on_store_error", s.policy.String()),
			slog.Any("error", err))
		if s.policy == FailOpen {
			return &models.QuotaDecision{Allowed: true, Limit: limit, Used: 0, Remaining: limit, ResetAt: resetAt}, nil
		}
		return nil, models.ErrStoreUnavailable
	}

	if allowed {
		return &models.QuotaDecision{
			Allowed:   true,
			Used:      used,
			Limit:     limit,
			Remaining: limit - used,
			ResetAt:   resetAt,
		}, nil
	}

	// The conditional update matched no row: either the cap is reached
	// for today or the user was deleted concurrently. Disambiguate with
	// a read; no second mutating operation happens on this path.
	snap, err := s.store.GetQuotaSnapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("quota snapshot read failed",
			slog.String("user_id", userID), slog.Any("error", err))
		if s.policy == FailOpen {
			return &models.QuotaDecision{Allowed: false, Limit: limit, Used: limit, Remaining: 0, ResetAt: resetAt}, nil
		}
		return nil, models.ErrStoreUnavailable
	}

	used = 0
	if snap.LastEmailSentKey != nil && *snap.LastEmailSentKey == todayKey {
		used = snap.EmailsSentToday
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	metrics.QuotaDenials.Inc()
	s.logger.Info("daily quota exhausted",
		slog.String("user_id", userID),
		slog.Int("used", used),
		slog.Int("limit", limit))

	return &models.QuotaDecision{
		Allowed:   false,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// GetInfo is the pure read variant used by profile/status endpoints. It
// applies the same day-key validity rule as Consume without mutating.
func (s *QuotaService) GetInfo(ctx context.Context, userID, timezone string) (*models.QuotaStatus, error) {
	now := s.now()

	snap, err := s.store.GetQuotaSnapshot(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("quota snapshot read failed",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrStoreUnavailable
	}

	if timezone == "" {
		timezone = snap.Timezone
	}

	limit := s.config.DailyLimitForTier(snap.SubscriptionTier)
	todayKey := DayKey(now, timezone)

	used := 0
	if snap.LastEmailSentKey != nil && *snap.LastEmailSentKey == todayKey {
		used = snap.EmailsSentToday
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return &models.QuotaStatus{
		DailyLimit: limit,
		Used:       used,
		Remaining:  remaining,
		ResetTime:  nextReset(now, timezone),
	}, nil
}
