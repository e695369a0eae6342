package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quillsend/quillsend/internal/database"
	"github.com/quillsend/quillsend/internal/models"
)

// UserSecurityRepository mutates the security sub-record on the user row.
// Every write here is a single conditional UPDATE so that concurrent
// request handlers across service instances cannot race each other; the
// database row is the only synchronization point.
type UserSecurityRepository struct {
	pool *pgxpool.Pool
}

func NewUserSecurityRepository(db *database.DB) *UserSecurityRepository {
	return &UserSecurityRepository{pool: db.Pool}
}

// ConsumeDailyQuota increments the daily send counter in one indivisible
// statement. The predicate admits the write when the stored day-key is
// stale (new day, counter resets to 1) or when the same-day counter is
// still under the limit. When the predicate matches no row the caller
// learns allowed=false without a second mutating operation.
func (r *UserSecurityRepository) ConsumeDailyQuota(ctx context.Context, userID, todayKey string, limit int) (used int, allowed bool, err error) {
	query := `
		UPDATE users
		SET emails_sent_today = CASE WHEN last_email_sent_key = $2 THEN emails_sent_today + 1 ELSE 1 END,
			last_email_sent_key = $2,
			updated_at = NOW()
		WHERE id = $1
		  AND (last_email_sent_key IS DISTINCT FROM $2 OR emails_sent_today < $3)
		RETURNING emails_sent_today
	`

	err = r.pool.QueryRow(ctx, query, userID, todayKey, limit).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		// Limit already reached for today, or the user row is gone.
		// The caller disambiguates via GetQuotaSnapshot.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, database.MapPostgresError(err)
	}

	return used, true, nil
}

// GetQuotaSnapshot reads the quota fields without mutating. Callers must
// treat the counter as 0 when the stored day-key differs from today's.
func (r *UserSecurityRepository) GetQuotaSnapshot(ctx context.Context, userID string) (*models.QuotaSnapshot, error) {
	query := `
		SELECT emails_sent_today, last_email_sent_key, subscription_tier, timezone
		FROM users WHERE id = $1
	`

	var snap models.QuotaSnapshot
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&snap.EmailsSentToday, &snap.LastEmailSentKey,
		&snap.SubscriptionTier, &snap.Timezone,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &snap, nil
}

// RecordFailedAttempt increments the failed-login counter and, when the
// new value is at or past the threshold while no lock is active,
// transitions the account to Locked in the same statement. A failure
// during an active lock bumps the counter but never extends the lock;
// once the lock lapses the counter is still at the threshold, so the
// next failure locks the account again.
func (r *UserSecurityRepository) RecordFailedAttempt(ctx context.Context, userID string, threshold int, lockUntil time.Time, reason string) (attempts int, lockedUntil *time.Time, justLocked bool, err error) {
	// NOW() is statement-stable, so the RETURNING clause's
	// locked_at = NOW() holds exactly when the transition above fired.
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			account_locked_until = CASE WHEN failed_login_attempts + 1 >= $2
					AND (account_locked_until IS NULL OR account_locked_until < NOW())
				THEN $3 ELSE account_locked_until END,
			lock_reason          = CASE WHEN failed_login_attempts + 1 >= $2
					AND (account_locked_until IS NULL OR account_locked_until < NOW())
				THEN $4 ELSE lock_reason END,
			locked_at            = CASE WHEN failed_login_attempts + 1 >= $2
					AND (account_locked_until IS NULL OR account_locked_until < NOW())
				THEN NOW() ELSE locked_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, account_locked_until, COALESCE(locked_at = NOW(), FALSE)
	`

	err = r.pool.QueryRow(ctx, query, userID, threshold, lockUntil, reason).Scan(&attempts, &lockedUntil, &justLocked)
	if err != nil {
		return 0, nil, false, database.MapPostgresError(err)
	}

	return attempts, lockedUntil, justLocked, nil
}

// ResetFailedAttempts clears the counter after a successful login.
func (r *UserSecurityRepository) ResetFailedAttempts(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET failed_login_attempts = 0, updated_at = NOW() WHERE id = $1`,
		userID,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// LockAccount is the explicit administrative lock, bypassing the
// failed-attempt threshold.
func (r *UserSecurityRepository) LockAccount(ctx context.Context, userID string, until time.Time, reason string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET account_locked_until = $2, lock_reason = $3, locked_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, userID, until, reason)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UnlockAccount clears the lock fields and the failed-attempt counter.
func (r *UserSecurityRepository) UnlockAccount(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET account_locked_until = NULL, lock_reason = NULL, locked_at = NULL,
			failed_login_attempts = 0, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UnlockExpiredAccounts bulk-clears lock fields whose expiry has passed.
// Correctness never depends on this: IsLocked already treats an elapsed
// timestamp as unlocked. This is housekeeping only.
func (r *UserSecurityRepository) UnlockExpiredAccounts(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET account_locked_until = NULL, lock_reason = NULL, locked_at = NULL,
			failed_login_attempts = 0, updated_at = NOW()
		WHERE account_locked_until IS NOT NULL AND account_locked_until < NOW()
	`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ResetStaleQuotaCounters zeroes counters whose day-key is at least two
// calendar days old in UTC, which is stale in every timezone. Daily
// reset itself is implicit in the day-key comparison; this sweep only
// compacts storage.
func (r *UserSecurityRepository) ResetStaleQuotaCounters(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET emails_sent_today = 0, last_email_sent_key = NULL, updated_at = NOW()
		WHERE last_email_sent_key IS NOT NULL
		  AND substring(last_email_sent_key for 10) < to_char(NOW() AT TIME ZONE 'UTC' - INTERVAL '1 day', 'YYYY-MM-DD')
	`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
