package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsend/quillsend/internal/config"
	"github.com/quillsend/quillsend/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		FreeDailyLimit:       5,
		PremiumDailyLimit:    100,
		EnterpriseDailyLimit: 1000,
	}
}

// fakeQuotaStore mirrors the conditional-update semantics of the real
// row store: increment only when the key matches and the cap allows, or
// start a fresh counter on a key change.
type fakeQuotaStore struct {
	mu   sync.Mutex
	used int
	key  *string
	err  error
}

func (f *fakeQuotaStore) ConsumeDailyQuota(ctx context.Context, userID, todayKey string, limit int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, false, f.err
	}

	if f.key == nil || *f.key != todayKey {
		f.key = &todayKey
		f.used = 1
		return 1, true, nil
	}
	if f.used < limit {
		f.used++
		return f.used, true, nil
	}
	return 0, false, nil
}

func (f *fakeQuotaStore) GetQuotaSnapshot(ctx context.Context, userID string) (*models.QuotaSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &models.QuotaSnapshot{
		EmailsSentToday:  f.used,
		LastEmailSentKey: f.key,
		SubscriptionTier: models.TierFree,
		Timezone:         "UTC",
	}, nil
}

func TestDayKey(t *testing.T) {
	// 23:30 UTC on June 1 is already June 2 in Berlin.
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-01-UTC", DayKey(now, "UTC"))
	assert.Equal(t, "2025-06-02-Europe/Berlin", DayKey(now, "Europe/Berlin"))

	// Unknown timezone falls back to UTC, and the fallback is recorded
	// in the key so it cannot collide with a real zone's key.
	assert.Equal(t, "2025-06-01-UTC", DayKey(now, "Not/AZone"))
}

func TestQuotaConsume_AllowsUntilLimit(t *testing.T) {
	store := &fakeQuotaStore{}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 1; i <= 5; i++ {
		decision, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, i, decision.Used)
		assert.Equal(t, 5-i, decision.Remaining)
	}

	decision, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.Used)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), decision.ResetAt)
}

func TestQuotaConsume_DayRolloverResetsCounter(t *testing.T) {
	store := &fakeQuotaStore{}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
		require.NoError(t, err)
	}

	// Next local day: the stale counter no longer matches the day-key.
	svc.now = func() time.Time { return now.Add(24 * time.Hour) }

	decision, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Used)
}

func TestQuotaConsume_TierLimits(t *testing.T) {
	store := &fakeQuotaStore{}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())

	decision, err := svc.Consume(context.Background(), "u1", models.TierPremium, "UTC")
	require.NoError(t, err)
	assert.Equal(t, 100, decision.Limit)

	decision, err = svc.Consume(context.Background(), "u1", models.TierEnterprise, "UTC")
	require.NoError(t, err)
	assert.Equal(t, 1000, decision.Limit)

	decision, err = svc.Consume(context.Background(), "u1", "unknown-tier", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 5, decision.Limit)
}

func TestQuotaConsume_ConcurrentCallersNeverExceedCap(t *testing.T) {
	store := &fakeQuotaStore{}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
			if err == nil && decision.Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted, "exactly the cap must be admitted")
}

func TestQuotaConsume_StoreDown_FailsClosed(t *testing.T) {
	store := &fakeQuotaStore{err: errors.New("connection refused")}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())

	_, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestQuotaConsume_StoreDown_FailOpenAdmits(t *testing.T) {
	store := &fakeQuotaStore{err: errors.New("connection refused")}
	svc := NewQuotaService(store, testQuotaConfig(), FailOpen, testLogger())

	decision, err := svc.Consume(context.Background(), "u1", models.TierFree, "UTC")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestQuotaGetInfo_StaleKeyReadsAsZero(t *testing.T) {
	staleKey := "2025-05-20-UTC"
	store := &fakeQuotaStore{used: 4, key: &staleKey}
	svc := NewQuotaService(store, testQuotaConfig(), FailClosed, testLogger())
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

	status, err := svc.GetInfo(context.Background(), "u1", "UTC")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Used)
	assert.Equal(t, 5, status.Remaining)
}
