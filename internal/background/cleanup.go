package background

import (
	"context"
	"log/slog"
	"time"
)

// MaintenanceStore holds the periodic account hygiene operations.
type MaintenanceStore interface {
	UnlockExpiredAccounts(ctx context.Context) (int64, error)
	ResetStaleQuotaCounters(ctx context.Context) (int64, error)
}

// CleanupManager runs account maintenance on an interval: releasing
// locks whose window has passed and zeroing daily send counters left
// over from previous days. Both operations are also enforced lazily on
// the read path, the sweep just keeps reporting queries honest.
type CleanupManager struct {
	store    MaintenanceStore
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewCleanupManager(store MaintenanceStore, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks running the sweep loop until Stop is called or the
// context is cancelled. Run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runSweep(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	unlocked, err := cm.store.UnlockExpiredAccounts(sweepCtx)
	if err != nil {
		cm.logger.Error("failed to unlock expired accounts", slog.Any("error", err))
	} else if unlocked > 0 {
		cm.logger.Info("released expired account locks", slog.Int64("accounts", unlocked))
	}

	reset, err := cm.store.ResetStaleQuotaCounters(sweepCtx)
	if err != nil {
		cm.logger.Error("failed to reset stale quota counters", slog.Any("error", err))
	} else if reset > 0 {
		cm.logger.Info("reset stale quota counters", slog.Int64("accounts", reset))
	}
}

// Stop signals the sweep loop to exit.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
