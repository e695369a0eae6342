package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeMaintenanceStore struct {
	mu          sync.Mutex
	unlockCalls int
	resetCalls  int
	unlockErr   error
	resetErr    error
}

func (f *fakeMaintenanceStore) UnlockExpiredAccounts(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlockCalls++
	return 2, f.unlockErr
}

func (f *fakeMaintenanceStore) ResetStaleQuotaCounters(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	return 1, f.resetErr
}

func (f *fakeMaintenanceStore) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlockCalls, f.resetCalls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupManager_RunsSweepImmediatelyAndStops(t *testing.T) {
	store := &fakeMaintenanceStore{}
	cm := NewCleanupManager(store, quietLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	// The first sweep happens before the first tick.
	deadline := time.After(2 * time.Second)
	for {
		unlocks, resets := store.calls()
		if unlocks >= 1 && resets >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("initial sweep never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cm.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after Stop")
	}
}

func TestCleanupManager_TicksRepeatedly(t *testing.T) {
	store := &fakeMaintenanceStore{}
	cm := NewCleanupManager(store, quietLogger(), 20*time.Millisecond)

	go cm.Start(context.Background())
	defer cm.Stop()

	deadline := time.After(2 * time.Second)
	for {
		unlocks, _ := store.calls()
		if unlocks >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps, got %d", unlocks)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	store := &fakeMaintenanceStore{}
	cm := NewCleanupManager(store, quietLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start did not return after context cancel")
	}
}

func TestCleanupManager_OneFailingOpDoesNotBlockTheOther(t *testing.T) {
	store := &fakeMaintenanceStore{unlockErr: errors.New("db down")}
	cm := NewCleanupManager(store, quietLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		_, resets := store.calls()
		if resets >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("quota reset never ran after unlock failure")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cm.Stop()
	<-done
}
