package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/repositories"
)

// fakeWindowStore counts events per key in memory, reporting pre-insert
// counts like the real sorted-set store.
type fakeWindowStore struct {
	events map[string][]time.Time
	err    error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{events: make(map[string][]time.Time)}
}

func (f *fakeWindowStore) Touch(ctx context.Context, key string, now time.Time, window time.Duration) (*repositories.WindowState, error) {
	if f.err != nil {
		return nil, f.err
	}

	cutoff := now.Add(-window)
	kept := f.events[key][:0]
	for _, ev := range f.events[key] {
		if ev.After(cutoff) {
			kept = append(kept, ev)
		}
	}

	state := &repositories.WindowState{Count: int64(len(kept))}
	if len(kept) > 0 {
		state.OldestAt = kept[0]
	}

	f.events[key] = append(kept, now)
	return state, nil
}

func defaultRule() RateLimitRule {
	return RateLimitRule{
		Max:     100,
		Window:  time.Minute,
		KeyFunc: KeyByUserOrIP("rl:default"),
	}
}

func TestResolveRule(t *testing.T) {
	svc := NewRateLimitService(newFakeWindowStore(), defaultRule(), FailOpen, testLogger())

	loginRule := RateLimitRule{Max: 5, Window: 15 * time.Minute, KeyFunc: KeyByIP("rl:login")}
	adminRule := RateLimitRule{Max: 10, Window: time.Minute, KeyFunc: KeyByUserOrIP("rl:admin")}
	svc.AddRule("POST /auth/login", loginRule)
	svc.AddRule("GET /admin/*", adminRule)

	assert.Equal(t, 5, svc.ResolveRule("POST", "/auth/login").Max)
	assert.Equal(t, 10, svc.ResolveRule("GET", "/admin/users").Max)
	assert.Equal(t, 10, svc.ResolveRule("GET", "/admin/users/u1").Max)
	assert.Equal(t, 100, svc.ResolveRule("GET", "/users/me").Max, "unmatched routes use the default")
	assert.Equal(t, 100, svc.ResolveRule("DELETE", "/auth/login").Max, "method is part of the key")
}

func TestCheck_DeniesAtMax(t *testing.T) {
	svc := NewRateLimitService(newFakeWindowStore(), RateLimitRule{
		Max:     3,
		Window:  time.Minute,
		KeyFunc: KeyByIP("rl:test"),
	}, FailOpen, testLogger())

	id := RequestIdentity{IP: "10.0.0.1"}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		decision, err := svc.Check(context.Background(), "GET", "/x", id, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 3-i-1, decision.Remaining)
	}

	decision, err := svc.Check(context.Background(), "GET", "/x", id, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Greater(t, decision.RetryAfterSeconds, 0)
	// The window resets one full window after its oldest event.
	assert.Equal(t, now.Add(time.Minute), decision.ResetAt)
}

func TestCheck_WindowSlides(t *testing.T) {
	svc := NewRateLimitService(newFakeWindowStore(), RateLimitRule{
		Max:     2,
		Window:  time.Minute,
		KeyFunc: KeyByIP("rl:test"),
	}, FailOpen, testLogger())

	id := RequestIdentity{IP: "10.0.0.1"}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	svc.Check(context.Background(), "GET", "/x", id, now)
	svc.Check(context.Background(), "GET", "/x", id, now.Add(time.Second))

	denied, _ := svc.Check(context.Background(), "GET", "/x", id, now.Add(2*time.Second))
	assert.False(t, denied.Allowed)

	// Once the first events age out, capacity returns.
	later, err := svc.Check(context.Background(), "GET", "/x", id, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, later.Allowed)
}

func TestCheck_SeparateKeysDoNotInterfere(t *testing.T) {
	svc := NewRateLimitService(newFakeWindowStore(), RateLimitRule{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: KeyByUserOrIP("rl:test"),
	}, FailOpen, testLogger())

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	a, _ := svc.Check(context.Background(), "GET", "/x", RequestIdentity{IP: "10.0.0.1"}, now)
	b, _ := svc.Check(context.Background(), "GET", "/x", RequestIdentity{IP: "10.0.0.2"}, now)
	assert.True(t, a.Allowed)
	assert.True(t, b.Allowed)

	// Authenticated requests key on the user, not the address.
	c, _ := svc.Check(context.Background(), "GET", "/x", RequestIdentity{IP: "10.0.0.1", UserID: "u1"}, now)
	assert.True(t, c.Allowed)
}

func TestCheck_StoreDown_FailOpenAdmits(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	svc := NewRateLimitService(store, defaultRule(), FailOpen, testLogger())

	decision, err := svc.Check(context.Background(), "GET", "/x", RequestIdentity{IP: "10.0.0.1"}, time.Now())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheck_StoreDown_FailClosedErrors(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	svc := NewRateLimitService(store, defaultRule(), FailClosed, testLogger())

	_, err := svc.Check(context.Background(), "GET", "/x", RequestIdentity{IP: "10.0.0.1"}, time.Now())
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestCheckLoginAttempt_UsesLoginRule(t *testing.T) {
	store := newFakeWindowStore()
	svc := NewRateLimitService(store, defaultRule(), FailOpen, testLogger())
	svc.AddRule("POST /auth/login", RateLimitRule{
		Max:     2,
		Window:  15 * time.Minute,
		KeyFunc: KeyByIP("rl:login"),
	})

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		decision, err := svc.CheckLoginAttempt(context.Background(), "10.0.0.1", now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := svc.CheckLoginAttempt(context.Background(), "10.0.0.1", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 2, decision.Limit)
}
