package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/services"
)

// MockRateLimitChecker returns a canned decision and records the
// identity it was asked about.
type MockRateLimitChecker struct {
	decision *models.RateLimitDecision
	err      error
	seenID   services.RequestIdentity
	seenPath string
}

func (m *MockRateLimitChecker) Check(ctx context.Context, method, path string, id services.RequestIdentity, now time.Time) (*models.RateLimitDecision, error) {
	m.seenID = id
	m.seenPath = path
	return m.decision, m.err
}

func serveLimited(checker *MockRateLimitChecker, req *http.Request) (*httptest.ResponseRecorder, bool) {
	w := httptest.NewRecorder()
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	SlidingWindowLimit(checker, nil)(next).ServeHTTP(w, req)
	return w, nextCalled
}

func allowedDecision() *models.RateLimitDecision {
	return &models.RateLimitDecision{
		Allowed:   true,
		Limit:     60,
		Remaining: 42,
		ResetAt:   time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
	}
}

func TestSlidingWindowLimit_AllowedRequestCarriesHeaders(t *testing.T) {
	checker := &MockRateLimitChecker{decision: allowedDecision()}

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	w, nextCalled := serveLimited(checker, req)

	if !nextCalled {
		t.Fatalf("expected request to pass, got status %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "60" {
		t.Errorf("expected X-RateLimit-Limit 60, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "42" {
		t.Errorf("expected X-RateLimit-Remaining 42, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Errorf("expected X-RateLimit-Reset to be set")
	}
}

func TestSlidingWindowLimit_DeniedRequestGets429AndRetryAfter(t *testing.T) {
	checker := &MockRateLimitChecker{decision: &models.RateLimitDecision{
		Allowed:           false,
		Limit:             60,
		Remaining:         0,
		ResetAt:           time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
		RetryAfterSeconds: 37,
	}}

	req := httptest.NewRequest("POST", "/messages", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	w, nextCalled := serveLimited(checker, req)

	if nextCalled {
		t.Errorf("expected denied request not to reach the handler")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "37" {
		t.Errorf("expected Retry-After 37, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestSlidingWindowLimit_StoreErrorReturns503(t *testing.T) {
	checker := &MockRateLimitChecker{err: models.ErrStoreUnavailable}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	w, nextCalled := serveLimited(checker, req)

	if nextCalled {
		t.Errorf("expected request not to reach the handler on store error")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestSlidingWindowLimit_AuthenticatedIdentityIncludesUserID(t *testing.T) {
	checker := &MockRateLimitChecker{decision: allowedDecision()}

	req := httptest.NewRequest("GET", "/users/me", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	claims := &models.TokenClaims{UserID: "user-123", Type: "access"}
	req = req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))

	serveLimited(checker, req)

	if checker.seenID.UserID != "user-123" {
		t.Errorf("expected identity to carry the user ID, got %q", checker.seenID.UserID)
	}
	if checker.seenID.IP != "203.0.113.10" {
		t.Errorf("expected identity to carry the client IP, got %q", checker.seenID.IP)
	}
	if checker.seenPath != "/users/me" {
		t.Errorf("expected path /users/me, got %q", checker.seenPath)
	}
}

func TestInProcessIPLimit_EnforcesPerIPCap(t *testing.T) {
	handler := InProcessIPLimit(3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.10:54321"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d failed with status %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the cap, got %d", w.Code)
	}
}

func TestInProcessIPLimit_IsolatesAddresses(t *testing.T) {
	handler := InProcessIPLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest("POST", "/auth/login", nil)
	first.RemoteAddr = "203.0.113.10:54321"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, first)
	if w.Code != http.StatusOK {
		t.Fatalf("first address should pass, got %d", w.Code)
	}

	second := httptest.NewRequest("POST", "/auth/login", nil)
	second.RemoteAddr = "203.0.113.99:54321"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, second)
	if w.Code != http.StatusOK {
		t.Errorf("second address should have its own bucket, got %d", w.Code)
	}
}
