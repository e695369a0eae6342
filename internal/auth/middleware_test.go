package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillsend/quillsend/internal/models"
)

// MockRevocationChecker reports a fixed revocation answer and records the
// token it was asked about.
type MockRevocationChecker struct {
	revoked     bool
	checkedWith string
}

func (m *MockRevocationChecker) IsRevoked(ctx context.Context, rawToken string) bool {
	m.checkedWith = rawToken
	return m.revoked
}

// MockUserFetcher returns a fixed user for role checks.
type MockUserFetcher struct {
	user *models.User
	err  error
}

func (m *MockUserFetcher) GetByID(ctx context.Context, id string) (*models.User, error) {
	return m.user, m.err
}

func runMiddleware(t *testing.T, tm *TokenManager, revocation TokenRevocationChecker, authHeader string) (*httptest.ResponseRecorder, *http.Request, bool) {
	t.Helper()

	req := httptest.NewRequest("GET", "/users/me", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	w := httptest.NewRecorder()
	nextCalled := false
	var seen *http.Request
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		seen = r
		w.WriteHeader(http.StatusOK)
	})

	Middleware(tm, revocation)(next).ServeHTTP(w, req)
	return w, seen, nextCalled
}

func TestMiddleware_ValidTokenInjectsClaimsAndRawToken(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("user-123", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checker := &MockRevocationChecker{}
	w, seen, nextCalled := runMiddleware(t, tm, checker, "Bearer "+token)

	if !nextCalled {
		t.Fatalf("expected next handler to be called, got status %d", w.Code)
	}

	claims := GetUserFromContext(seen)
	if claims == nil || claims.UserID != "user-123" {
		t.Errorf("expected claims for user-123 in context")
	}
	if GetTokenFromContext(seen) != token {
		t.Errorf("expected raw token in context for logout handling")
	}
	if checker.checkedWith != token {
		t.Errorf("expected revocation check against the presented token")
	}
}

func TestMiddleware_MissingHeaderRejected(t *testing.T) {
	w, _, nextCalled := runMiddleware(t, newTestTokenManager(), &MockRevocationChecker{}, "")

	if nextCalled {
		t.Errorf("expected next handler not to be called")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MalformedHeaderRejected(t *testing.T) {
	tm := newTestTokenManager()
	token, _ := tm.GenerateAccessToken("user-123", "user@example.com")

	for _, header := range []string{token, "Basic " + token, "Bearer"} {
		w, _, nextCalled := runMiddleware(t, tm, &MockRevocationChecker{}, header)
		if nextCalled {
			t.Errorf("expected rejection for header %q", header)
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 for header %q, got %d", header, w.Code)
		}
	}
}

func TestMiddleware_RefreshTokenRejectedForAPIAccess(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateRefreshToken("user-123", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _, nextCalled := runMiddleware(t, tm, &MockRevocationChecker{}, "Bearer "+token)

	if nextCalled {
		t.Errorf("expected refresh token to be rejected for API access")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_RevokedTokenRejected(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("user-123", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _, nextCalled := runMiddleware(t, tm, &MockRevocationChecker{revoked: true}, "Bearer "+token)

	if nextCalled {
		t.Errorf("expected revoked token to be rejected")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_ExpiredTokenRejected(t *testing.T) {
	tm := NewTokenManager("test-secret-key", -time.Minute, time.Hour)
	token, err := tm.GenerateAccessToken("user-123", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, _, nextCalled := runMiddleware(t, tm, &MockRevocationChecker{}, "Bearer "+token)

	if nextCalled {
		t.Errorf("expected expired token to be rejected")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func requireRoleRequest(t *testing.T, fetcher UserFetcher, claims *models.TokenClaims) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	req := httptest.NewRequest("GET", "/admin/users", nil)
	if claims != nil {
		req = req.WithContext(context.WithValue(req.Context(), UserContextKey, claims))
	}

	w := httptest.NewRecorder()
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	RequireRole(fetcher, "admin")(next).ServeHTTP(w, req)
	return w, nextCalled
}

func TestRequireRole_AdminAllowed(t *testing.T) {
	fetcher := &MockUserFetcher{user: &models.User{ID: "user-123", Role: "admin"}}

	w, nextCalled := requireRoleRequest(t, fetcher, &models.TokenClaims{UserID: "user-123"})

	if !nextCalled {
		t.Errorf("expected admin to pass, got status %d", w.Code)
	}
}

func TestRequireRole_NonAdminForbidden(t *testing.T) {
	fetcher := &MockUserFetcher{user: &models.User{ID: "user-123", Role: "user"}}

	w, nextCalled := requireRoleRequest(t, fetcher, &models.TokenClaims{UserID: "user-123"})

	if nextCalled {
		t.Errorf("expected non-admin to be rejected")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequireRole_UnauthenticatedRejected(t *testing.T) {
	fetcher := &MockUserFetcher{user: &models.User{ID: "user-123", Role: "admin"}}

	w, nextCalled := requireRoleRequest(t, fetcher, nil)

	if nextCalled {
		t.Errorf("expected unauthenticated request to be rejected")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireRole_DeletedUserRejected(t *testing.T) {
	fetcher := &MockUserFetcher{err: models.ErrNotFound}

	w, nextCalled := requireRoleRequest(t, fetcher, &models.TokenClaims{UserID: "user-123"})

	if nextCalled {
		t.Errorf("expected request for a deleted user to be rejected")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
