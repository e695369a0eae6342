package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
	"github.com/quillsend/quillsend/internal/services"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims and a raw token to the request
// context, as the auth middleware would.
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	ctx = context.WithValue(ctx, auth.TokenContextKey, "test-raw-token")
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, email, password string) (*services.AuthResponse, error)
	RegisterFunc     func(ctx context.Context, email, password, name string) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, accessToken string) error
	LogoutAllFunc    func(ctx context.Context, userID string) (int, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResponse, error) {
	return m.LoginFunc(ctx, email, password)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) (*services.AuthResponse, error) {
	return m.RegisterFunc(ctx, email, password, name)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken string) error {
	return m.LogoutFunc(ctx, accessToken)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return m.LogoutAllFunc(ctx, userID)
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	GetUserByIDFunc         func(ctx context.Context, id string) (*models.User, error)
	ListUsersFunc           func(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateProfileFunc       func(ctx context.Context, id, name, timezone, tier string) (*models.User, error)
	GetQuotaStatusFunc      func(ctx context.Context, id, timezone string) (*models.QuotaStatus, error)
	GetSecurityOverviewFunc func(ctx context.Context, id string) (int, bool, error)
	DeleteUserFunc          func(ctx context.Context, id string) error
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return m.GetUserByIDFunc(ctx, id)
}

func (m *MockUserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	return m.ListUsersFunc(ctx, limit, offset)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, id, name, timezone, tier string) (*models.User, error) {
	return m.UpdateProfileFunc(ctx, id, name, timezone, tier)
}

func (m *MockUserService) GetQuotaStatus(ctx context.Context, id, timezone string) (*models.QuotaStatus, error) {
	return m.GetQuotaStatusFunc(ctx, id, timezone)
}

func (m *MockUserService) GetSecurityOverview(ctx context.Context, id string) (int, bool, error) {
	return m.GetSecurityOverviewFunc(ctx, id)
}

func (m *MockUserService) DeleteUser(ctx context.Context, id string) error {
	return m.DeleteUserFunc(ctx, id)
}

// MockQuotaConsumer implements QuotaConsumer for testing
type MockQuotaConsumer struct {
	ConsumeFunc func(ctx context.Context, userID, tier, timezone string) (*models.QuotaDecision, error)
}

func (m *MockQuotaConsumer) Consume(ctx context.Context, userID, tier, timezone string) (*models.QuotaDecision, error) {
	return m.ConsumeFunc(ctx, userID, tier, timezone)
}

// MockEmailSender implements services.EmailSender for testing
type MockEmailSender struct {
	SendFunc func(ctx context.Context, to []string, subject, textBody, htmlBody string) error
	Sent     int
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject, textBody, htmlBody string) error {
	m.Sent++
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, subject, textBody, htmlBody)
	}
	return nil
}

// MockAccountAdmin implements AccountAdminService for testing
type MockAccountAdmin struct {
	LockAccountFunc   func(ctx context.Context, userID, reason string, duration time.Duration) error
	UnlockAccountFunc func(ctx context.Context, userID string) error
}

func (m *MockAccountAdmin) LockAccount(ctx context.Context, userID, reason string, duration time.Duration) error {
	return m.LockAccountFunc(ctx, userID, reason, duration)
}

func (m *MockAccountAdmin) UnlockAccount(ctx context.Context, userID string) error {
	return m.UnlockAccountFunc(ctx, userID)
}

// MockTokenAdmin implements TokenAdminService for testing
type MockTokenAdmin struct {
	RevokeAllFunc func(ctx context.Context, userID, reason string) (int, error)
}

func (m *MockTokenAdmin) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	return m.RevokeAllFunc(ctx, userID, reason)
}
