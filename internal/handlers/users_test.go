package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/quillsend/quillsend/internal/handlers"
	"github.com/quillsend/quillsend/internal/models"
)

func userFixture(id string) *models.User {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.User{
		ID:               id,
		Email:            "user@example.com",
		Name:             "Test User",
		Role:             "user",
		Status:           "active",
		SubscriptionTier: models.TierFree,
		Timezone:         "America/New_York",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestGetProfile_Success(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return userFixture(id), nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/me", nil), "u1", "user@example.com")

	w := httptest.NewRecorder()
	handler.GetProfile(w, req)

	var resp handlers.ProfileResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "u1", resp.ID)
	assert.Equal(t, "America/New_York", resp.Timezone)
	assert.Equal(t, models.TierFree, resp.SubscriptionTier)
}

func TestGetProfile_Unauthenticated(t *testing.T) {
	handler := handlers.NewUserHandler(&handlers.MockUserService{})
	req := handlers.NewTestRequest(t, "GET", "/users/me", nil)

	w := httptest.NewRecorder()
	handler.GetProfile(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestUpdateProfile_Success(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		UpdateProfileFunc: func(ctx context.Context, id, name, timezone, tier string) (*models.User, error) {
			assert.Equal(t, "New Name", name)
			assert.Equal(t, "Europe/Berlin", timezone)
			u := userFixture(id)
			u.Name = name
			u.Timezone = timezone
			return u, nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "PUT", "/users/me", handlers.UpdateProfileRequest{
		Name:     "New Name",
		Timezone: "Europe/Berlin",
	}), "u1", "user@example.com")

	w := httptest.NewRecorder()
	handler.UpdateProfile(w, req)

	var resp handlers.ProfileResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "New Name", resp.Name)
	assert.Equal(t, "Europe/Berlin", resp.Timezone)
}

func TestUpdateProfile_InvalidTier(t *testing.T) {
	handler := handlers.NewUserHandler(&handlers.MockUserService{})
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "PUT", "/users/me", handlers.UpdateProfileRequest{
		SubscriptionTier: "platinum",
	}), "u1", "user@example.com")

	w := httptest.NewRecorder()
	handler.UpdateProfile(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestGetQuota_Success(t *testing.T) {
	reset := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return userFixture(id), nil
		},
		GetQuotaStatusFunc: func(ctx context.Context, id, timezone string) (*models.QuotaStatus, error) {
			assert.Equal(t, "America/New_York", timezone)
			return &models.QuotaStatus{DailyLimit: 5, Used: 2, Remaining: 3, ResetTime: reset}, nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/me/quota", nil), "u1", "user@example.com")

	w := httptest.NewRecorder()
	handler.GetQuota(w, req)

	var resp models.QuotaStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 5, resp.DailyLimit)
	assert.Equal(t, 3, resp.Remaining)
}

func TestGetSecurity_LockedAccount(t *testing.T) {
	reason := "too_many_failed_attempts"
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			u := userFixture(id)
			u.Security.FailedLoginAttempts = 5
			u.Security.LockReason = &reason
			return u, nil
		},
		GetSecurityOverviewFunc: func(ctx context.Context, id string) (int, bool, error) {
			return 55, true, nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/me/security", nil), "u1", "user@example.com")

	w := httptest.NewRecorder()
	handler.GetSecurity(w, req)

	var resp handlers.SecurityOverviewResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 55, resp.SecurityScore)
	assert.True(t, resp.AccountLocked)
	assert.Equal(t, 5, resp.FailedAttempts)
	assert.Equal(t, reason, resp.LockReason)
}

func TestGetUser_SelfAccess(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return userFixture(id), nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/u1", nil), "u1", "user@example.com")
	req = withURLParam(req, "id", "u1")

	w := httptest.NewRecorder()
	handler.GetUser(w, req)

	var resp handlers.ProfileResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "u1", resp.ID)
}

func TestGetUser_CrossAccessDeniedForRegularUser(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return userFixture(id), nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/u2", nil), "u1", "user@example.com")
	req = withURLParam(req, "id", "u2")

	w := httptest.NewRecorder()
	handler.GetUser(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusForbidden, "forbidden")
}

func TestGetUser_AdminCanReadAnyone(t *testing.T) {
	mockUsers := &handlers.MockUserService{
		GetUserByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			u := userFixture(id)
			if id == "admin1" {
				u.Role = "admin"
			}
			return u, nil
		},
	}

	handler := handlers.NewUserHandler(mockUsers)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/users/u2", nil), "admin1", "admin@example.com")
	req = withURLParam(req, "id", "u2")

	w := httptest.NewRecorder()
	handler.GetUser(w, req)

	var resp handlers.ProfileResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "u2", resp.ID)
}

// withURLParam injects a chi route parameter for direct handler calls.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
