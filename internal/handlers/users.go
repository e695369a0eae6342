package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
)

// UserServiceInterface defines the interface for user business logic
type UserServiceInterface interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	UpdateProfile(ctx context.Context, id, name, timezone, tier string) (*models.User, error)
	GetQuotaStatus(ctx context.Context, id, timezone string) (*models.QuotaStatus, error)
	GetSecurityOverview(ctx context.Context, id string) (score int, locked bool, err error)
	DeleteUser(ctx context.Context, id string) error
}

// UserHandler handles user-profile HTTP requests
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// UpdateProfileRequest represents the request body for profile updates
type UpdateProfileRequest struct {
	Name             string `json:"name" validate:"omitempty,min=1,max=100"`
	Timezone         string `json:"timezone" validate:"omitempty,timezone"`
	SubscriptionTier string `json:"subscription_tier" validate:"omitempty,oneof=free premium enterprise"`
}

// ProfileResponse represents a user profile in HTTP responses
type ProfileResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	SubscriptionTier string `json:"subscription_tier"`
	Timezone         string `json:"timezone"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// SecurityOverviewResponse reports the account's security posture
type SecurityOverviewResponse struct {
	SecurityScore  int    `json:"security_score"`
	AccountLocked  bool   `json:"account_locked"`
	FailedAttempts int    `json:"failed_attempts"`
	LockReason     string `json:"lock_reason,omitempty"`
}

func profileToResponse(user *models.User) *ProfileResponse {
	return &ProfileResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Role:             user.Role,
		SubscriptionTier: user.SubscriptionTier,
		Timezone:         user.Timezone,
		CreatedAt:        user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:        user.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// GetProfile returns the authenticated user's profile
// @Summary Get current user profile
// @Security BearerAuth
// @Produce json
// @Success 200 {object} ProfileResponse
// @Router /users/me [get]
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		httpUnauthorized(w)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	writeOK(w, profileToResponse(user))
}

// UpdateProfile updates name, timezone, or subscription tier
// @Summary Update current user profile
// @Security BearerAuth
// @Accept json
// @Produce json
// @Success 200 {object} ProfileResponse
// @Router /users/me [put]
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		httpUnauthorized(w)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		httpBadRequest(w, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)

	user, err := h.service.UpdateProfile(r.Context(), claims.UserID, req.Name, req.Timezone, req.SubscriptionTier)
	if err != nil {
		writeUserError(w, err)
		return
	}

	writeOK(w, profileToResponse(user))
}

// GetQuota returns today's sending allowance for the current user
// @Summary Get quota status
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.QuotaStatus
// @Router /users/me/quota [get]
func (h *UserHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		httpUnauthorized(w)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	status, err := h.service.GetQuotaStatus(r.Context(), user.ID, user.Timezone)
	if err != nil {
		writeUserError(w, err)
		return
	}

	writeOK(w, status)
}

// GetSecurity returns the security overview for the current user
// @Summary Get security overview
// @Security BearerAuth
// @Produce json
// @Success 200 {object} SecurityOverviewResponse
// @Router /users/me/security [get]
func (h *UserHandler) GetSecurity(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		httpUnauthorized(w)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	score, locked, err := h.service.GetSecurityOverview(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	resp := SecurityOverviewResponse{
		SecurityScore:  score,
		AccountLocked:  locked,
		FailedAttempts: user.Security.FailedLoginAttempts,
	}
	if locked && user.Security.LockReason != nil {
		resp.LockReason = *user.Security.LockReason
	}

	writeOK(w, resp)
}

// GetUser retrieves a user by ID. Regular users may only read their own
// record; admins may read anyone's.
// @Summary Get user by ID
// @Security BearerAuth
// @Param id path string true "User ID"
// @Produce json
// @Success 200 {object} ProfileResponse
// @Router /users/{id} [get]
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		httpBadRequest(w, "User ID is required")
		return
	}

	if err := h.checkUserAccess(r, userID); err != nil {
		httpForbidden(w)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	writeOK(w, profileToResponse(user))
}

// checkUserAccess allows self-access always and any access for admins.
func (h *UserHandler) checkUserAccess(r *http.Request, targetUserID string) error {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		return models.ErrUnauthorized
	}
	if claims.UserID == targetUserID {
		return nil
	}

	requester, err := h.service.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		return models.ErrForbidden
	}
	if requester.Role != "admin" {
		return models.ErrForbidden
	}
	return nil
}

func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		httpNotFound(w, "User not found")
	case errors.Is(err, models.ErrStoreUnavailable):
		httpServiceUnavailable(w)
	default:
		httpInternalError(w)
	}
}
