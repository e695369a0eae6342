package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
	pkghttp "github.com/quillsend/quillsend/pkg/http"
	pkglogger "github.com/quillsend/quillsend/pkg/logger"
)

// AccountAdminService defines the lock/unlock operations admins use.
type AccountAdminService interface {
	LockAccount(ctx context.Context, userID, reason string, duration time.Duration) error
	UnlockAccount(ctx context.Context, userID string) error
}

// TokenAdminService revokes all of a user's live tokens.
type TokenAdminService interface {
	RevokeAll(ctx context.Context, userID, reason string) (int, error)
}

// AdminHandler handles administrative account operations.
type AdminHandler struct {
	users    UserServiceInterface
	security AccountAdminService
	tokens   TokenAdminService
	audit    *pkglogger.AuditLogger
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users UserServiceInterface, security AccountAdminService, tokens TokenAdminService, audit *pkglogger.AuditLogger, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		users:    users,
		security: security,
		tokens:   tokens,
		audit:    audit,
		ipConfig: ipConfig,
	}
}

// LockAccountRequest represents the request body for an admin lock.
type LockAccountRequest struct {
	Reason          string `json:"reason" validate:"required,min=1,max=200"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=43200"`
}

// ListUsersResponse represents a page of users.
type ListUsersResponse struct {
	Users []*ProfileResponse `json:"users"`
	Total int                `json:"total"`
}

// ListUsers handles GET /admin/users with pagination.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 10
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if err := parseIntParam(l, &limit, 1, 100); err != nil {
			httpBadRequest(w, "Invalid limit parameter")
			return
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if err := parseIntParam(o, &offset, 0, 10000); err != nil {
			httpBadRequest(w, "Invalid offset parameter")
			return
		}
	}

	users, err := h.users.ListUsers(r.Context(), limit, offset)
	if err != nil {
		httpInternalError(w)
		return
	}

	resp := ListUsersResponse{Users: make([]*ProfileResponse, 0, len(users)), Total: len(users)}
	for _, u := range users {
		resp.Users = append(resp.Users, profileToResponse(u))
	}

	writeOK(w, resp)
}

// LockAccount handles POST /admin/users/{id}/lock.
func (h *AdminHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		httpBadRequest(w, "User ID is required")
		return
	}

	var req LockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		httpBadRequest(w, err.Error())
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	if err := h.security.LockAccount(r.Context(), userID, req.Reason, duration); err != nil {
		writeUserError(w, err)
		return
	}

	// A locked account must not keep working sessions.
	if _, err := h.tokens.RevokeAll(r.Context(), userID, models.RevocationReasonAdminRevoke); err != nil {
		httpInternalError(w)
		return
	}

	h.logAccountAction(r, "admin_lock", userID, map[string]string{"reason": req.Reason})
	w.WriteHeader(http.StatusNoContent)
}

// UnlockAccount handles POST /admin/users/{id}/unlock.
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		httpBadRequest(w, "User ID is required")
		return
	}

	if err := h.security.UnlockAccount(r.Context(), userID); err != nil {
		writeUserError(w, err)
		return
	}

	h.logAccountAction(r, "admin_unlock", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser handles DELETE /admin/users/{id}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		httpBadRequest(w, "User ID is required")
		return
	}

	if err := h.users.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			httpNotFound(w, "User not found")
			return
		}
		httpInternalError(w)
		return
	}

	h.logAccountAction(r, "admin_delete", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) logAccountAction(r *http.Request, eventType, targetUserID string, metadata map[string]string) {
	if h.audit == nil {
		return
	}
	if claims := auth.GetUserFromContext(r); claims != nil {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["actor_id"] = claims.UserID
	}
	h.audit.LogAccountAction(eventType, targetUserID, pkghttp.ExtractClientIP(r, h.ipConfig), metadata)
}
