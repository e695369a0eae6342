package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quillsend/quillsend/internal/auth"
	"github.com/quillsend/quillsend/internal/models"
	pkgauth "github.com/quillsend/quillsend/pkg/auth"
)

// AccountLockedError carries the lock expiry so callers can tell the
// user the specific cause and duration, distinct from bad credentials.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked until %s", e.Until.Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == models.ErrAccountLocked
}

// AuthService handles authentication business logic
type AuthService struct {
	repo       UserRepository
	tm         *auth.TokenManager
	security   *AccountSecurityService
	revocation *TokenRevocationService
	logger     *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(repo UserRepository, tm *auth.TokenManager, security *AccountSecurityService, revocation *TokenRevocationService, logger *slog.Logger) *AuthService {
	return &AuthService{
		repo:       repo,
		tm:         tm,
		security:   security,
		revocation: revocation,
		logger:     logger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	EmailVerified    bool   `json:"email_verified"`
	Role             string `json:"role"`
	SubscriptionTier string `json:"subscription_tier"`
	Timezone         string `json:"timezone"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		EmailVerified:    user.EmailVerified,
		Role:             user.Role,
		SubscriptionTier: user.SubscriptionTier,
		Timezone:         user.Timezone,
		CreatedAt:        user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        user.UpdatedAt.Format(time.RFC3339),
	}
}

func validateAccountState(user *models.User) error {
	switch user.Status {
	case "disabled":
		return models.ErrAccountDisabled
	case "suspended":
		return models.ErrAccountSuspended
	}
	return nil
}

// Login authenticates a user and returns tokens. Failed attempts feed
// the lockout state machine; a locked account is reported as locked, not
// as bad credentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	if email = strings.ToLower(strings.TrimSpace(email)); email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Do not leak whether the email exists.
			s.logger.Info("login failed: invalid credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		return nil, err
	}

	// Lazy lock check: an elapsed lock counts as unlocked with no write.
	if s.security.IsLocked(user) {
		s.logger.Info("login blocked: account locked",
			slog.String("user_id", user.ID))
		return nil, &AccountLockedError{Until: *user.Security.AccountLockedUntil}
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		justLocked, recordErr := s.security.RecordFailedAttempt(ctx, user.ID)
		if recordErr != nil && !errors.Is(recordErr, models.ErrNotFound) {
			// Fail closed: an uncounted brute-force attempt is worse
			// than a rejected legitimate login.
			return nil, models.ErrStoreUnavailable
		}

		s.logger.Info("login failed: invalid credentials",
			slog.String("user_id", user.ID))

		if justLocked {
			return nil, &AccountLockedError{Until: time.Now().Add(s.security.duration)}
		}
		return nil, models.ErrUnauthorized
	}

	// Successful authentication clears the failure counter.
	if err := s.security.ResetFailedAttempts(ctx, user.ID); err != nil {
		s.logger.Warn("failed to reset failure counter",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return s.issueTokens(ctx, user)
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token",
			slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Index issued tokens so logout-everywhere can find them.
	s.revocation.TrackIssued(ctx, user.ID, accessToken, s.tm.AccessTokenExpiry())
	s.revocation.TrackIssued(ctx, user.ID, refreshToken, s.tm.RefreshTokenExpiry())

	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// Register creates a new account.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user, err := s.repo.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hash,
		Name:              name,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))

	return s.issueTokens(ctx, user)
}

// RefreshToken rotates a refresh token into a new token pair. The old
// refresh token is revoked so it cannot be replayed.
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token",
			slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	if s.revocation.IsRevoked(ctx, refreshTokenString) {
		s.logger.Warn("refresh attempt with revoked token",
			slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load user for refresh", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}
	if s.security.IsLocked(user) {
		return nil, &AccountLockedError{Until: *user.Security.AccountLockedUntil}
	}

	if _, err := s.revocation.Revoke(ctx, refreshTokenString, user.ID, models.RevocationReasonLogout); err != nil {
		s.logger.Warn("failed to revoke rotated refresh token",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return s.issueTokens(ctx, user)
}

// Logout revokes the presented access token for the rest of its life.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tm.ValidateToken(accessToken)
	if err != nil {
		return models.ErrUnauthorized
	}

	if _, err := s.revocation.Revoke(ctx, accessToken, claims.UserID, models.RevocationReasonLogout); err != nil {
		return err
	}

	return nil
}

// LogoutAll revokes every indexed token for the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.revocation.RevokeAll(ctx, userID, models.RevocationReasonLogout)
}
