package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/quillsend/quillsend/internal/models"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, id string, user *models.User) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// UserService handles profile business logic
type UserService struct {
	repo       UserRepository
	quota      *QuotaService
	security   *AccountSecurityService
	revocation *TokenRevocationService
	logger     *slog.Logger
}

// NewUserService creates a new UserService
func NewUserService(repo UserRepository, quota *QuotaService, security *AccountSecurityService, revocation *TokenRevocationService, logger *slog.Logger) *UserService {
	return &UserService{
		repo:       repo,
		quota:      quota,
		security:   security,
		revocation: revocation,
		logger:     logger,
	}
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found", slog.String("user_id", id))
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return user, nil
}

// ListUsers retrieves a list of users with pagination
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users",
			slog.Int("limit", limit), slog.Int("offset", offset), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return users, nil
}

// UpdateProfile updates the mutable profile fields
func (s *UserService) UpdateProfile(ctx context.Context, id string, name, timezone, tier string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user for update",
			slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if name != "" {
		user.Name = name
	}
	if timezone != "" {
		user.Timezone = timezone
	}
	if tier != "" {
		user.SubscriptionTier = tier
	}

	updated, err := s.repo.Update(ctx, id, user)
	if err != nil {
		s.logger.Error("failed to update user",
			slog.String("user_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user profile updated", slog.String("user_id", id))
	return updated, nil
}

// GetQuotaStatus surfaces the daily allowance view for profile display.
func (s *UserService) GetQuotaStatus(ctx context.Context, id, timezone string) (*models.QuotaStatus, error) {
	return s.quota.GetInfo(ctx, id, timezone)
}

// GetSecurityOverview returns the informational security score together
// with the current lock state.
func (s *UserService) GetSecurityOverview(ctx context.Context, id string) (score int, locked bool, err error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return s.security.SecurityScore(user), s.security.IsLocked(user), nil
}

// DeleteUser removes the account and bulk-revokes its outstanding tokens.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete user", slog.String("user_id", id), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.revocation.RevokeAll(ctx, id, models.RevocationReasonAccountDeleted); err != nil {
		// The account is gone; stray tokens still die at their natural
		// expiry even if the bulk revoke could not reach the store.
		s.logger.Warn("failed to revoke tokens of deleted user",
			slog.String("user_id", id), slog.Any("error", err))
	}

	s.logger.Info("user deleted", slog.String("user_id", id))
	return nil
}
