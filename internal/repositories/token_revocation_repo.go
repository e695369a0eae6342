package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quillsend/quillsend/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	revokedTokenPrefix = "revoked:token:"
	revokedUserPrefix  = "revoked:user:"
)

// TokenRevocationRepository stores blacklist records in the expiring
// counter store. Each record's TTL equals the token's remaining life, so
// storage-level expiry guarantees the blacklist never outlives the
// tokens it describes and never needs manual pruning for correctness.
type TokenRevocationRepository struct {
	client *redis.Client
}

func NewTokenRevocationRepository(client *redis.Client) *TokenRevocationRepository {
	return &TokenRevocationRepository{client: client}
}

// Blacklist writes the revocation record under the token hash and adds
// the raw token to the per-user index set, both bounded by ttl. The two
// writes go out as one pipelined request.
func (r *TokenRevocationRepository) Blacklist(ctx context.Context, rec *models.RevokedToken, rawToken string, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal revoked token: %w", err)
	}

	userKey := revokedUserPrefix + rec.UserID

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, revokedTokenPrefix+rec.TokenHash, data, ttl)
	pipe.SAdd(ctx, userKey, rawToken)
	// The index must outlive its longest-lived member, so the TTL is
	// set when absent and otherwise only ever extended.
	pipe.ExpireNX(ctx, userKey, ttl)
	pipe.ExpireGT(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis blacklist token: %w", err)
	}

	return nil
}

// IsBlacklisted is a single point lookup by token hash.
func (r *TokenRevocationRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedTokenPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("redis check blacklist: %w", err)
	}
	return n > 0, nil
}

// GetRecord fetches the full revocation record, if any.
func (r *TokenRevocationRepository) GetRecord(ctx context.Context, tokenHash string) (*models.RevokedToken, error) {
	data, err := r.client.Get(ctx, revokedTokenPrefix+tokenHash).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("redis get blacklist record: %w", err)
	}

	var rec models.RevokedToken
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal revoked token: %w", err)
	}

	return &rec, nil
}

// UserTokens returns the raw tokens currently indexed for a user; used
// only for bulk revocation (logout-everywhere, account deletion).
func (r *TokenRevocationRepository) UserTokens(ctx context.Context, userID string) ([]string, error) {
	tokens, err := r.client.SMembers(ctx, revokedUserPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user tokens: %w", err)
	}
	return tokens, nil
}

// TrackToken registers an issued token in the per-user index so that a
// later bulk revocation can find it. The index TTL never shrinks below
// the life of any tracked token.
func (r *TokenRevocationRepository) TrackToken(ctx context.Context, userID, rawToken string, ttl time.Duration) error {
	userKey := revokedUserPrefix + userID

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, userKey, rawToken)
	pipe.ExpireNX(ctx, userKey, ttl)
	pipe.ExpireGT(ctx, userKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis track token: %w", err)
	}
	return nil
}

// DeleteUserIndex drops the per-user index after a bulk revocation.
func (r *TokenRevocationRepository) DeleteUserIndex(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, revokedUserPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis delete user token index: %w", err)
	}
	return nil
}
