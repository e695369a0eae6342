package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsend/quillsend/internal/models"
)

func newRevocationRepo(t *testing.T) (*TokenRevocationRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTokenRevocationRepository(client), mr
}

func revokedFixture(hash string) *models.RevokedToken {
	return &models.RevokedToken{
		TokenHash:     hash,
		UserID:        "u1",
		Reason:        models.RevocationReasonLogout,
		BlacklistedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:     time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestBlacklist_ThenIsBlacklisted(t *testing.T) {
	repo, _ := newRevocationRepo(t)
	ctx := context.Background()

	blacklisted, err := repo.IsBlacklisted(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, blacklisted)

	require.NoError(t, repo.Blacklist(ctx, revokedFixture("hash-1"), "raw-token-1", time.Hour))

	blacklisted, err = repo.IsBlacklisted(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, blacklisted)
}

func TestBlacklist_IndexesRawTokenPerUser(t *testing.T) {
	repo, _ := newRevocationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Blacklist(ctx, revokedFixture("hash-1"), "raw-token-1", time.Hour))

	tokens, err := repo.UserTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw-token-1"}, tokens)
}

func TestBlacklist_RecordExpiresWithTTL(t *testing.T) {
	repo, mr := newRevocationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Blacklist(ctx, revokedFixture("hash-1"), "raw-token-1", time.Minute))

	mr.FastForward(2 * time.Minute)

	blacklisted, err := repo.IsBlacklisted(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, blacklisted)

	tokens, err := repo.UserTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestBlacklist_ShortLivedTokenDoesNotShrinkIndexTTL(t *testing.T) {
	repo, mr := newRevocationRepo(t)
	ctx := context.Background()

	// A refresh token is tracked for a week, then a short-lived access
	// token is revoked. The index must keep the longer TTL or a later
	// bulk revocation would miss the still-live refresh token.
	require.NoError(t, repo.TrackToken(ctx, "u1", "refresh-token", 168*time.Hour))
	require.NoError(t, repo.Blacklist(ctx, revokedFixture("hash-1"), "access-token", time.Hour))

	assert.Equal(t, 168*time.Hour, mr.TTL("revoked:user:u1"))

	mr.FastForward(2 * time.Hour)

	tokens, err := repo.UserTokens(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"refresh-token", "access-token"}, tokens)
}

func TestTrackToken_LongerLivedTokenExtendsIndexTTL(t *testing.T) {
	repo, mr := newRevocationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackToken(ctx, "u1", "access-token", time.Hour))
	require.NoError(t, repo.TrackToken(ctx, "u1", "refresh-token", 168*time.Hour))

	assert.Equal(t, 168*time.Hour, mr.TTL("revoked:user:u1"))
}

func TestGetRecord_RoundTrip(t *testing.T) {
	repo, _ := newRevocationRepo(t)
	ctx := context.Background()

	want := revokedFixture("hash-1")
	require.NoError(t, repo.Blacklist(ctx, want, "raw-token-1", time.Hour))

	got, err := repo.GetRecord(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Reason, got.Reason)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
}

func TestGetRecord_MissingReturnsNotFound(t *testing.T) {
	repo, _ := newRevocationRepo(t)

	_, err := repo.GetRecord(context.Background(), "no-such-hash")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTrackToken_BuildsUserIndex(t *testing.T) {
	repo, _ := newRevocationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackToken(ctx, "u1", "raw-token-1", time.Hour))
	require.NoError(t, repo.TrackToken(ctx, "u1", "raw-token-2", time.Hour))
	require.NoError(t, repo.TrackToken(ctx, "u2", "raw-token-3", time.Hour))

	tokens, err := repo.UserTokens(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"raw-token-1", "raw-token-2"}, tokens)
}

func TestDeleteUserIndex_RemovesOnlyThatUser(t *testing.T) {
	repo, _ := newRevocationRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackToken(ctx, "u1", "raw-token-1", time.Hour))
	require.NoError(t, repo.TrackToken(ctx, "u2", "raw-token-2", time.Hour))

	require.NoError(t, repo.DeleteUserIndex(ctx, "u1"))

	tokens, err := repo.UserTokens(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	tokens, err = repo.UserTokens(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw-token-2"}, tokens)
}
