package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateWindowPrefix = "ratelimit:"

// RateWindowRepository maintains one sorted set of event timestamps per
// (rule, key) pair. The trim/count/insert/expire sequence is issued as a
// single pipelined request; splitting it into separate awaited calls
// would reopen the check-then-act race the sliding window exists to close.
type RateWindowRepository struct {
	client *redis.Client
}

func NewRateWindowRepository(client *redis.Client) *RateWindowRepository {
	return &RateWindowRepository{client: client}
}

// WindowState is the observation returned by Touch. Count is the number
// of events that were already in the window before the current event was
// inserted; OldestAt is the surviving window's oldest event time (zero
// when the current event is the only one).
type WindowState struct {
	Count    int64
	OldestAt time.Time
}

// Touch records the current event and reports the pre-insert state of
// the window in one atomic round trip: (1) drop entries older than
// now-window, (2) count what survives, (3) insert the current event,
// (4) refresh the key's own expiry.
func (r *RateWindowRepository) Touch(ctx context.Context, key string, now time.Time, window time.Duration) (*WindowState, error) {
	redisKey := rateWindowPrefix + key
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	// Member must be unique even for same-millisecond events.
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()[:8]

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis touch rate window: %w", err)
	}

	state := &WindowState{Count: countCmd.Val()}

	if oldest := oldestCmd.Val(); len(oldest) > 0 && state.Count > 0 {
		state.OldestAt = time.UnixMilli(int64(oldest[0].Score))
	}

	return state, nil
}

// Peek reports the current window population without recording an event.
func (r *RateWindowRepository) Peek(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	redisKey := rateWindowPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	nowStr := strconv.FormatInt(now.UnixMilli(), 10)

	count, err := r.client.ZCount(ctx, redisKey, cutoff, nowStr).Result()
	if err != nil {
		return 0, fmt.Errorf("redis peek rate window: %w", err)
	}
	return count, nil
}
