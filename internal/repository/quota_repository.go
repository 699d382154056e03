package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaRepository tracks per-user daily analysis usage in Redis. The key
// rolls over at UTC midnight, matching the upstream classifier's window, so
// the client-side check and the server enforcement agree.
type QuotaRepository struct {
	client *redis.Client
}

// NewQuotaRepository constructs a quota repository.
func NewQuotaRepository(client *redis.Client) *QuotaRepository {
	return &QuotaRepository{client: client}
}

func quotaKey(userID string, day time.Time) string {
	return fmt.Sprintf("quota:analyze:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// Used returns the number of analyses consumed by the user today.
func (r *QuotaRepository) Used(ctx context.Context, userID string) (int, error) {
	used, err := r.client.Get(ctx, quotaKey(userID, time.Now())).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get quota for %s: %w", userID, err)
	}
	return used, nil
}

// Consume increments today's counter and returns the new value. The first
// increment of the day sets the key to expire shortly after midnight.
func (r *QuotaRepository) Consume(ctx context.Context, userID string) (int, error) {
	key := quotaKey(userID, time.Now())
	used, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr quota for %s: %w", userID, err)
	}
	if used == 1 {
		now := time.Now().UTC()
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		if err := r.client.ExpireAt(ctx, key, midnight.Add(time.Hour)).Err(); err != nil {
			return int(used), fmt.Errorf("redis expire quota for %s: %w", userID, err)
		}
	}
	return int(used), nil
}
