package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisSamplesKey = "jamie:cache:samples"

// RedisStore keeps samples in a Redis sorted set scored by creation time,
// so age-based pruning is a single ZREMRANGEBYSCORE.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Append(ctx context.Context, s Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	err = r.rdb.ZAdd(ctx, redisSamplesKey, redis.Z{
		Score:  float64(s.CreatedAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

func (r *RedisStore) Samples(ctx context.Context) ([]Sample, error) {
	members, err := r.rdb.ZRange(ctx, redisSamplesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	out := make([]Sample, 0, len(members))
	for _, m := range members {
		var s Sample
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *RedisStore) Prune(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	removed := 0
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		n, err := r.rdb.ZRemRangeByScore(ctx, redisSamplesKey, "-inf", fmt.Sprintf("%d", cutoff)).Result()
		if err != nil {
			return removed, fmt.Errorf("prune by age: %w", err)
		}
		removed += int(n)
	}
	if maxCount > 0 {
		total, err := r.rdb.ZCard(ctx, redisSamplesKey).Result()
		if err != nil {
			return removed, fmt.Errorf("count samples: %w", err)
		}
		if surplus := total - int64(maxCount); surplus > 0 {
			n, err := r.rdb.ZRemRangeByRank(ctx, redisSamplesKey, 0, surplus-1).Result()
			if err != nil {
				return removed, fmt.Errorf("prune by count: %w", err)
			}
			removed += int(n)
		}
	}
	return removed, nil
}
