package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/inframate/internal/core/domain"
	"github.com/vietddude/inframate/internal/infra/storage"
)

// AttemptRepo implements storage.AttemptRepository using Redis.
//
// Attempts live in a hash keyed by ID; a sorted set scored by the attempt
// timestamp (unix millis) keeps them ordered.
type AttemptRepo struct {
	client *Client
}

// NewAttemptRepo creates a new Redis-backed attempt repository.
func NewAttemptRepo(client *Client) *AttemptRepo {
	return &AttemptRepo{client: client}
}

// Save archives one attempt. An existing ID is left untouched.
func (r *AttemptRepo) Save(ctx context.Context, a *domain.RecoveryAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	added, err := r.client.rdb.HSetNX(ctx, r.client.attemptDataKey(), a.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to store attempt: %w", err)
	}
	if !added {
		return nil
	}

	if err := r.client.rdb.ZAdd(ctx, r.client.attemptIndexKey(), redis.Z{
		Score:  float64(a.Timestamp.UnixMilli()),
		Member: a.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index attempt: %w", err)
	}
	return nil
}

// SaveBatch archives several attempts.
func (r *AttemptRepo) SaveBatch(ctx context.Context, attempts []domain.RecoveryAttempt) error {
	for i := range attempts {
		if err := r.Save(ctx, &attempts[i]); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves an attempt by ID.
func (r *AttemptRepo) Get(ctx context.Context, id string) (*domain.RecoveryAttempt, error) {
	data, err := r.client.rdb.HGet(ctx, r.client.attemptDataKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	var a domain.RecoveryAttempt
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt: %w", err)
	}
	return &a, nil
}

// List returns matching attempts ordered by timestamp.
func (r *AttemptRepo) List(
	ctx context.Context,
	filter storage.AttemptFilter,
) ([]domain.RecoveryAttempt, error) {
	lower := "-inf"
	if !filter.Since.IsZero() {
		lower = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}

	ids, err := r.client.rdb.ZRangeByScore(ctx, r.client.attemptIndexKey(), &redis.ZRangeBy{
		Min: lower,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.rdb.HMGet(ctx, r.client.attemptDataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget failed: %w", err)
	}

	var attempts []domain.RecoveryAttempt
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without data, drop it
			r.client.rdb.ZRem(ctx, r.client.attemptIndexKey(), ids[i])
			continue
		}
		var a domain.RecoveryAttempt
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt %s: %w", ids[i], err)
		}
		if filter.Match(&a) {
			attempts = append(attempts, a)
		}
	}

	if filter.Limit > 0 && len(attempts) > filter.Limit {
		attempts = attempts[len(attempts)-filter.Limit:]
	}
	return attempts, nil
}

// DeleteOlderThan removes attempts recorded before cutoff.
func (r *AttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := r.client.rdb.ZRangeByScore(ctx, r.client.attemptIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	pipe := r.client.rdb.TxPipeline()
	removed := pipe.ZRem(ctx, r.client.attemptIndexKey(), members...)
	pipe.HDel(ctx, r.client.attemptDataKey(), ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	return removed.Val(), nil
}

var _ storage.AttemptRepository = (*AttemptRepo)(nil)
