package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "banditd:decision:"

// RedisStore uses SETNX for first-write-wins and GETDEL so that concurrent
// feedback for one decision is applied at most once.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Put(ctx context.Context, d *Decision, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	// false means another writer got there first, which is fine
	if err := r.client.SetNX(ctx, redisKeyPrefix+d.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Take(ctx context.Context, id string) (*Decision, error) {
	data, err := r.client.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GETDEL failed: %w", err)
	}

	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &d, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
