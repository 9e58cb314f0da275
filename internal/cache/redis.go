package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"consensus-trader/internal/models"
)

// RedisStore is a shared cache backend so multiple trader instances can reuse
// fetched opinions. Redis handles the TTL expiry itself.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis cache backend and verifies connectivity.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Get returns the cached opinion for key.
func (r *RedisStore) Get(ctx context.Context, key string) (models.SourceOpinion, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SourceOpinion{}, ErrCacheMiss
		}
		return models.SourceOpinion{}, err
	}

	var opinion models.SourceOpinion
	if err := json.Unmarshal(raw, &opinion); err != nil {
		// A corrupt entry is treated as a miss so the source gets refetched.
		r.client.Del(ctx, key)
		return models.SourceOpinion{}, ErrCacheMiss
	}
	return opinion, nil
}

// Set stores the opinion under key for ttl.
func (r *RedisStore) Set(ctx context.Context, key string, opinion models.SourceOpinion, ttl time.Duration) error {
	raw, err := json.Marshal(opinion)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes the entry for key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
