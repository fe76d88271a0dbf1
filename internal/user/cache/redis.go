// Package cache is a redis backed user.ResultCache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tiger4589/cqrs-lib/internal/user"
	"go.uber.org/zap"
)

const keyPrefix = "cqrs:user:"

// Redis caches GetUserQuery results. Redis failures are logged and treated
// as misses so reads fall through to the repository.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func New(client *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log}
}

// Dial parses url, pings the server and returns a cache using it.
func Dial(ctx context.Context, url string, ttl time.Duration, log *zap.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, ttl, log), nil
}

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

func (r *Redis) Get(ctx context.Context, id uuid.UUID) (user.GetUserQueryResult, bool) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return user.GetUserQueryResult{}, false
	}
	if err != nil {
		r.log.Warn("cache get failed", zap.Stringer("id", id), zap.Error(err))
		return user.GetUserQueryResult{}, false
	}

	var result user.GetUserQueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		r.log.Warn("cache entry corrupt", zap.Stringer("id", id), zap.Error(err))
		return user.GetUserQueryResult{}, false
	}
	return result, true
}

func (r *Redis) Set(ctx context.Context, result user.GetUserQueryResult) {
	data, err := json.Marshal(result)
	if err != nil {
		r.log.Warn("cache encode failed", zap.Stringer("id", result.ID), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, key(result.ID), data, r.ttl).Err(); err != nil {
		r.log.Warn("cache set failed", zap.Stringer("id", result.ID), zap.Error(err))
	}
}

func (r *Redis) Expire(ctx context.Context, id uuid.UUID) {
	if err := r.client.Del(ctx, key(id)).Err(); err != nil {
		r.log.Warn("cache expire failed", zap.Stringer("id", id), zap.Error(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
