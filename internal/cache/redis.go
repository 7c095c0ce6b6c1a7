package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "enrich:view"

// Redis is a ViewCache shared by every enrichd instance. Keys embed a
// generation number kept in Redis; Invalidate increments it so older keys are
// never read again and expire on their own.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis creates a cache backed by the Redis server at addr.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: rdb, prefix: defaultPrefix, ttl: ttl}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) genKey() string { return r.prefix + ":gen" }

func (r *Redis) CurrentGeneration(ctx context.Context) (uint64, error) {
	gen, err := r.client.Get(ctx, r.genKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

func (r *Redis) genScoped(gen uint64, key string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, gen, key)
}

func (r *Redis) key(ctx context.Context, key string) (string, error) {
	gen, err := r.CurrentGeneration(ctx)
	if err != nil {
		return "", err
	}
	return r.genScoped(gen, key), nil
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	k, err := r.key(ctx, key)
	if err != nil {
		return false, err
	}
	data, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get cached view %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached view %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, v any) error {
	k, err := r.key(ctx, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view %s: %w", key, err)
	}
	return r.client.Set(ctx, k, data, r.ttl).Err()
}

// SetAt writes under generation gen. Once Invalidate has moved past gen the
// entry is never read and expires with the TTL.
func (r *Redis) SetAt(ctx context.Context, key string, gen uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view %s: %w", key, err)
	}
	return r.client.Set(ctx, r.genScoped(gen, key), data, r.ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context) error {
	return r.client.Incr(ctx, r.genKey()).Err()
}
