package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 配置共享的求解结果缓存
type RedisConfig struct {
	RedisURL string // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration
}

// RedisCache shares resolved package lists between machines.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: cfg.TTL}, nil
}

func (r *RedisCache) cacheKey(key string) string {
	return "mdb:depsolve:" + key
}

func (r *RedisCache) Load(ctx context.Context, key string) ([]Package, bool, error) {
	data, err := r.client.Get(ctx, r.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	pkgs, err := decodePackages(data)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return pkgs, true, nil
}

func (r *RedisCache) Store(ctx context.Context, key string, pkgs []Package) error {
	data, err := encodePackages(pkgs)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.cacheKey(key), data, r.ttl).Err()
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
