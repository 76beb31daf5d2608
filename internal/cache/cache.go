// Package cache holds the latest whale alert per symbol for cheap API reads.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wayy-Research/wrdata/internal/domain/repository"
)

const keyPrefix = "whale:latest:"

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache implements AlertCache on Redis.
type RedisCache struct {
	cli *redis.Client
}

func NewRedisCache(cfg RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return &RedisCache{cli: rdb}
}

func (r *RedisCache) SetLatest(ctx context.Context, symbol string, payload []byte, ttl time.Duration) error {
	return r.cli.Set(ctx, keyPrefix+symbol, payload, ttl).Err()
}

func (r *RedisCache) Latest(ctx context.Context, symbol string) ([]byte, bool, error) {
	b, err := r.cli.Get(ctx, keyPrefix+symbol).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Ping checks connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.cli.Close()
}

type entry struct {
	payload []byte
	exp     time.Time
}

// MemoryCache is the in-process AlertCache used when Redis is not
// configured. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]entry)}
}

func (c *MemoryCache) SetLatest(_ context.Context, symbol string, payload []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.mu.Lock()
	c.m[symbol] = entry{payload: cp, exp: exp}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Latest(_ context.Context, symbol string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.m[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, symbol)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.payload, true, nil
}

var (
	_ repository.AlertCache = (*RedisCache)(nil)
	_ repository.AlertCache = (*MemoryCache)(nil)
)
