package session

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Canceller holds cooperative stop flags checked by running scrapes between
// pages.
type Canceller interface {
	Cancel(ctx context.Context, sessionID string) error
	Cancelled(ctx context.Context, sessionID string) (bool, error)
	Clear(ctx context.Context, sessionID string) error
}

// MemoryCanceller keeps flags in process memory.
type MemoryCanceller struct {
	mu    sync.Mutex
	flags map[string]struct{}
}

// NewMemoryCanceller creates an empty MemoryCanceller.
func NewMemoryCanceller() *MemoryCanceller {
	return &MemoryCanceller{flags: make(map[string]struct{})}
}

func (c *MemoryCanceller) Cancel(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[id] = struct{}{}
	return nil
}

func (c *MemoryCanceller) Cancelled(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flags[id]
	return ok, nil
}

func (c *MemoryCanceller) Clear(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flags, id)
	return nil
}

type redisKV interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCanceller shares flags through Redis so a stop issued to one API
// instance reaches a scrape running on another.
type RedisCanceller struct {
	rdb redisKV
	ttl time.Duration
}

// NewRedisCanceller creates a RedisCanceller. Flags expire after ttl
// (default 24h).
func NewRedisCanceller(rdb redisKV, ttl time.Duration) *RedisCanceller {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCanceller{rdb: rdb, ttl: ttl}
}

func cancelKey(id string) string { return "scraper:cancel:" + id }

func (c *RedisCanceller) Cancel(ctx context.Context, id string) error {
	return eris.Wrapf(c.rdb.Set(ctx, cancelKey(id), "1", c.ttl).Err(), "session: set cancel flag %s", id)
}

func (c *RedisCanceller) Cancelled(ctx context.Context, id string) (bool, error) {
	n, err := c.rdb.Exists(ctx, cancelKey(id)).Result()
	if err != nil {
		return false, eris.Wrapf(err, "session: read cancel flag %s", id)
	}
	return n > 0, nil
}

func (c *RedisCanceller) Clear(ctx context.Context, id string) error {
	return eris.Wrapf(c.rdb.Del(ctx, cancelKey(id)).Err(), "session: clear cancel flag %s", id)
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "session: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "session: ping redis")
	}
	return rdb, nil
}
