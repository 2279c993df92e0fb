package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"retro-sync/domain"
)

type directoryBackend interface {
	Reserve(ctx context.Context, info domain.BoardInfo) error
	Release(ctx context.Context, info domain.BoardInfo) error
	Lookup(ctx context.Context, id string) (domain.BoardInfo, error)
}

// Cache wraps a board directory with Redis-backed caching of lookups.
type Cache struct {
	base  directoryBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching directory wrapper using the provided Redis client and TTL.
func NewCache(base directoryBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base directory is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Reserve(ctx context.Context, info domain.BoardInfo) error {
	if err := c.base.Reserve(ctx, info); err != nil {
		return err
	}
	c.store(ctx, info)
	return nil
}

func (c *Cache) Release(ctx context.Context, info domain.BoardInfo) error {
	c.evict(ctx, info.ID)
	return c.base.Release(ctx, info)
}

func (c *Cache) Lookup(ctx context.Context, id string) (domain.BoardInfo, error) {
	if info, ok := c.load(ctx, id); ok {
		return info, nil
	}
	info, err := c.base.Lookup(ctx, id)
	if err != nil {
		return domain.BoardInfo{}, err
	}
	c.store(ctx, info)
	return info, nil
}

func (c *Cache) load(ctx context.Context, id string) (domain.BoardInfo, bool) {
	if c.redis == nil {
		return domain.BoardInfo{}, false
	}
	data, err := c.redis.Get(ctx, boardInfoCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing directory without failing.
			_ = c.redis.Del(ctx, boardInfoCacheKey(id)).Err()
		}
		return domain.BoardInfo{}, false
	}
	var info domain.BoardInfo
	if err := json.Unmarshal(data, &info); err != nil {
		_ = c.redis.Del(ctx, boardInfoCacheKey(id)).Err()
		return domain.BoardInfo{}, false
	}
	return info, true
}

func (c *Cache) store(ctx context.Context, info domain.BoardInfo) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardInfoCacheKey(info.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardInfoCacheKey(id)).Err()
}

func boardInfoCacheKey(id string) string {
	return "board-info:" + id
}
