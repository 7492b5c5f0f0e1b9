package user

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const directoryKey = "users:directory"
const directoryTTL = 60 * time.Second

// DirectoryCache keeps the registered-user directory in Redis so the
// presence broadcast on every connect/disconnect does not hit Postgres
// each time. Profile writes invalidate the key; a short TTL covers
// anything that slips past invalidation.
type DirectoryCache struct {
	rdb  *redis.Client
	repo *Repository
	log  *zap.Logger
}

func NewDirectoryCache(rdb *redis.Client, repo *Repository, log *zap.Logger) *DirectoryCache {
	return &DirectoryCache{rdb: rdb, repo: repo, log: log}
}

// Directory returns the full user directory, served from Redis when warm.
// Cache failures fall through to the database.
func (c *DirectoryCache) Directory(ctx context.Context) ([]User, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, directoryKey).Bytes()
		if err == nil {
			var users []User
			if err := json.Unmarshal(raw, &users); err == nil {
				return users, nil
			}
			c.log.Warn("corrupt directory cache entry, refetching")
		} else if err != redis.Nil {
			c.log.Warn("directory cache read failed", zap.Error(err))
		}
	}

	users, err := c.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(users); err == nil {
			if err := c.rdb.Set(ctx, directoryKey, raw, directoryTTL).Err(); err != nil {
				c.log.Warn("directory cache write failed", zap.Error(err))
			}
		}
	}
	return users, nil
}

// Invalidate drops the cached directory after a user row changes.
func (c *DirectoryCache) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, directoryKey).Err(); err != nil {
		c.log.Warn("directory cache invalidation failed", zap.Error(err))
	}
}
