package headCache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vault-service/internal/model/fileInfo"
)

const defaultTTL = 5 * time.Minute

// HeadCache keeps the latest committed version per path in redis so hot
// reads skip the database. It is strictly a cache: a miss or error falls
// through to the chain, and merges invalidate the touched paths.
type HeadCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func New(client *redis.Client) *HeadCache {
	return &HeadCache{Client: client, TTL: defaultTTL}
}

func (c *HeadCache) buildKey(path string) string {
	return fmt.Sprintf("head:%s", path)
}

// Get returns the cached head for a path, or nil on a miss.
func (c *HeadCache) Get(ctx context.Context, path string) (*fileInfo.FileVersion, error) {
	raw, err := c.Client.Get(ctx, c.buildKey(path)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v fileInfo.FileVersion
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HeadCache) Set(ctx context.Context, v *fileInfo.FileVersion) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, c.buildKey(v.Path), raw, c.TTL).Err()
}

// Invalidate drops the cached heads for the given paths.
func (c *HeadCache) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = c.buildKey(p)
	}
	return c.Client.Del(ctx, keys...).Err()
}
