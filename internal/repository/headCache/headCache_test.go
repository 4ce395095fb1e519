package headCache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-service/internal/model/fileInfo"
	"vault-service/internal/repository/headCache"
)

func TestHeadCache(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	cache := headCache.New(db)

	version := &fileInfo.FileVersion{
		Path:          "docs/readme.md",
		VersionNumber: 3,
		StorageKey:    "blobs/abc",
		Size:          12,
		Author:        "alice",
	}
	raw, err := json.Marshal(version)
	require.NoError(t, err)

	t.Run("Set", func(t *testing.T) {
		mock.ExpectSet("head:docs/readme.md", raw, cache.TTL).SetVal("OK")
		err := cache.Set(ctx, version)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Get (hit)", func(t *testing.T) {
		mock.ExpectGet("head:docs/readme.md").SetVal(string(raw))
		got, err := cache.Get(ctx, "docs/readme.md")
		assert.NoError(t, err)
		assert.Equal(t, version, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Get (miss)", func(t *testing.T) {
		mock.ExpectGet("head:docs/other.md").RedisNil()
		got, err := cache.Get(ctx, "docs/other.md")
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalidate", func(t *testing.T) {
		mock.ExpectDel("head:docs/readme.md", "head:docs/other.md").SetVal(2)
		err := cache.Invalidate(ctx, "docs/readme.md", "docs/other.md")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalidate with no paths", func(t *testing.T) {
		assert.NoError(t, cache.Invalidate(ctx))
	})
}

func TestHeadCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	cache := headCache.New(client)
	cache.TTL = time.Minute
	ctx := context.Background()

	version := &fileInfo.FileVersion{
		Path:          "a/b.txt",
		VersionNumber: 1,
		StorageKey:    "blobs/def",
		IsDelete:      false,
	}

	require.NoError(t, cache.Set(ctx, version))

	got, err := cache.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, version.VersionNumber, got.VersionNumber)
	assert.Equal(t, version.StorageKey, got.StorageKey)

	require.NoError(t, cache.Invalidate(ctx, "a/b.txt"))
	got, err = cache.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}
