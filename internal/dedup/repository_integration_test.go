//go:build integration

package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/pkg/models"
)

func setupRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redisclient.ParseURL(uri)
	require.NoError(t, err)

	client := redisclient.NewClient(opt)
	t.Cleanup(func() {
		client.Close()
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())

	return client
}

func TestRedisRepositorySetNX(t *testing.T) {
	client := setupRedis(t)
	repo := NewRepository(client)
	ctx := context.Background()

	claimed, err := repo.SetNX(ctx, "dedup:tenant-a:hash-1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.SetNX(ctx, "dedup:tenant-a:hash-1", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	ttl, err := client.TTL(ctx, "dedup:tenant-a:hash-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisRepositoryCacheSize(t *testing.T) {
	client := setupRedis(t)
	repo := NewRepository(client)
	ctx := context.Background()

	for _, key := range []string{"dedup:a:1", "dedup:a:2", "dedup:b:1"} {
		_, err := repo.SetNX(ctx, key, "1", time.Minute)
		require.NoError(t, err)
	}
	_, err := repo.SetNX(ctx, "other:key", "1", time.Minute)
	require.NoError(t, err)

	size, err := repo.CacheSize(ctx, constants.CacheKeyPrefixDedup)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestServiceAgainstRedis(t *testing.T) {
	client := setupRedis(t)
	svc := NewService(NewRepository(client), config.DeduplicationConfig{
		Enabled:    true,
		TTLSeconds: 60,
	}, nil)
	t.Cleanup(svc.Close)

	msg := &models.Message{
		ID:      "msg-1",
		Type:    "order.created",
		Entity:  models.EntityRef{TenantID: "tenant-a", ExternalID: "o-1"},
		Payload: map[string]interface{}{"order_id": "o-1"},
	}

	dup, err := svc.IsDuplicate(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, dup)

	// same content under a fresh framework message id is still a duplicate
	msg.ID = "msg-2"
	dup, err = svc.IsDuplicate(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, dup)
}
