package rateLimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRateLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	rl := NewRateLimiter(redisadapter.NewCache(client, time.Minute))

	t.Run("AllowsUpToRateWithinWindow", func(t *testing.T) {
		key := "cart:" + uuid.NewString()
		for i := 0; i < 3; i++ {
			assert.True(t, rl.Allow(ctx, key, 3, time.Minute))
		}
		assert.False(t, rl.Allow(ctx, key, 3, time.Minute))

		ttl, err := client.TTL(ctx, "rl:"+key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 50*time.Second)
	})

	t.Run("WindowResets", func(t *testing.T) {
		key := "cart:" + uuid.NewString()
		assert.True(t, rl.Allow(ctx, key, 1, time.Second))
		assert.False(t, rl.Allow(ctx, key, 1, time.Second))
		time.Sleep(1100 * time.Millisecond)
		assert.True(t, rl.Allow(ctx, key, 1, time.Second))
	})

	t.Run("FailsClosedWhenRedisIsDown", func(t *testing.T) {
		down := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
		defer down.Close()
		assert.False(t, NewRateLimiter(redisadapter.NewCache(down, time.Minute)).Allow(ctx, "x", 10, time.Minute))
	})
}
