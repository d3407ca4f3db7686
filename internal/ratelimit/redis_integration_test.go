package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/mohammad-safakhou/omegarag/config"
	"github.com/mohammad-safakhou/omegarag/internal/ratelimit"
	"github.com/mohammad-safakhou/omegarag/repository/redis_repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisLimiterFixedWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	require.NoError(t, err)
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := redis_repository.Conn(ctx, config.RedisConfig{Host: host, Port: port.Port(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	l := ratelimit.NewRedisLimiter(client, 2, time.Hour)
	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)

	d, err = l.Allow(ctx, "203.0.113.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}
