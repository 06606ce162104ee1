package services

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, capacity, fillRate float64) (*RedisRateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := NewRedisRateLimiter(client, capacity, fillRate)
	limiter.Now = func() time.Time { return now }
	return limiter, &now
}

func TestRedisRateLimiterBucket(t *testing.T) {
	limiter, now := newTestLimiter(t, 3, 1)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow("10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := limiter.Allow("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// other clients have their own bucket
	ok, err = limiter.Allow("10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		ok, err = limiter.Allow("10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "refilled request %d", i+1)
	}
	ok, err = limiter.Allow("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRateLimiterRefillIsCapped(t *testing.T) {
	limiter, now := newTestLimiter(t, 2, 1)

	ok, err := limiter.Allow("ip")
	require.NoError(t, err)
	require.True(t, ok)

	*now = now.Add(time.Hour)
	allowed := 0
	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow("ip")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRedisRateLimiterUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	limiter := NewRedisRateLimiter(client, 1, 1)
	mr.Close()

	_, err := limiter.Allow("ip")
	assert.Error(t, err)
}
