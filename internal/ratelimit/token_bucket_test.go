package ratelimit

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenBucketValidates(t *testing.T) {
	_, err := NewTokenBucket(nil, 10, time.Minute, "")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err = NewTokenBucket(client, 0, time.Minute, "")
	assert.Error(t, err)
	_, err = NewTokenBucket(client, 10, 0, "")
	assert.Error(t, err)

	b, err := NewTokenBucket(client, 60, time.Minute, "")
	require.NoError(t, err)
	assert.Equal(t, "cropflow:ratelimit:anonymous", b.key("  "))
	assert.Equal(t, "cropflow:ratelimit:user-1", b.key("user-1"))
	assert.InDelta(t, 0.001, b.refillPerMS, 1e-12)
}

func TestParseDecision(t *testing.T) {
	d, err := parseDecision([]any{int64(0), int64(0), int64(1500)})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)

	d, err = parseDecision([]any{int64(1), "41", int64(0)})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(41), d.Remaining)

	_, err = parseDecision([]any{int64(1)})
	assert.Error(t, err)
	_, err = parseDecision([]any{int64(1), true, int64(0)})
	assert.Error(t, err)
}
