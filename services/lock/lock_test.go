package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/testutil"
)

func TestMemory_TryLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	release, ok, err := m.TryLock(ctx, "poller", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.TryLock(ctx, "poller", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = m.TryLock(ctx, "other", time.Minute)
	assert.True(t, ok)

	release()
	release2, ok, _ := m.TryLock(ctx, "poller", time.Minute)
	require.True(t, ok)

	// an expired lock is taken over, and the stale release does not free the new holder
	now = now.Add(2 * time.Minute)
	_, ok, _ = m.TryLock(ctx, "poller", time.Minute)
	assert.True(t, ok)
	release2()
	_, ok, _ = m.TryLock(ctx, "poller", time.Minute)
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	conf := testutil.Config()
	l, err := New(conf)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)

	conf.Redis.URL = "redis://localhost:6379/1"
	l, err = New(conf)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, l)

	conf.Redis.URL = "http://nope"
	_, err = New(conf)
	assert.Error(t, err)
}

func TestRedis_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, ok, err := NewRedis(client).TryLock(context.Background(), "poller", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}
