package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(rdb, opts...)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t)
	exerciseConversationStore(t, s)
}

func TestRedisStore_Dedup(t *testing.T) {
	s, _ := newTestRedisStore(t)
	exerciseDeduplicator(t, s)
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	s, mr := newTestRedisStore(t, WithKeyPrefix("test:"), WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleState("7")))
	assert.True(t, mr.Exists("test:conv:7"))
	assert.Equal(t, time.Hour, mr.TTL("test:conv:7"))

	_, err := s.Seen(ctx, "7:99")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:dedup:7:99"))
	assert.Equal(t, DefaultRedisDedupTTL, mr.TTL("test:dedup:7:99"))

	require.NoError(t, s.Forget(ctx, "7:99"))
	assert.False(t, mr.Exists("test:dedup:7:99"))
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url")
	assert.Error(t, err)
}
