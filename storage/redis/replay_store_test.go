package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*ReplayStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewReplayStore(rdb, ""), mr
}

func TestReplayStore_MarkIfAbsent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	first, err := s.MarkIfAbsent(ctx, "msg_1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkIfAbsent(ctx, "msg_1", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	assert.True(t, mr.Exists("webhook_processed:msg_1"))
	assert.Equal(t, 24*time.Hour, mr.TTL("webhook_processed:msg_1"))
}

func TestReplayStore_MarkExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.MarkIfAbsent(ctx, "msg_1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Hour + time.Second)
	ok, err = s.MarkIfAbsent(ctx, "msg_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayStore_Release(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.MarkIfAbsent(ctx, "msg_1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "msg_1"))

	ok, err := s.MarkIfAbsent(ctx, "msg_1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReplayStore_ConcurrentMarksAdmitOne(t *testing.T) {
	s, _ := newTestStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.MarkIfAbsent(context.Background(), "msg_race", time.Hour); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestReplayStore_StoreDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.MarkIfAbsent(context.Background(), "msg_1", time.Hour)
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

func TestReplayStore_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewReplayStore(rdb, "tenant-a:seen:")

	_, err := s.MarkIfAbsent(context.Background(), "msg_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("tenant-a:seen:msg_1"))
}
