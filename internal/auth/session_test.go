package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryStore(ttl time.Duration) (*MemorySessionStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemorySessionStore(ttl)
	s.now = clock.Now
	return s, clock
}

func TestMemorySessionStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(time.Hour)

	sess, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.Equal(t, "alice", sess.Username)

	got, err := s.Get(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, int64(1), got.UserID)

	require.NoError(t, s.Delete(ctx, sess.Token))
	_, err = s.Get(ctx, sess.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestMemorySessionStore_MultipleSessionsPerUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newMemoryStore(time.Hour)

	a, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)
	b, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)
	require.NotEqual(t, a.Token, b.Token)

	require.NoError(t, s.Delete(ctx, a.Token))
	_, err = s.Get(ctx, b.Token)
	require.NoError(t, err, "logging out one session leaves the other")
}

func TestMemorySessionStore_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newMemoryStore(time.Hour)
	sess, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	_, err = s.Get(ctx, sess.Token)
	require.NoError(t, err, "activity slides the expiry")

	clock.Advance(50 * time.Minute)
	_, err = s.Get(ctx, sess.Token)
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)
	_, err = s.Get(ctx, sess.Token)
	require.ErrorIs(t, err, ErrNoSession)
	require.Zero(t, s.Len())
}

func TestMemorySessionStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newMemoryStore(time.Hour)
	_, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	fresh, err := s.Create(ctx, 2, "bob")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())
	_, err = s.Get(ctx, fresh.Token)
	require.NoError(t, err)
}

func TestMemorySessionStore_RunJanitorStopsOnCancel(t *testing.T) {
	s := NewMemorySessionStore(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func newRedisSessions(t *testing.T, ttl time.Duration) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionStore(rdb, ttl), mr
}

func TestRedisSessionStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisSessions(t, time.Hour)

	sess, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)
	require.True(t, mr.Exists("session:"+sess.Token))
	require.Equal(t, time.Hour, mr.TTL("session:"+sess.Token))

	got, err := s.Get(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, int64(1), got.UserID)

	require.NoError(t, s.Delete(ctx, sess.Token))
	_, err = s.Get(ctx, sess.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRedisSessionStore_ExpiryAndSlide(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisSessions(t, time.Hour)
	sess, err := s.Create(ctx, 1, "alice")
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	_, err = s.Get(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL("session:"+sess.Token), "get refreshes the ttl")

	mr.FastForward(61 * time.Minute)
	_, err = s.Get(ctx, sess.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRedisSessionStore_UnknownToken(t *testing.T) {
	s, _ := newRedisSessions(t, time.Hour)
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNoSession)
}
