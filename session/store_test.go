package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/OpenBooking/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl, zap.NewNop()), mr
}

// storeContract runs the behavior both backends must share.
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get on unknown conversation is empty", func(t *testing.T) {
		state := store.Get(ctx, "CA-unknown")
		assert.True(t, state.Empty())
		assert.NotNil(t, state.Slots)
	})

	t.Run("update persists trimmed slots and counts turns", func(t *testing.T) {
		state, err := store.Update(ctx, "CA1", slots.Slots{slots.PatientName: " Jane Doe "})
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", state.Slots[slots.PatientName])
		assert.Equal(t, 1, state.Turns)

		state, err = store.Update(ctx, "CA1", slots.Slots{slots.PreferredDate: "July 10"})
		require.NoError(t, err)
		assert.Equal(t, 2, state.Turns)

		got := store.Get(ctx, "CA1")
		assert.Equal(t, slots.Slots{
			slots.PatientName:   "Jane Doe",
			slots.PreferredDate: "July 10",
		}, got.Slots)
		assert.Equal(t, 2, got.Turns)
	})

	t.Run("empty update keeps slots", func(t *testing.T) {
		state, err := store.Update(ctx, "CA1", slots.Slots{})
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", state.Slots[slots.PatientName])
		assert.Equal(t, 3, state.Turns)
	})

	t.Run("returned state is a copy", func(t *testing.T) {
		got := store.Get(ctx, "CA1")
		got.Slots[slots.PatientName] = "Mallory"
		assert.Equal(t, "Jane Doe", store.Get(ctx, "CA1").Slots[slots.PatientName])
	})

	t.Run("clear is idempotent", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx, "CA1"))
		require.NoError(t, store.Clear(ctx, "CA1"))
		require.NoError(t, store.Clear(ctx, "never-existed"))
		assert.True(t, store.Get(ctx, "CA1").Empty())
	})

	t.Run("conversations are isolated", func(t *testing.T) {
		_, err := store.Update(ctx, "CA-a", slots.Slots{slots.PatientName: "A"})
		require.NoError(t, err)
		_, err = store.Update(ctx, "CA-b", slots.Slots{slots.PatientName: "B"})
		require.NoError(t, err)
		assert.Equal(t, "A", store.Get(ctx, "CA-a").Slots[slots.PatientName])
		assert.Equal(t, "B", store.Get(ctx, "CA-b").Slots[slots.PatientName])
	})
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore(time.Hour, time.Minute))
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	storeContract(t, store)
}

func TestRedisStoreSlidingExpiration(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)

	_, err := store.Update(ctx, "CA1", slots.Slots{slots.PatientName: "Jane"})
	require.NoError(t, err)

	mr.FastForward(50 * time.Minute)
	_, err = store.Update(ctx, "CA1", slots.Slots{})
	require.NoError(t, err)

	// 100 minutes after creation but only 50 after the last write.
	mr.FastForward(50 * time.Minute)
	assert.Equal(t, "Jane", store.Get(ctx, "CA1").Slots[slots.PatientName])

	mr.FastForward(11 * time.Minute)
	assert.True(t, store.Get(ctx, "CA1").Empty())
}

func TestRedisStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, mr.Set("session:CA1", "{not json"))
	assert.True(t, store.Get(ctx, "CA1").Empty())

	state, err := store.Update(ctx, "CA1", slots.Slots{slots.PatientName: "Jane"})
	require.NoError(t, err)
	assert.Equal(t, 1, state.Turns)
}

// failingGets fails every GET while leaving other commands untouched.
type failingGets struct{}

func (failingGets) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (failingGets) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "get" {
			err := errors.New("connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failingGets) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStoreUpdateKeepsStateWhenReadFails(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, time.Hour, zap.NewNop())

	_, err := store.Update(ctx, "CA1", slots.Slots{
		slots.PatientName:       "Jane",
		slots.AppointmentReason: "back pain",
		slots.PreferredDate:     "July 10",
	})
	require.NoError(t, err)
	before, err := mr.Get("session:CA1")
	require.NoError(t, err)

	client.AddHook(failingGets{})

	_, err = store.Update(ctx, "CA1", slots.Slots{slots.PreferredTime: "9am"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read session CA1")
	assert.True(t, store.Get(ctx, "CA1").Empty(), "Get still never fails")

	after, err := mr.Get("session:CA1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMemoryStoreSlidingExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(200*time.Millisecond, time.Minute)

	_, err := store.Update(ctx, "CA1", slots.Slots{slots.PatientName: "Jane"})
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	_, err = store.Update(ctx, "CA1", slots.Slots{})
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, "Jane", store.Get(ctx, "CA1").Slots[slots.PatientName])

	time.Sleep(250 * time.Millisecond)
	assert.True(t, store.Get(ctx, "CA1").Empty())
}

func TestOpenFallsBackToMemoryWhenRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := Open(ctx, Options{RedisURL: "127.0.0.1:1", TTL: time.Hour}, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "memory", store.Backend())
	storeContract(t, store)
}

func TestOpenUsesRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)

	store := Open(context.Background(), Options{RedisURL: "redis://" + mr.Addr(), TTL: time.Hour}, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	assert.Equal(t, "redis", store.Backend())
	_, err := store.Update(context.Background(), "CA1", slots.Slots{slots.PatientName: "Jane"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("session:CA1"))
}

func TestOpenWithoutRedisURL(t *testing.T) {
	store := Open(context.Background(), Options{}, zap.NewNop())
	assert.Equal(t, "memory", store.Backend())
}
