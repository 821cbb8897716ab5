package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/OpenBooking/slots"
	"go.uber.org/zap"
)

// RedisStore is the shared Store backed by Redis. Each conversation is a JSON
// value under "session:<id>" written with SET ... EX.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
	now    func() time.Time
}

// NewRedisStore wraps an already connected client.
func NewRedisStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		log:    log.Named("session.redis"),
		now:    time.Now,
	}
}

func (r *RedisStore) Get(ctx context.Context, conversationID string) State {
	state, err := r.load(ctx, conversationID)
	if err != nil {
		r.log.Warn("failed to read session, starting empty",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return emptyState()
	}
	return state
}

// Update refuses to write when the current value cannot be read, so a read
// fault never replaces stored slots with this turn's updates alone.
func (r *RedisStore) Update(ctx context.Context, conversationID string, updates slots.Slots) (State, error) {
	current, err := r.load(ctx, conversationID)
	if err != nil {
		return State{}, err
	}
	next := applyUpdates(current, updates, r.now())

	data, err := sonic.Marshal(next)
	if err != nil {
		return State{}, fmt.Errorf("encode session %s: %w", conversationID, err)
	}
	if err := r.client.Set(ctx, keyPrefix+conversationID, data, r.ttl).Err(); err != nil {
		return State{}, fmt.Errorf("write session %s: %w", conversationID, err)
	}
	return next, nil
}

// load yields an empty state for a missing or corrupt value and an error only
// when Redis itself could not be read.
func (r *RedisStore) load(ctx context.Context, conversationID string) (State, error) {
	raw, err := r.client.Get(ctx, keyPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptyState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read session %s: %w", conversationID, err)
	}

	var state State
	if err := sonic.Unmarshal(raw, &state); err != nil {
		r.log.Warn("corrupted session state, starting empty",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return emptyState(), nil
	}
	return state.clone(), nil
}

func (r *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, keyPrefix+conversationID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", conversationID, err)
	}
	return nil
}

func (r *RedisStore) Backend() string {
	return "redis"
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
