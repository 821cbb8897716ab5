package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// Options configures backend selection.
type Options struct {
	RedisURL        string
	RedisPassword   string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Open returns a Redis-backed store when Redis answers a ping, and the
// in-process store otherwise. An unreachable Redis is logged, never fatal.
func Open(ctx context.Context, opts Options, log *zap.Logger) Store {
	if opts.RedisURL == "" {
		log.Info("REDIS_URL not set, using in-memory session store")
		return NewMemoryStore(opts.TTL, opts.CleanupInterval)
	}

	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		// Plain host:port form, as accepted by the previous deployments.
		redisOpts = &redis.Options{Addr: opts.RedisURL}
	}
	if opts.RedisPassword != "" {
		redisOpts.Password = opts.RedisPassword
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, falling back to in-memory session store",
			zap.String("addr", redisOpts.Addr), zap.Error(err))
		_ = client.Close()
		return NewMemoryStore(opts.TTL, opts.CleanupInterval)
	}

	log.Info("session store using redis backend", zap.String("addr", redisOpts.Addr))
	return NewRedisStore(client, opts.TTL, log)
}
