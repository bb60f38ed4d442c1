package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/geopin/geopin-go/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// RedisStore shares cached query responses across client processes. A
// per-layer index set tracks live keys so invalidation can drop a whole
// layer without scanning.
type RedisStore struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisStore(ctx context.Context, addr string, log *slog.Logger, opts ...Option) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("querycache: redis address is required")
	}
	if log == nil {
		log = slog.Default()
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("querycache: redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, log: log}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	start := time.Now()
	raw, err := s.rdb.Get(ctx, key).Bytes()
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WarnContext(ctx, "query cache get failed", "err", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.log.WarnContext(ctx, "query cache entry corrupt", "key", key, "err", err)
		return Entry{}, false
	}
	return e, true
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}

	idx := indexKey(key)
	start := time.Now()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, ttl)
	pipe.SAdd(ctx, idx, key)
	// the index outlives its newest member slightly so invalidation still
	// finds expired keys
	pipe.Expire(ctx, idx, ttl+time.Minute)
	_, err = pipe.Exec(ctx)
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		s.log.WarnContext(ctx, "query cache set failed", "err", err)
	}
}

func (s *RedisStore) Invalidate(ctx context.Context, layer string) {
	idx := layerPrefix(layer) + "idx"
	start := time.Now()
	members, err := s.rdb.SMembers(ctx, idx).Result()
	if err == nil && len(members) > 0 {
		err = s.rdb.Del(ctx, append(members, idx)...).Err()
	}
	observability.ObserveCacheOp("invalidate", err, time.Since(start).Seconds())
	if err != nil {
		s.log.WarnContext(ctx, "query cache invalidate failed", "layer", layer, "err", err)
	}
}

// indexKey maps an entry key back to its layer index set. Entry keys are
// layerPrefix(layer)+hash, so trimming the trailing hash segment yields the
// prefix.
func indexKey(entryKey string) string {
	i := len(entryKey) - 16 // Key always ends with a 16-hex-digit hash
	if i < 0 {
		i = 0
	}
	return entryKey[:i] + "idx"
}
