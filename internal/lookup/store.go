package lookup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	shardedcache "github.com/simp-lee/cache"
)

// Store keeps serialized lookups with an expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisConfig locates the shared cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewStore returns a Redis store when addr is configured and reachable, and
// an in-memory store otherwise.
func NewStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) Store {
	if cfg.Addr == "" {
		logger.Info("lookup cache: redis not configured, using memory")
		return NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("lookup cache: redis unreachable, using memory", "addr", cfg.Addr, "error", err)
		_ = client.Close()
		return NewMemoryStore()
	}
	logger.Info("lookup cache: using redis", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisStore(client)
}

// RedisStore stores lookups in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value of key; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key for ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// MemoryStore is a process-local Store backed by a sharded in-memory cache.
type MemoryStore struct {
	cache shardedcache.CacheInterface
}

// memoryCleanupInterval is how often expired lookups are dropped.
const memoryCleanupInterval = 5 * time.Minute

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: shardedcache.NewCache(shardedcache.Options{
		CleanupInterval: memoryCleanupInterval,
		ShardCount:      4,
	})}
}

// Get returns the value of key if present and not expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := shardedcache.GetTyped[[]byte](s.cache, key)
	return value, ok, nil
}

// Set stores a copy of value under key. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = shardedcache.NoExpiration
	}
	s.cache.SetWithExpiration(key, append([]byte(nil), value...), ttl)
	return nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.cache.DeleteKeys(keys)
	return nil
}

// Close stops the background cleanup.
func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}
