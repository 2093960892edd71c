package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions configures a Redis-backed Store.
type RedisOptions struct {
	URL         string
	MaxRetries  int
	PoolSize    int
	PoolTimeout time.Duration
	// OpTimeout bounds dial, read and write on the client.
	OpTimeout time.Duration
}

// RedisStore implements Store on top of a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses opts.URL, applies pool defaults and pings the server.
// A failed ping is logged and the store is still returned: go-redis dials
// lazily, and until the server is reachable every call reports ErrUnavailable.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL must be provided")
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.PoolTimeout == 0 {
		opts.PoolTimeout = 2 * time.Second
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.MaxRetries = opts.MaxRetries
	opt.PoolSize = opts.PoolSize
	opt.PoolTimeout = opts.PoolTimeout
	opt.DialTimeout = opts.OpTimeout
	opt.ReadTimeout = opts.OpTimeout
	opt.WriteTimeout = opts.OpTimeout

	client := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opt.Addr).Msg("redis unreachable at startup; result cache degraded to read-through")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get: %v", ErrUnavailable, err)
	}
	return b, true, nil
}

// Set stores value under key with the given ttl (SET key value EX ttl).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client's connections.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
