package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/companion/internal/chat"
	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the shared state backend.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Prefix       string        `env:"REDIS_PREFIX" envDefault:"companion:state:"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
}

// NewRedisClient parses the URL, applies timeouts and pings the server.
func (c RedisConfig) NewRedisClient(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.DialTimeout = c.DialTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStateStore keeps gauge records as JSON strings so several processes can share them.
type RedisStateStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisStateStore(rdb redis.Cmdable, prefix string) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStateStore) LoadState(ctx context.Context, kind string, key chat.Key, dst any) (bool, error) {
	k := s.prefix + stateKey(kind, key)
	b, err := s.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", k, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", k, err)
	}
	return true, nil
}

func (s *RedisStateStore) SaveState(ctx context.Context, kind string, key chat.Key, v any) error {
	k := s.prefix + stateKey(kind, key)
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k, err)
	}
	if err := s.rdb.Set(ctx, k, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k, err)
	}
	return nil
}
