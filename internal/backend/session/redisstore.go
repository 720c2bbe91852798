package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jo-hoe/buracos/internal/common"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "buracos:session:"

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps sessions as keys with a TTL, so expiry is handled by Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, config RedisConfig, ttl time.Duration) (*RedisStore, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address must be set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}
	return newRedisStore(client, config.KeyPrefix, ttl), nil
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisStore) Create(ctx context.Context, userID int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(token), strconv.FormatInt(userID, 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: failed to store session: %v", common.ErrStorage, err)
	}
	return token, nil
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("session: %w", common.ErrNotFound)
	}
	value, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("session: %w", common.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read session: %v", common.ErrStorage, err)
	}
	userID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed session value %q", common.ErrStorage, value)
	}
	return userID, nil
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete session: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
