package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erp/woosync/internal/domain/integration"
)

// DefaultRedisKey is the key the state blob is stored under
const DefaultRedisKey = "woosync:state"

// redisClient is the subset of the go-redis API the store needs
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Ensure RedisStore implements StateStore
var _ integration.StateStore = (*RedisStore)(nil)

// RedisStore keeps the state blob under a single Redis key.
// This is suitable when several runners share one state.
type RedisStore struct {
	client redisClient
	key    string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.Key), nil
}

// NewRedisStoreWithClient creates a store with an existing Redis client
func NewRedisStoreWithClient(client redisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the state blob
func (s *RedisStore) Load(ctx context.Context) (*integration.SyncState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, integration.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state from Redis: %w", err)
	}
	return integration.ParseSyncState(data)
}

// Save replaces the state blob. The key never expires.
func (s *RedisStore) Save(ctx context.Context, state *integration.SyncState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state to Redis: %w", err)
	}
	return nil
}
