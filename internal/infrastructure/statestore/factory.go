package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// Backend names
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendS3    = "s3"
	BackendSQL   = "sql"
)

// Config selects and configures a state backend
type Config struct {
	Backend string
	Path    string
	Redis   RedisConfig
	S3      S3Config
	SQL     SQLConfig
}

// New creates the configured state store
func New(ctx context.Context, cfg Config, logger *zap.Logger) (integration.StateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("Using file state store", zap.String("path", cfg.Path))
		return store, nil
	case BackendRedis:
		store, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis state store: %w", err)
		}
		logger.Info("Using Redis state store", zap.String("addr", cfg.Redis.Addr), zap.String("key", store.key))
		return store, nil
	case BackendS3:
		store, err := NewS3Store(ctx, cfg.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 state store: %w", err)
		}
		logger.Info("Using S3 state store", zap.String("bucket", cfg.S3.Bucket), zap.String("key", store.key))
		return store, nil
	case BackendSQL:
		store, err := OpenSQLStore(ctx, cfg.SQL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQL state store: %w", err)
		}
		logger.Info("Using SQL state store", zap.String("driver", cfg.SQL.Driver), zap.String("name", store.name))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q (expected file, redis, s3 or sql)", cfg.Backend)
	}
}

func encode(state *integration.SyncState) ([]byte, error) {
	if state == nil {
		state = integration.NewSyncState()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}
