package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/buracos/internal/backend/database"
)

// NewStore creates the session store for the given type ("sqlite" or "redis").
// An empty type selects sqlite.
func NewStore(ctx context.Context, storeType string, db database.DatabaseService, redisConfig RedisConfig, ttl time.Duration) (Store, error) {
	switch storeType {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite session store requires a database")
		}
		slog.Info("using sqlite session store", "ttl", ttl)
		return NewSQLiteStore(db, ttl), nil
	case "redis":
		store, err := NewRedisStore(ctx, redisConfig, ttl)
		if err != nil {
			return nil, err
		}
		slog.Info("using redis session store", "address", redisConfig.Address, "ttl", ttl)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store: %s", storeType)
	}
}
