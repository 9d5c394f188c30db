package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds session-store connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Key is the Redis key the session service writes the current
	// bearer token to.
	Key string
}

// SessionStore reads the bearer credential from the session service's
// Redis key on every call, so token renewal needs no client restart.
type SessionStore struct {
	rdb    *redis.Client
	key    string
	logger *zap.Logger
}

// NewSessionStore creates a session-backed token source and verifies
// connectivity.
func NewSessionStore(ctx context.Context, cfg Config, logger *zap.Logger) (*SessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session store ping failed: %w", err)
	}

	logger.Info("session store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("key", cfg.Key),
	)

	return &SessionStore{rdb: rdb, key: cfg.Key, logger: logger}, nil
}

// Token returns the current credential from the session store.
func (s *SessionStore) Token(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("reading session token: %w", err)
	}
	if val == "" {
		return "", ErrNoSession
	}
	return val, nil
}

// Close releases the Redis connection.
func (s *SessionStore) Close() error {
	return s.rdb.Close()
}
