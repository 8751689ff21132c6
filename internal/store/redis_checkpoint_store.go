package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/model"
)

// RedisCheckpointStore implements CheckpointStore for Redis. Cursors are
// a resumption optimization only; losing them means re-enumerating from the
// first page, never losing migration state.
type RedisCheckpointStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(host string, port int, password string, db, poolSize, minIdleConns int, logger *zap.Logger) (*RedisCheckpointStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: minIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCheckpointStore{
		client: client,
		logger: logger,
	}, nil
}

func cursorKey(project string, kind model.EntityKind) string {
	return fmt.Sprintf("ztoq:cursor:%s:%s", project, kind)
}

// GetCursor retrieves the persisted page cursor for a (project, kind)
func (s *RedisCheckpointStore) GetCursor(ctx context.Context, project string, kind model.EntityKind) (string, error) {
	cursor, err := s.client.Get(ctx, cursorKey(project, kind)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return cursor, nil
}

// SetCursor persists the page cursor for a (project, kind)
func (s *RedisCheckpointStore) SetCursor(ctx context.Context, project string, kind model.EntityKind, cursor string) error {
	return s.client.Set(ctx, cursorKey(project, kind), cursor, 0).Err()
}

// DeleteCursor removes the page cursor for a (project, kind)
func (s *RedisCheckpointStore) DeleteCursor(ctx context.Context, project string, kind model.EntityKind) error {
	return s.client.Del(ctx, cursorKey(project, kind)).Err()
}

// Ping checks the Redis connection
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}
