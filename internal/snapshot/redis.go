package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/db"
)

// DefaultKeyPrefix namespaces snapshot keys.
const DefaultKeyPrefix = "docarray:snapshot:"

// RedisStore keeps snapshots as plain string keys.
type RedisStore struct {
	kv     db.KVStore
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore stores under prefix (DefaultKeyPrefix when empty). A zero ttl keeps keys forever.
func NewRedisStore(kv db.KVStore, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{kv: kv, prefix: prefix, ttl: ttl, logger: logger}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, name string, data []byte) error {
	clean, err := cleanName(name, s.logger)
	if err != nil {
		return err
	}
	key := s.prefix + clean
	if s.ttl > 0 {
		err = s.kv.SetWithTTL(ctx, key, data, s.ttl)
	} else {
		err = s.kv.Set(ctx, key, data)
	}
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", clean, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	clean, err := cleanName(name, s.logger)
	if err != nil {
		return nil, err
	}
	data, err := s.kv.Get(ctx, s.prefix+clean)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", clean, err)
	}
	return data, nil
}

// HealthCheck pings the server when the KV store supports it.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if p, ok := s.kv.(db.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
