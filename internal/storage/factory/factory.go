// Package factory constructs storage backends by kind.
package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/memory"
	"github.com/kailas-cloud/docarray/internal/storage/opensearch"
	"github.com/kailas-cloud/docarray/internal/storage/postgres"
	"github.com/kailas-cloud/docarray/internal/storage/qdrant"
	"github.com/kailas-cloud/docarray/internal/storage/redis"
	"github.com/kailas-cloud/docarray/internal/storage/sqlite"
)

// Constructor opens one backend kind.
type Constructor func(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (storage.Backend, error)

var constructors = map[string]Constructor{
	storage.KindMemory: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return memory.New(ctx, cfg, l)
	},
	storage.KindSQLite: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return sqlite.New(ctx, cfg, l)
	},
	storage.KindRedis: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return redis.New(ctx, cfg, l)
	},
	storage.KindOpenSearch: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return opensearch.New(ctx, cfg, l)
	},
	storage.KindQdrant: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return qdrant.New(ctx, cfg, l)
	},
	storage.KindPostgres: func(ctx context.Context, cfg *storage.Config, l *zap.Logger) (storage.Backend, error) {
		return postgres.New(ctx, cfg, l)
	},
}

// Kinds lists the supported backend kinds in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs a backend of kind and wraps it with metrics. An empty kind selects memory.
func Open(ctx context.Context, kind string, cfg *storage.Config, logger *zap.Logger) (storage.Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind = strings.ToLower(kind)
	if kind == "" {
		kind = storage.KindMemory
	}
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown storage %q, want one of %s: %w",
			kind, strings.Join(Kinds(), ", "), domain.ErrConfiguration)
	}
	b, err := ctor(ctx, cfg, logger.Named(kind))
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", kind, err)
	}
	return storage.NewInstrumented(b, logger), nil
}
