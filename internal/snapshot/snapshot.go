// Package snapshot stores serialized arrays by name for push and pull.
package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Store keeps named payloads. Get fails with domain.ErrNotFound for unknown names.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// cleanName sanitizes name like a collection name and rejects empty results.
func cleanName(name string, logger *zap.Logger) (string, error) {
	clean := storage.SanitizeName(name, logger)
	if clean == "" {
		return "", fmt.Errorf("snapshot name %q: %w", name, domain.ErrInvalidArgument)
	}
	return clean, nil
}

func notFound(name string) error {
	return fmt.Errorf("snapshot %q: %w", name, domain.ErrNotFound)
}
