package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/storage"
)

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"memory", "opensearch", "postgres", "qdrant", "redis", "sqlite"}, Kinds())
}

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), "", nil, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, storage.KindMemory, b.Name())
	_, ok := b.(*storage.Instrumented)
	assert.True(t, ok)
}

func TestOpen_SQLite(t *testing.T) {
	b, err := Open(context.Background(), "SQLite", &storage.Config{Name: "docs"}, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "docs", b.Config().Name)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), "mongo", nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestOpen_RemoteWithoutConfig(t *testing.T) {
	for _, kind := range []string{"redis", "opensearch", "qdrant", "postgres"} {
		t.Run(kind, func(t *testing.T) {
			_, err := Open(context.Background(), kind, nil, nil)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
