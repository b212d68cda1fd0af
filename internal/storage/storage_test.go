package storage_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/metrics"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/memory"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

func TestSanitizeName(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	assert.Equal(t, "myindex", storage.SanitizeName("my-index!", logger))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Collection name sanitized", entry.Message)
	assert.Equal(t, "my-index!", entry.ContextMap()["name"])

	assert.Equal(t, "clean_name_1", storage.SanitizeName("clean_name_1", logger))
	assert.Equal(t, 1, logs.Len(), "clean names must not warn")

	assert.Empty(t, storage.SanitizeName("---", nil))
}

func TestPrepare(t *testing.T) {
	cfg := storage.Prepare(&storage.Config{Name: "@@"}, storage.KindRedis, nil)
	assert.Equal(t, storage.DefaultName, cfg.Name)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, storage.DefaultHost, cfg.Host)
	assert.Equal(t, string(codec.DefaultProtocol), cfg.Serialize.Protocol)

	nilCfg := storage.Prepare(nil, storage.KindOpenSearch, nil)
	assert.Equal(t, "http", nilCfg.Scheme)
	assert.Equal(t, 9200, nilCfg.Port)
	assert.Equal(t, "http://localhost:9200", nilCfg.URL())
}

func TestWithDefaults_CopiesCredentials(t *testing.T) {
	creds := &storage.Credentials{Username: "u", Password: "p"}
	cfg := storage.Config{Credentials: creds}.WithDefaults(storage.KindPostgres)
	cfg.Credentials.Password = "changed"
	assert.Equal(t, "p", creds.Password)
	assert.Equal(t, 5432, cfg.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  storage.Config
		ok   bool
	}{
		{"valid", storage.Config{NDim: 3}, true},
		{"zero dim", storage.Config{}, false},
		{"negative dim", storage.Config{NDim: -1}, false},
		{"bad port", storage.Config{NDim: 3, Port: 70000}, false},
		{"bad protocol", storage.Config{NDim: 3, Serialize: storage.Serialize{Protocol: "pickle"}}, false},
		{"bad compression", storage.Config{NDim: 3, Serialize: storage.Serialize{Compress: "rar"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg, err := storage.ConfigFromMap(map[string]any{
		"n_dim":       "128",
		"host":        "db",
		"credentials": map[string]any{"username": "admin"},
		"serialize":   map[string]any{"protocol": "gob", "compress": "zstd"},
	})
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.NDim)
	assert.Equal(t, "db", cfg.Host)
	require.NotNil(t, cfg.Credentials)
	assert.Equal(t, "admin", cfg.Credentials.Username)
	assert.Equal(t, "zstd", cfg.Serialize.Compress)

	_, err = storage.ConfigFromMap(map[string]any{"n_dims": 3})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestMarshalConfig_RoundTrip(t *testing.T) {
	in := storage.Config{NDim: 4, Name: "docs", Serialize: storage.Serialize{Protocol: "json"}}
	data, err := storage.MarshalConfig(&in)
	require.NoError(t, err)
	out, err := storage.UnmarshalConfig(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = storage.UnmarshalConfig([]byte("{"))
	assert.ErrorIs(t, err, domain.ErrSerialization)
}

func TestRedacted_WithSecretsFrom(t *testing.T) {
	cfg := storage.Config{Name: "docs", DSN: "postgres://u:p@db/x", Credentials: &storage.Credentials{Username: "u", Password: "p"}}
	clean := cfg.Redacted()
	assert.Nil(t, clean.Credentials)
	assert.Empty(t, clean.DSN)
	assert.Equal(t, "docs", clean.Name)
	assert.NotNil(t, cfg.Credentials, "original must keep its credentials")

	restored := clean.WithSecretsFrom(&cfg)
	assert.Equal(t, cfg, restored)
	assert.NotSame(t, cfg.Credentials, restored.Credentials)
	assert.Equal(t, clean, clean.WithSecretsFrom(nil))
}

func TestBodyCodec(t *testing.T) {
	bc, err := storage.NewBodyCodec(&storage.Config{Serialize: storage.Serialize{Protocol: "gob", Compress: "lz4"}})
	require.NoError(t, err)
	doc := storagetest.Doc("b", 2, 1)
	data, err := bc.Encode(&doc)
	require.NoError(t, err)
	got, err := bc.Decode(data)
	require.NoError(t, err)
	assert.True(t, got.Equal(&doc))

	_, err = storage.NewBodyCodec(&storage.Config{Serialize: storage.Serialize{Protocol: "xml"}})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCheckRequest(t *testing.T) {
	doc := document.New(document.WithID("a"))
	tests := []struct {
		name string
		req  storage.Request
		ok   bool
	}{
		{"create", storage.Create(&doc), true},
		{"update", storage.Update(&doc), true},
		{"delete", storage.Delete("a"), true},
		{"empty id", storage.Request{Op: storage.OpDelete}, false},
		{"create without doc", storage.Request{Op: storage.OpCreate, ID: "a"}, false},
		{"id mismatch", storage.Request{Op: storage.OpUpdate, ID: "b", Doc: &doc}, false},
		{"unknown op", storage.Request{Op: storage.Op(9), ID: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.CheckRequest(&tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", storage.OpCreate.String())
	assert.Equal(t, "update", storage.OpUpdate.String())
	assert.Equal(t, "delete", storage.OpDelete.String())
	assert.Equal(t, "unknown", storage.Op(7).String())
}

func TestInstrumented_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	inner, err := memory.New(ctx, nil, nil)
	require.NoError(t, err)
	b := storage.NewInstrumented(inner, nil)
	assert.Same(t, inner, b.Unwrap())

	okBefore := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("memory", "bulk_apply", "ok"))
	itemsBefore := testutil.ToFloat64(metrics.StorageItemErrorsTotal.WithLabelValues("memory"))

	doc := storagetest.Doc("a", 2, 1)
	results, err := b.BulkApply(ctx, []storage.Request{storage.Create(&doc), {Op: storage.OpDelete}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.InDelta(t, okBefore+1,
		testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("memory", "bulk_apply", "ok")), 0)
	assert.InDelta(t, itemsBefore+1,
		testutil.ToFloat64(metrics.StorageItemErrorsTotal.WithLabelValues("memory")), 0)

	require.NoError(t, b.Close())
	errBefore := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("memory", "get_docs", "error"))
	_, err = b.GetDocs(ctx, []string{"a"})
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.InDelta(t, errBefore+1,
		testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("memory", "get_docs", "error")), 0)
}

func TestInstrumented_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		inner, err := memory.New(context.Background(), &storage.Config{NDim: nDim}, nil)
		require.NoError(t, err)
		return storage.NewInstrumented(inner, zap.NewNop())
	})
}
