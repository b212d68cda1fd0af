package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/docarray/internal/db"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

// fakeStore is an in-process stand-in for the hash and FT commands.
type fakeStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	indexes map[string]*db.IndexDefinition
	failKey string
	dropErr error
	closed  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) HSet(_ context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hset(key, fields)
	return nil
}

func (f *fakeStore) hset(key string, fields map[string]string) {
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i], _ = f.HGetAll(ctx, k)
	}
	return out, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.hashes, k)
	}
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.hashes[key]
	return ok, nil
}

func (f *fakeStore) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeStore) BulkWrite(_ context.Context, ops []db.WriteOp) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make([]error, len(ops))
	for i, op := range ops {
		switch {
		case op.Key == f.failKey:
			errs[i] = &db.Error{Op: db.OpHSet, Err: errors.New("OOM command not allowed")}
		case op.Delete:
			delete(f.hashes, op.Key)
		default:
			for _, name := range op.Unset {
				delete(f.hashes[op.Key], name)
			}
			f.hset(op.Key, op.Fields)
		}
	}
	return errs
}

func (f *fakeStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	f.indexes[def.Name] = def
	return nil
}

func (f *fakeStore) DropIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropErr != nil {
		return f.dropErr
	}
	if _, ok := f.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(f.indexes, name)
	return nil
}

func (f *fakeStore) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexes[name]
	return ok, nil
}

func (f *fakeStore) Close() { f.closed = true }

func newBackend(t *testing.T, st *fakeStore, cfg *storage.Config) *Backend {
	t.Helper()
	b, err := NewWithStore(context.Background(), cfg, st, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		return newBackend(t, newFakeStore(), &storage.Config{NDim: nDim})
	})
}

func TestNewWithStore_CreatesVectorIndex(t *testing.T) {
	st := newFakeStore()
	newBackend(t, st, &storage.Config{NDim: 4, Name: "docs", Distance: "l2", KeyPrefix: "app:"})

	def, ok := st.indexes["docs"]
	require.True(t, ok)
	assert.Equal(t, []string{"app:docs:"}, def.Prefixes)
	require.Len(t, def.Fields, 3)
	assert.Equal(t, FieldText, def.Fields[0].Name)
	vec := def.Fields[1]
	assert.Equal(t, db.IndexFieldVector, vec.Type)
	assert.Equal(t, db.VectorHNSW, vec.VectorAlgo)
	assert.Equal(t, 4, vec.VectorDim)
	assert.Equal(t, db.DistanceL2, vec.VectorDistance)
	assert.Equal(t, db.IndexField{Name: FieldID, Type: db.IndexFieldTag}, def.Fields[2])
}

func TestNewWithStore_FlatIndex(t *testing.T) {
	st := newFakeStore()
	newBackend(t, st, &storage.Config{NDim: 4, IndexAlgo: "FLAT"})

	vec := st.indexes["docarray"].Fields[1]
	assert.Equal(t, db.VectorFlat, vec.VectorAlgo)
	assert.Equal(t, 4, vec.VectorDim)

	_, err := NewWithStore(context.Background(), &storage.Config{NDim: 4, IndexAlgo: "ivf"}, newFakeStore(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNewWithStore_SkipsDropWhenIndexAbsent(t *testing.T) {
	st := newFakeStore()
	st.dropErr = errors.New("drop must not be called")
	newBackend(t, st, &storage.Config{NDim: 2})
	assert.Contains(t, st.indexes, "docarray")
}

func TestNewWithStore_DropsExistingData(t *testing.T) {
	st := newFakeStore()
	st.hashes["docarray:stale"] = map[string]string{FieldBody: "x"}
	st.hashes["docarray_offset2id"] = map[string]string{"0": "stale"}
	st.indexes["docarray"] = &db.IndexDefinition{Name: "docarray"}
	st.hashes["other:keep"] = map[string]string{"a": "b"}

	newBackend(t, st, &storage.Config{NDim: 2})

	assert.NotContains(t, st.hashes, "docarray:stale")
	assert.NotContains(t, st.hashes, "docarray_offset2id")
	assert.Contains(t, st.hashes, "other:keep")
	assert.Equal(t, 2, st.indexes["docarray"].Fields[1].VectorDim)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = New(context.Background(), &storage.Config{NDim: 0}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewWithStore(context.Background(), &storage.Config{}, newFakeStore(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBulkApply_WritesSearchFields(t *testing.T) {
	st := newFakeStore()
	b := newBackend(t, st, &storage.Config{NDim: 3})
	d := storagetest.Doc("a", 3, 1)

	_, err := b.BulkApply(context.Background(), []storage.Request{storage.Create(&d)})
	require.NoError(t, err)

	h := st.hashes["docarray:a"]
	assert.Equal(t, "text a", h[FieldText])
	assert.Equal(t, "a", h[FieldID])
	require.Len(t, h[FieldEmbedding], 12)
	raw := []byte(h[FieldEmbedding])
	assert.InDelta(t, 2.0, math.Float32frombits(binary.LittleEndian.Uint32(raw[4:])), 0)
}

func TestBulkApply_UpdateDropsStaleSearchFields(t *testing.T) {
	st := newFakeStore()
	b := newBackend(t, st, &storage.Config{NDim: 3})
	d := storagetest.Doc("a", 3, 1)
	_, err := b.BulkApply(context.Background(), []storage.Request{storage.Create(&d)})
	require.NoError(t, err)

	d.Text = ""
	d.Embedding = nil
	results, err := b.BulkApply(context.Background(), []storage.Request{storage.Update(&d)})
	require.NoError(t, err)
	require.True(t, results[0].OK())

	h := st.hashes["docarray:a"]
	assert.NotContains(t, h, FieldText)
	assert.NotContains(t, h, FieldEmbedding)
	assert.Contains(t, h, FieldBody)
}

func TestBulkApply_ItemErrors(t *testing.T) {
	st := newFakeStore()
	st.failKey = "docarray:b"
	b := newBackend(t, st, &storage.Config{NDim: 3})
	good := storagetest.Doc("a", 3, 1)
	failing := storagetest.Doc("b", 3, 1)
	wrongDim := storagetest.Doc("c", 2, 1)

	results, err := b.BulkApply(context.Background(), []storage.Request{
		storage.Create(&good), storage.Create(&failing), storage.Create(&wrongDim),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Error(t, results[1].Err())
	assert.ErrorIs(t, results[2].Err(), domain.ErrInvalidArgument)
	assert.Equal(t, "c", results[2].ID())
}

func TestDistanceMetric(t *testing.T) {
	assert.Equal(t, db.DistanceCosine, distanceMetric("cosine"))
	assert.Equal(t, db.DistanceCosine, distanceMetric(""))
	assert.Equal(t, db.DistanceL2, distanceMetric("L2"))
	assert.Equal(t, db.DistanceIP, distanceMetric("ip"))
}

func TestClose_ReleasesStore(t *testing.T) {
	st := newFakeStore()
	b := newBackend(t, st, &storage.Config{NDim: 2})
	require.NoError(t, b.Close())
	assert.True(t, st.closed)
	_, err := b.DocIDExists(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}
