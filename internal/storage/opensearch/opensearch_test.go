package opensearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

// fakeClient keeps indices in memory and understands the queries the backend sends.
type fakeClient struct {
	mu       sync.Mutex
	indices  map[string]map[string]json.RawMessage
	mappings map[string][]byte
	deleted  []string
	rejectID string

	mgetCalls int
}

// maxResultWindow is the engine's default index.max_result_window.
const maxResultWindow = 10000

func newFakeClient() *fakeClient {
	return &fakeClient{
		indices:  make(map[string]map[string]json.RawMessage),
		mappings: make(map[string][]byte),
	}
}

func (f *fakeClient) IndexExists(_ context.Context, index string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indices[index]
	return ok, nil
}

func (f *fakeClient) CreateIndex(_ context.Context, index string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indices[index]; ok {
		return fmt.Errorf("resource_already_exists_exception: %s", index)
	}
	f.indices[index] = make(map[string]json.RawMessage)
	f.mappings[index] = body
	return nil
}

func (f *fakeClient) DeleteIndex(_ context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indices, index)
	f.deleted = append(f.deleted, index)
	return nil
}

func (f *fakeClient) Bulk(_ context.Context, index string, body []byte) ([]BulkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.indices[index]
	if !ok {
		return nil, fmt.Errorf("index_not_found_exception: %s", index)
	}

	var items []BulkItem
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		var action map[string]struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			return nil, err
		}
		if a, ok := action["delete"]; ok {
			status := http.StatusOK
			if _, found := docs[a.ID]; !found {
				status = http.StatusNotFound
			}
			delete(docs, a.ID)
			items = append(items, BulkItem{ID: a.ID, Status: status})
			continue
		}
		a := action["index"]
		if !sc.Scan() {
			return nil, fmt.Errorf("missing source for %s", a.ID)
		}
		if a.ID == f.rejectID {
			items = append(items, BulkItem{ID: a.ID, Status: http.StatusBadRequest, Error: "mapper_parsing_exception: bad vector"})
			continue
		}
		docs[a.ID] = append(json.RawMessage(nil), sc.Bytes()...)
		items = append(items, BulkItem{ID: a.ID, Status: http.StatusCreated})
	}
	return items, sc.Err()
}

func (f *fakeClient) Search(_ context.Context, index string, body []byte) ([]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.indices[index]
	if !ok {
		return nil, fmt.Errorf("index_not_found_exception: %s", index)
	}
	var q struct {
		Size        int   `json:"size"`
		SearchAfter []int `json:"search_after"`
	}
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, err
	}
	if q.Size > maxResultWindow {
		return nil, fmt.Errorf("illegal_argument_exception: result window is too large")
	}

	var hits []Hit
	after := -1
	if len(q.SearchAfter) > 0 {
		after = q.SearchAfter[0]
	}
	for id, src := range docs {
		var m metaSource
		if err := json.Unmarshal(src, &m); err != nil {
			return nil, err
		}
		if m.Offset > after {
			hits = append(hits, Hit{ID: id, Source: src})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		var a, b metaSource
		_ = json.Unmarshal(hits[i].Source, &a)
		_ = json.Unmarshal(hits[j].Source, &b)
		return a.Offset < b.Offset
	})
	if len(hits) > q.Size {
		hits = hits[:q.Size]
	}
	return hits, nil
}

func (f *fakeClient) MGet(_ context.Context, index string, ids []string) ([]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.indices[index]
	if !ok {
		return nil, fmt.Errorf("index_not_found_exception: %s", index)
	}
	f.mgetCalls++
	var hits []Hit
	for _, id := range ids {
		if src, ok := docs[id]; ok {
			hits = append(hits, Hit{ID: id, Source: src})
		}
	}
	return hits, nil
}

func (f *fakeClient) DocExists(_ context.Context, index, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.indices[index]
	if !ok {
		return false, fmt.Errorf("index_not_found_exception: %s", index)
	}
	_, ok = docs[id]
	return ok, nil
}

func (f *fakeClient) DeleteAll(_ context.Context, index string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.indices[index]; !ok {
		return fmt.Errorf("index_not_found_exception: %s", index)
	}
	f.indices[index] = make(map[string]json.RawMessage)
	return nil
}

func (f *fakeClient) Refresh(context.Context, ...string) error { return nil }

func newBackend(t *testing.T, c *fakeClient, cfg *storage.Config) *Backend {
	t.Helper()
	b, err := NewWithClient(context.Background(), cfg, c, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		return newBackend(t, newFakeClient(), &storage.Config{NDim: nDim})
	})
}

func TestNewWithClient_Mapping(t *testing.T) {
	c := newFakeClient()
	newBackend(t, c, &storage.Config{NDim: 8, Name: "MyDocs", Distance: "l2"})

	require.Contains(t, c.mappings, "mydocs")
	require.Contains(t, c.mappings, "mydocs_offset2id")
	var m struct {
		Mappings struct {
			Properties struct {
				Embedding struct {
					Type      string `json:"type"`
					Dimension int    `json:"dimension"`
					Method    struct {
						SpaceType string `json:"space_type"`
					} `json:"method"`
				} `json:"embedding"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(c.mappings["mydocs"], &m))
	assert.Equal(t, "knn_vector", m.Mappings.Properties.Embedding.Type)
	assert.Equal(t, 8, m.Mappings.Properties.Embedding.Dimension)
	assert.Equal(t, "l2", m.Mappings.Properties.Embedding.Method.SpaceType)
}

func TestNewWithClient_RecreatesExisting(t *testing.T) {
	c := newFakeClient()
	c.indices["docarray"] = map[string]json.RawMessage{"old": json.RawMessage(`{}`)}

	newBackend(t, c, &storage.Config{NDim: 2})
	assert.Equal(t, []string{"docarray"}, c.deleted)
	assert.Empty(t, c.indices["docarray"])
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewWithClient(context.Background(), &storage.Config{}, newFakeClient(), nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBulkApply_RejectedItem(t *testing.T) {
	c := newFakeClient()
	c.rejectID = "bad"
	b := newBackend(t, c, &storage.Config{NDim: 2})
	good, bad := storagetest.Doc("good", 2, 1), storagetest.Doc("bad", 2, 1)

	results, err := b.BulkApply(context.Background(), []storage.Request{storage.Create(&good), storage.Create(&bad)})
	require.NoError(t, err)
	assert.True(t, results[0].OK())
	require.Error(t, results[1].Err())
	assert.Contains(t, results[1].Err().Error(), "mapper_parsing_exception")
}

func TestOffsetIDIndex_Pages(t *testing.T) {
	b := newBackend(t, newFakeClient(), &storage.Config{NDim: 2})
	ctx := context.Background()
	entries := make([]offsetid.Entry, metaPageSize*2+5)
	for i := range entries {
		entries[i] = offsetid.Entry{Offset: i, ID: fmt.Sprintf("doc-%d", i)}
	}
	require.NoError(t, b.UpdateOffsetIDMeta(ctx, entries))

	got, err := b.OffsetIDIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestGetDocs_BeyondResultWindow(t *testing.T) {
	c := newFakeClient()
	b := newBackend(t, c, &storage.Config{NDim: 2})
	ctx := context.Background()

	n := maxResultWindow + 1
	reqs := make([]storage.Request, n)
	ids := make([]string, n)
	for i := range reqs {
		ids[i] = fmt.Sprintf("doc-%d", i)
		d := storagetest.Doc(ids[i], 2, float32(i))
		reqs[i] = storage.Create(&d)
	}
	_, err := b.BulkApply(ctx, reqs)
	require.NoError(t, err)

	docs, err := b.GetDocs(ctx, ids)
	require.NoError(t, err)
	require.Len(t, docs, n)
	assert.Equal(t, ids[n-1], docs[n-1].ID())
	assert.Equal(t, (n+mgetChunk-1)/mgetChunk, c.mgetCalls)

	ok, err := b.DocIDExists(ctx, ids[n-1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSpaceType(t *testing.T) {
	assert.Equal(t, "cosinesimil", spaceType("cosine"))
	assert.Equal(t, "l2", spaceType("euclidean"))
	assert.Equal(t, "innerproduct", spaceType("ip"))
}
