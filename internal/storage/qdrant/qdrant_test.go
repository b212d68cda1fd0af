package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

type fakePoint struct {
	id      any
	payload json.RawMessage
}

type fakeCollection struct {
	vectors map[string]struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	}
	points map[string]fakePoint
}

// fakeQdrant serves the subset of the Qdrant REST API the backend calls.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	apiKeys     []string
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.apiKeys = append(f.apiKeys, req.Header.Get("api-key"))
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/collections/{name}", f.getCollection)
	r.Put("/collections/{name}", f.createCollection)
	r.Delete("/collections/{name}", f.deleteCollection)
	r.Put("/collections/{name}/points", f.upsert)
	r.Post("/collections/{name}/points", f.retrieve)
	r.Post("/collections/{name}/points/delete", f.deletePoints)
	r.Post("/collections/{name}/points/scroll", f.scroll)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func reply(w http.ResponseWriter, code int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if code >= 300 {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": result}})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func (f *fakeQdrant) collection(w http.ResponseWriter, r *http.Request) *fakeCollection {
	c, ok := f.collections[chi.URLParam(r, "name")]
	if !ok {
		reply(w, http.StatusNotFound, "Not found: Collection "+chi.URLParam(r, "name")+" doesn't exist!")
		return nil
	}
	return c
}

func (f *fakeQdrant) getCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.collection(w, r); c != nil {
		reply(w, http.StatusOK, map[string]any{"points_count": len(c.points)})
	}
}

func (f *fakeQdrant) createCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := chi.URLParam(r, "name")
	if _, ok := f.collections[name]; ok {
		reply(w, http.StatusConflict, "Collection `"+name+"` already exists!")
		return
	}
	c := &fakeCollection{points: make(map[string]fakePoint)}
	var createBody struct {
		Vectors json.RawMessage `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&createBody); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := json.Unmarshal(createBody.Vectors, &c.vectors); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	f.collections[name] = c
	reply(w, http.StatusOK, true)
}

func (f *fakeQdrant) deleteCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, chi.URLParam(r, "name"))
	reply(w, http.StatusOK, true)
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	var req struct {
		Points []struct {
			ID      any                  `json:"id"`
			Vector  map[string][]float32 `json:"vector"`
			Payload json.RawMessage      `json:"payload"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, p := range req.Points {
		for name, v := range p.Vector {
			if c.vectors[name].Size != len(v) {
				reply(w, http.StatusBadRequest, fmt.Sprintf("Wrong input: Vector dimension error: expected dim: %d, got %d", c.vectors[name].Size, len(v)))
				return
			}
		}
	}
	for _, p := range req.Points {
		c.points[fmt.Sprint(p.ID)] = fakePoint{id: p.ID, payload: p.Payload}
	}
	reply(w, http.StatusOK, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) retrieve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	var req struct {
		IDs []any `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	out := []map[string]any{}
	for _, id := range req.IDs {
		if p, ok := c.points[fmt.Sprint(id)]; ok {
			out = append(out, map[string]any{"id": p.id, "payload": p.payload})
		}
	}
	reply(w, http.StatusOK, out)
}

func (f *fakeQdrant) deletePoints(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	var req struct {
		Points []any `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, id := range req.Points {
		delete(c.points, fmt.Sprint(id))
	}
	reply(w, http.StatusOK, map[string]any{"status": "completed"})
}

func (f *fakeQdrant) scroll(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	var req struct {
		Limit  int      `json:"limit"`
		Offset *float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}
	all := make([]fakePoint, 0, len(c.points))
	for _, p := range c.points {
		if id, _ := p.id.(float64); req.Offset == nil || id >= *req.Offset {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id.(float64) < all[j].id.(float64) })

	var next any
	if len(all) > req.Limit {
		next = all[req.Limit].id
		all = all[:req.Limit]
	}
	points := make([]map[string]any, len(all))
	for i, p := range all {
		points[i] = map[string]any{"id": p.id, "payload": p.payload}
	}
	reply(w, http.StatusOK, map[string]any{"points": points, "next_page_offset": next})
}

func newBackend(t *testing.T, srv *httptest.Server, cfg *storage.Config) *Backend {
	t.Helper()
	hostCfg := *cfg
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	hostCfg.Host = host
	hostCfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	b, err := NewWithHTTPClient(context.Background(), &hostCfg, srv.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		_, srv := newFakeQdrant(t)
		return newBackend(t, srv, &storage.Config{NDim: nDim})
	})
}

func TestNew_CreatesCollections(t *testing.T) {
	f, srv := newFakeQdrant(t)
	newBackend(t, srv, &storage.Config{
		NDim:        5,
		Distance:    "l2",
		Name:        "docs",
		Credentials: &storage.Credentials{Password: "secret"},
	})

	require.Contains(t, f.collections, "docs")
	require.Contains(t, f.collections, "docs_offset2id")
	assert.Equal(t, 5, f.collections["docs"].vectors[vectorName].Size)
	assert.Equal(t, "Euclid", f.collections["docs"].vectors[vectorName].Distance)
	assert.Contains(t, f.apiKeys, "secret")
}

func TestNew_RecreatesExisting(t *testing.T) {
	f, srv := newFakeQdrant(t)
	f.collections["docarray"] = &fakeCollection{points: map[string]fakePoint{"x": {id: "x"}}}

	newBackend(t, srv, &storage.Config{NDim: 2})
	assert.Empty(t, f.collections["docarray"].points)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = New(context.Background(), &storage.Config{}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBulkApply_OrderAndDimensions(t *testing.T) {
	_, srv := newFakeQdrant(t)
	b := newBackend(t, srv, &storage.Config{NDim: 2})
	ctx := context.Background()
	a := storagetest.Doc("a", 2, 1)
	wrong := storagetest.Doc("w", 3, 1)

	results, err := b.BulkApply(ctx, []storage.Request{
		storage.Create(&a), storage.Delete("a"), storage.Create(&wrong),
	})
	require.NoError(t, err)
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.ErrorIs(t, results[2].Err(), domain.ErrInvalidArgument)

	ok, err := b.DocIDExists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOffsetIDIndex_Scrolls(t *testing.T) {
	_, srv := newFakeQdrant(t)
	b := newBackend(t, srv, &storage.Config{NDim: 2})
	ctx := context.Background()
	entries := make([]offsetid.Entry, pageSize+10)
	for i := range entries {
		entries[i] = offsetid.Entry{Offset: i, ID: fmt.Sprintf("d%d", i)}
	}
	require.NoError(t, b.UpdateOffsetIDMeta(ctx, entries))
	got, err := b.OffsetIDIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestPointID_Stable(t *testing.T) {
	assert.Equal(t, PointID("abc"), PointID("abc"))
	assert.NotEqual(t, PointID("abc"), PointID("abd"))
	assert.Len(t, PointID("abc"), 36)
}

func TestDistance(t *testing.T) {
	assert.Equal(t, "Cosine", distance("cosine"))
	assert.Equal(t, "Euclid", distance("euclidean"))
	assert.Equal(t, "Dot", distance("ip"))
}
