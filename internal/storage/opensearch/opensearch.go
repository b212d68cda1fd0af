// Package opensearch stores documents in an OpenSearch k-NN index.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

const (
	metaPageSize = 1000
	mgetChunk    = 1000
)

var _ storage.Backend = (*Backend)(nil)

// Backend keeps bodies in index <name> and offsets in <name>_offset2id.
type Backend struct {
	mu     sync.RWMutex
	client Client
	cfg    storage.Config
	body   storage.BodyCodec
	index  string
	meta   string
	logger *zap.Logger
}

// docSource is the stored _source of a document.
type docSource struct {
	Body      []byte    `json:"body"`
	Text      string    `json:"text,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}

type metaSource struct {
	Offset int    `json:"offset"`
	DocID  string `json:"doc_id"`
}

// New connects to cfg.URL() and recreates both indices.
func New(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("opensearch backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindOpenSearch, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client, err := NewClient(&c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return NewWithClient(ctx, &c, client, logger)
}

// NewWithClient builds the backend over client.
func NewWithClient(ctx context.Context, cfg *storage.Config, client Client, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("opensearch backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindOpenSearch, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := storage.NewBodyCodec(&c)
	if err != nil {
		return nil, err
	}

	// index names must be lowercase
	index := strings.ToLower(c.Name)
	b := &Backend{
		client: client,
		cfg:    c,
		body:   body,
		index:  index,
		meta:   storage.OffsetTableName(index),
		logger: logger,
	}
	if err := b.recreate(ctx, b.index, docMapping(c.NDim, c.Distance)); err != nil {
		return nil, err
	}
	if err := b.recreate(ctx, b.meta, metaMapping()); err != nil {
		return nil, err
	}
	logger.Info("OpenSearch backend ready", zap.String("url", c.URL()), zap.String("index", index))
	return b, nil
}

func (b *Backend) recreate(ctx context.Context, index string, mapping []byte) error {
	exists, err := b.client.IndexExists(ctx, index)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	if exists {
		if err := b.client.DeleteIndex(ctx, index); err != nil {
			return err
		}
	}
	return b.client.CreateIndex(ctx, index, mapping)
}

// spaceType maps a distance name to an OpenSearch k-NN space.
func spaceType(distance string) string {
	switch strings.ToLower(distance) {
	case "l2", "euclidean":
		return "l2"
	case "ip", "dot", "innerproduct":
		return "innerproduct"
	}
	return "cosinesimil"
}

func docMapping(nDim int, distance string) []byte {
	m := map[string]any{
		"settings": map[string]any{"index": map[string]any{"knn": true}},
		"mappings": map[string]any{
			"properties": map[string]any{
				"body": map[string]any{"type": "binary"},
				"text": map[string]any{"type": "text"},
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": nDim,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     "lucene",
						"space_type": spaceType(distance),
					},
				},
			},
		},
	}
	data, _ := json.Marshal(m)
	return data
}

func metaMapping() []byte {
	return []byte(`{"mappings":{"properties":{"offset":{"type":"integer"},"doc_id":{"type":"keyword"}}}}`)
}

func (b *Backend) live() (Client, error) {
	if b.client == nil {
		return nil, storage.ErrClosed
	}
	return b.client, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindOpenSearch }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	client, err := b.live()
	if err != nil {
		return false, err
	}
	return client.DocExists(ctx, b.index, id)
}

// BulkApply implements storage.Backend. Valid items go out in one _bulk call.
func (b *Backend) BulkApply(ctx context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	client, err := b.live()
	if err != nil {
		return nil, err
	}

	results := make([]batch.Result, len(reqs))
	var body bytes.Buffer
	slots := make([]int, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		if err := b.appendAction(&body, r); err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		slots = append(slots, i)
	}
	if len(slots) == 0 {
		return results, nil
	}

	items, err := client.Bulk(ctx, b.index, body.Bytes())
	if err != nil {
		return nil, err
	}
	if len(items) != len(slots) {
		return nil, fmt.Errorf("bulk returned %d items for %d actions: %w",
			len(items), len(slots), domain.ErrIndexUnavailable)
	}
	for j, i := range slots {
		results[i] = itemResult(&reqs[i], items[j])
	}
	return results, nil
}

func itemResult(r *storage.Request, it BulkItem) batch.Result {
	if r.Op == storage.OpDelete && it.Status == http.StatusNotFound {
		return batch.NewOK(r.ID)
	}
	if it.Error != "" || it.Status >= http.StatusMultipleChoices {
		return batch.NewError(r.ID, fmt.Errorf("%s %q: status %d: %s", r.Op, r.ID, it.Status, it.Error))
	}
	return batch.NewOK(r.ID)
}

func (b *Backend) appendAction(buf *bytes.Buffer, r *storage.Request) error {
	if err := storage.CheckRequest(r); err != nil {
		return err
	}
	if r.Op == storage.OpDelete {
		return writeLines(buf, map[string]any{"delete": map[string]any{"_id": r.ID}})
	}
	data, err := b.body.Encode(r.Doc)
	if err != nil {
		return err
	}
	src := docSource{Body: data, Text: r.Doc.Text}
	if r.Doc.HasEmbedding() {
		src.Embedding = r.Doc.Embedding
	}
	return writeLines(buf, map[string]any{"index": map[string]any{"_id": r.ID}}, src)
}

// writeLines appends NDJSON lines.
func writeLines(buf *bytes.Buffer, lines ...any) error {
	enc := json.NewEncoder(buf)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("bulk line: %w: %w", domain.ErrSerialization, err)
		}
	}
	return nil
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	client, err := b.live()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []document.Document{}, nil
	}

	byID := make(map[string]json.RawMessage, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		hits, err := client.MGet(ctx, b.index, ids[start:min(start+mgetChunk, len(ids))])
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			byID[h.ID] = h.Source
		}
	}

	out := make([]document.Document, len(ids))
	for i, id := range ids {
		raw, ok := byID[id]
		if !ok {
			return nil, domain.NewIDError(id)
		}
		var src docSource
		if err := json.Unmarshal(raw, &src); err != nil {
			return nil, fmt.Errorf("source %q: %w: %w", id, domain.ErrSerialization, err)
		}
		if out[i], err = b.body.Decode(src.Body); err != nil {
			return nil, fmt.Errorf("decode %q: %w", id, err)
		}
	}
	return out, nil
}

// Refresh implements storage.Backend.
func (b *Backend) Refresh(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	client, err := b.live()
	if err != nil {
		return err
	}
	return client.Refresh(ctx, b.index, b.meta)
}

// OffsetIDIndex implements storage.Backend. Pages through the meta index by offset.
func (b *Backend) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	client, err := b.live()
	if err != nil {
		return nil, err
	}

	entries := []offsetid.Entry{}
	after := -1
	for {
		q := map[string]any{
			"size":  metaPageSize,
			"sort":  []any{map[string]any{"offset": "asc"}},
			"query": map[string]any{"match_all": map[string]any{}},
		}
		if after >= 0 {
			q["search_after"] = []int{after}
		}
		body, _ := json.Marshal(q)
		hits, err := client.Search(ctx, b.meta, body)
		if err != nil {
			return nil, fmt.Errorf("read offset meta: %w", err)
		}
		for _, h := range hits {
			var src metaSource
			if err := json.Unmarshal(h.Source, &src); err != nil {
				return nil, fmt.Errorf("offset meta %s: %w: %w", h.ID, domain.ErrSerialization, err)
			}
			entries = append(entries, offsetid.Entry{Offset: src.Offset, ID: src.DocID})
			after = src.Offset
		}
		if len(hits) < metaPageSize {
			return entries, nil
		}
	}
}

// UpdateOffsetIDMeta implements storage.Backend.
func (b *Backend) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	client, err := b.live()
	if err != nil {
		return err
	}
	if err := client.DeleteAll(ctx, b.meta); err != nil {
		return err
	}

	for start := 0; start < len(entries); start += metaPageSize {
		end := min(start+metaPageSize, len(entries))
		var buf bytes.Buffer
		for _, e := range entries[start:end] {
			action := map[string]any{"index": map[string]any{"_id": strconv.Itoa(e.Offset)}}
			if err := writeLines(&buf, action, metaSource{Offset: e.Offset, DocID: e.ID}); err != nil {
				return err
			}
		}
		items, err := client.Bulk(ctx, b.meta, buf.Bytes())
		if err != nil {
			return fmt.Errorf("write offset meta: %w", err)
		}
		for _, it := range items {
			if it.Error != "" {
				return fmt.Errorf("write offset %s: %s", it.ID, it.Error)
			}
		}
	}
	return nil
}

// Clear implements storage.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	client, err := b.live()
	if err != nil {
		return err
	}
	for _, index := range []string{b.index, b.meta} {
		if err := client.DeleteAll(ctx, index); err != nil {
			return err
		}
	}
	return nil
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	return map[string]string{
		"backend":    storage.KindOpenSearch,
		"name":       b.cfg.Name,
		"url":        b.cfg.URL(),
		"index":      b.index,
		"space_type": spaceType(b.cfg.Distance),
		"n_dim":      strconv.Itoa(b.cfg.NDim),
		"serialize":  string(b.body.Protocol),
	}
}

// Close drops the client. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}
