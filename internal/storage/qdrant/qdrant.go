// Package qdrant stores documents as Qdrant points over the REST API.
package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

const (
	vectorName = "embedding"
	metaVector = "offset"
	pageSize   = 1000
)

var _ storage.Backend = (*Backend)(nil)

// Backend keeps one point per document in <name> and offsets in <name>_offset2id.
type Backend struct {
	mu         sync.RWMutex
	client     *restClient
	cfg        storage.Config
	body       storage.BodyCodec
	collection string
	meta       string
	logger     *zap.Logger
}

type docPayload struct {
	DocID string `json:"doc_id"`
	Body  []byte `json:"body"`
	Text  string `json:"text,omitempty"`
}

type metaPayload struct {
	Offset int    `json:"offset"`
	DocID  string `json:"doc_id"`
}

type point struct {
	ID      any                  `json:"id"`
	Vector  map[string][]float32 `json:"vector"`
	Payload any                  `json:"payload"`
}

type record struct {
	ID      any             `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// New connects to cfg.URL() and recreates both collections.
func New(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	return NewWithHTTPClient(ctx, cfg, nil, logger)
}

// NewWithHTTPClient is New with a caller-supplied HTTP client; nil uses a default.
func NewWithHTTPClient(ctx context.Context, cfg *storage.Config, hc *http.Client, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("qdrant backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindQdrant, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := storage.NewBodyCodec(&c)
	if err != nil {
		return nil, err
	}
	var apiKey string
	if c.Credentials != nil {
		apiKey = c.Credentials.Password
	}

	b := &Backend{
		client:     newRESTClient(c.URL(), apiKey, hc),
		cfg:        c,
		body:       body,
		collection: c.Name,
		meta:       storage.OffsetTableName(c.Name),
		logger:     logger,
	}
	if err := b.recreate(ctx, b.collection, vectorName, c.NDim, distance(c.Distance)); err != nil {
		return nil, err
	}
	if err := b.recreate(ctx, b.meta, metaVector, 1, "Dot"); err != nil {
		return nil, err
	}
	logger.Info("Qdrant backend ready", zap.String("url", c.URL()), zap.String("collection", b.collection))
	return b, nil
}

func distance(d string) string {
	switch strings.ToLower(d) {
	case "l2", "euclidean", "euclid":
		return "Euclid"
	case "ip", "dot":
		return "Dot"
	}
	return "Cosine"
}

// PointID maps a document id to a stable point UUID.
func PointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

func (b *Backend) recreate(ctx context.Context, name, vector string, size int, dist string) error {
	err := b.client.do(ctx, http.MethodGet, collectionPath(name), nil, nil)
	var se *StatusError
	switch {
	case err == nil:
		if err := b.client.do(ctx, http.MethodDelete, collectionPath(name), nil, nil); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
	default:
		return fmt.Errorf("collection %s: %w", name, err)
	}

	createBody := map[string]any{
		"vectors": map[string]any{vector: map[string]any{"size": size, "distance": dist}},
	}
	if err := b.client.do(ctx, http.MethodPut, collectionPath(name), createBody, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (b *Backend) live() (*restClient, error) {
	if b.client == nil {
		return nil, storage.ErrClosed
	}
	return b.client, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindQdrant }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

func (b *Backend) retrieve(ctx context.Context, c *restClient, ids []string) (map[string]docPayload, error) {
	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = PointID(id)
	}
	var recs []record
	req := map[string]any{"ids": pids, "with_payload": true, "with_vector": false}
	if err := c.do(ctx, http.MethodPost, collectionPath(b.collection, "points"), req, &recs); err != nil {
		return nil, fmt.Errorf("retrieve points: %w", err)
	}
	out := make(map[string]docPayload, len(recs))
	for _, r := range recs {
		var p docPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return nil, fmt.Errorf("point %v payload: %w: %w", r.ID, domain.ErrSerialization, err)
		}
		out[p.DocID] = p
	}
	return out, nil
}

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.live()
	if err != nil {
		return false, err
	}
	found, err := b.retrieve(ctx, c, []string{id})
	if err != nil {
		return false, err
	}
	_, ok := found[id]
	return ok, nil
}

// BulkApply implements storage.Backend. Runs of upserts and deletes are sent
// as one request each, preserving request order; a failed request fails all
// of its items.
func (b *Backend) BulkApply(ctx context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.live()
	if err != nil {
		return nil, err
	}

	results := make([]batch.Result, len(reqs))
	var (
		points  []point
		deletes []string
		pending []int
	)
	flush := func() error {
		var err error
		switch {
		case len(points) > 0:
			err = c.do(ctx, http.MethodPut, collectionPath(b.collection, "points")+"?wait=true",
				map[string]any{"points": points}, nil)
		case len(deletes) > 0:
			err = c.do(ctx, http.MethodPost, collectionPath(b.collection, "points", "delete")+"?wait=true",
				map[string]any{"points": deletes}, nil)
		default:
			return nil
		}
		var se *StatusError
		if err != nil && !errors.As(err, &se) {
			return err
		}
		for _, i := range pending {
			if err != nil {
				results[i] = batch.NewError(reqs[i].ID, err)
			} else {
				results[i] = batch.NewOK(reqs[i].ID)
			}
		}
		points, deletes, pending = nil, nil, nil
		return nil
	}

	for i := range reqs {
		r := &reqs[i]
		if err := storage.CheckRequest(r); err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		if r.Op == storage.OpDelete {
			if len(points) > 0 {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			deletes = append(deletes, PointID(r.ID))
			pending = append(pending, i)
			continue
		}

		p, err := b.point(r.Doc)
		if err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		if len(deletes) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		points = append(points, p)
		pending = append(pending, i)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Backend) point(doc *document.Document) (point, error) {
	data, err := b.body.Encode(doc)
	if err != nil {
		return point{}, err
	}
	p := point{
		ID:      PointID(doc.ID()),
		Vector:  map[string][]float32{},
		Payload: docPayload{DocID: doc.ID(), Body: data, Text: doc.Text},
	}
	if doc.HasEmbedding() {
		if len(doc.Embedding) != b.cfg.NDim {
			return point{}, fmt.Errorf("embedding has %d dims, collection has %d: %w",
				len(doc.Embedding), b.cfg.NDim, domain.ErrInvalidArgument)
		}
		p.Vector[vectorName] = doc.Embedding
	}
	return p, nil
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.live()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []document.Document{}, nil
	}

	found, err := b.retrieve(ctx, c, ids)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, len(ids))
	for i, id := range ids {
		p, ok := found[id]
		if !ok {
			return nil, domain.NewIDError(id)
		}
		if out[i], err = b.body.Decode(p.Body); err != nil {
			return nil, fmt.Errorf("decode %q: %w", id, err)
		}
	}
	return out, nil
}

// Refresh is a no-op; writes use wait=true.
func (b *Backend) Refresh(context.Context) error { return nil }

// OffsetIDIndex implements storage.Backend.
func (b *Backend) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.live()
	if err != nil {
		return nil, err
	}

	entries := []offsetid.Entry{}
	var next any
	for {
		req := map[string]any{"limit": pageSize, "with_payload": true, "with_vector": false}
		if next != nil {
			req["offset"] = next
		}
		var page struct {
			Points []record `json:"points"`
			Next   any      `json:"next_page_offset"`
		}
		if err := c.do(ctx, http.MethodPost, collectionPath(b.meta, "points", "scroll"), req, &page); err != nil {
			return nil, fmt.Errorf("read offset meta: %w", err)
		}
		for _, r := range page.Points {
			var p metaPayload
			if err := json.Unmarshal(r.Payload, &p); err != nil {
				return nil, fmt.Errorf("offset meta %v: %w: %w", r.ID, domain.ErrSerialization, err)
			}
			entries = append(entries, offsetid.Entry{Offset: p.Offset, ID: p.DocID})
		}
		if page.Next == nil || len(page.Points) == 0 {
			break
		}
		next = page.Next
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries, nil
}

// UpdateOffsetIDMeta implements storage.Backend.
func (b *Backend) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.live()
	if err != nil {
		return err
	}
	if err := b.recreate(ctx, b.meta, metaVector, 1, "Dot"); err != nil {
		return err
	}
	for start := 0; start < len(entries); start += pageSize {
		end := min(start+pageSize, len(entries))
		points := make([]point, 0, end-start)
		for _, e := range entries[start:end] {
			points = append(points, point{
				ID:      e.Offset,
				Vector:  map[string][]float32{metaVector: {1}},
				Payload: metaPayload{Offset: e.Offset, DocID: e.ID},
			})
		}
		if err := c.do(ctx, http.MethodPut, collectionPath(b.meta, "points")+"?wait=true",
			map[string]any{"points": points}, nil); err != nil {
			return fmt.Errorf("write offset meta: %w", err)
		}
	}
	return nil
}

// Clear implements storage.Backend by recreating both collections.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.live(); err != nil {
		return err
	}
	if err := b.recreate(ctx, b.collection, vectorName, b.cfg.NDim, distance(b.cfg.Distance)); err != nil {
		return err
	}
	return b.recreate(ctx, b.meta, metaVector, 1, "Dot")
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	return map[string]string{
		"backend":    storage.KindQdrant,
		"name":       b.cfg.Name,
		"url":        b.cfg.URL(),
		"collection": b.collection,
		"distance":   distance(b.cfg.Distance),
		"n_dim":      strconv.Itoa(b.cfg.NDim),
		"serialize":  string(b.body.Protocol),
	}
}

// Close drops the client. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.http.CloseIdleConnections()
		b.client = nil
	}
	return nil
}
