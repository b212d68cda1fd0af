// Package memory is a process-local backend holding deep copies of documents.
package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

// Backend stores documents in a map. It accepts a nil config.
type Backend struct {
	mu      sync.RWMutex
	cfg     storage.Config
	docs    map[string]document.Document
	entries []offsetid.Entry
	closed  bool
}

// New creates an empty memory backend.
func New(_ context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	return &Backend{
		cfg:  storage.Prepare(cfg, storage.KindMemory, logger),
		docs: make(map[string]document.Document),
	}, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindMemory }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, storage.ErrClosed
	}
	_, ok := b.docs[id]
	return ok, nil
}

// BulkApply implements storage.Backend.
func (b *Backend) BulkApply(_ context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrClosed
	}

	results := make([]batch.Result, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		if err := storage.CheckRequest(r); err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		if r.Op == storage.OpDelete {
			delete(b.docs, r.ID)
		} else {
			b.docs[r.ID] = r.Doc.Clone()
		}
		results[i] = batch.NewOK(r.ID)
	}
	return results, nil
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(_ context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrClosed
	}

	out := make([]document.Document, len(ids))
	for i, id := range ids {
		doc, ok := b.docs[id]
		if !ok {
			return nil, domain.NewIDError(id)
		}
		out[i] = doc.Clone()
	}
	return out, nil
}

// Refresh is a no-op.
func (b *Backend) Refresh(context.Context) error { return nil }

// OffsetIDIndex implements storage.Backend.
func (b *Backend) OffsetIDIndex(context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrClosed
	}
	return slices.Clone(b.entries), nil
}

// UpdateOffsetIDMeta implements storage.Backend.
func (b *Backend) UpdateOffsetIDMeta(_ context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	b.entries = slices.Clone(entries)
	return nil
}

// Clear implements storage.Backend.
func (b *Backend) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}
	b.docs = make(map[string]document.Document)
	b.entries = nil
	return nil
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]string{
		"backend":   storage.KindMemory,
		"name":      b.cfg.Name,
		"documents": strconv.Itoa(len(b.docs)),
	}
}

// Close drops the data. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.docs = nil
	b.entries = nil
	return nil
}
