// Package array is the storage-agnostic document collection. It owns the
// offset/id index and delegates persistence to one storage.Backend.
//
// An Array is not safe for concurrent use.
package array

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/metrics"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Opener constructs a backend; factory.Open satisfies it.
type Opener func(ctx context.Context, kind string, cfg *storage.Config, logger *zap.Logger) (storage.Backend, error)

// Array is an ordered document collection over a backend.
type Array struct {
	backend storage.Backend
	index   *offsetid.Index
	dirty   bool
	eager   bool
	closed  bool
	logger  *zap.Logger
}

type options struct {
	eager  bool
	logger *zap.Logger
	docs   []document.Document
}

// Option configures New.
type Option func(*options)

// WithEagerFlush persists the offset meta after every mutation instead of
// before the next meta read.
func WithEagerFlush() Option { return func(o *options) { o.eager = true } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithDocuments appends docs after the index is loaded.
func WithDocuments(docs ...document.Document) Option {
	return func(o *options) { o.docs = append(o.docs, docs...) }
}

// New hydrates the offset index from backend and appends any initial documents.
func New(ctx context.Context, backend storage.Backend, opts ...Option) (*Array, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	a := &Array{
		backend: backend,
		index:   offsetid.New(),
		eager:   o.eager,
		logger:  o.logger,
	}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	if len(o.docs) > 0 {
		if err := a.Extend(ctx, o.docs...); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Open constructs a backend with open and wraps it in an Array.
func Open(ctx context.Context, open Opener, kind string, cfg *storage.Config, opts ...Option) (*Array, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend, err := open(ctx, kind, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return a, nil
}

// Backend returns the active backend.
func (a *Array) Backend() storage.Backend { return a.backend }

// Len returns the number of documents.
func (a *Array) Len() int { return a.index.Len() }

// IDs returns the ids in offset order.
func (a *Array) IDs() []string { return a.index.IDs() }

// Contains reports whether id is in the array.
func (a *Array) Contains(id string) bool { return a.index.Contains(id) }

// Info describes the backend.
func (a *Array) Info() map[string]string {
	info := a.backend.Info()
	info["length"] = fmt.Sprint(a.Len())
	return info
}

func (a *Array) check() error {
	if a.closed {
		return storage.ErrClosed
	}
	return nil
}

// Get returns the selected documents in selector order.
func (a *Array) Get(ctx context.Context, sel Selector) ([]document.Document, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	offsets, err := sel.resolve(a.index)
	if err != nil {
		return nil, err
	}
	return a.fetch(ctx, offsets)
}

func (a *Array) fetch(ctx context.Context, offsets []int) ([]document.Document, error) {
	if len(offsets) == 0 {
		return []document.Document{}, nil
	}
	ids := make([]string, len(offsets))
	for i, o := range offsets {
		id, err := a.index.ID(o)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	docs, err := a.backend.GetDocs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return docs, nil
}

// At returns the document at offset; negative counts from the end.
func (a *Array) At(ctx context.Context, offset int) (document.Document, error) {
	docs, err := a.Get(ctx, Offset(offset))
	if err != nil {
		return document.Document{}, err
	}
	return docs[0], nil
}

// ByID returns the document with id.
func (a *Array) ByID(ctx context.Context, id string) (document.Document, error) {
	docs, err := a.Get(ctx, ID(id))
	if err != nil {
		return document.Document{}, err
	}
	return docs[0], nil
}

// Docs returns every document in offset order.
func (a *Array) Docs(ctx context.Context) ([]document.Document, error) {
	return a.Get(ctx, All())
}

// Texts returns the text of every document in offset order.
func (a *Array) Texts(ctx context.Context) ([]string, error) {
	docs, err := a.Docs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = docs[i].Text
	}
	return out, nil
}

// Embeddings returns the embedding of every document in offset order; a
// document without one yields nil.
func (a *Array) Embeddings(ctx context.Context) ([][]float32, error) {
	docs, err := a.Docs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(docs))
	for i := range docs {
		out[i] = docs[i].Embedding
	}
	return out, nil
}

// OffsetIDs flushes pending meta and returns what the backend persisted.
func (a *Array) OffsetIDs(ctx context.Context) ([]offsetid.Entry, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if err := a.Flush(ctx); err != nil {
		return nil, err
	}
	entries, err := a.backend.OffsetIDIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("offset meta: %w", err)
	}
	return entries, nil
}

// Flush persists the offset meta if it changed since the last flush.
func (a *Array) Flush(ctx context.Context) error {
	if !a.dirty {
		return nil
	}
	if err := a.backend.UpdateOffsetIDMeta(ctx, a.index.Entries()); err != nil {
		return fmt.Errorf("flush offset meta: %w", err)
	}
	a.dirty = false
	return nil
}

// Reload discards the in-memory index and rebuilds it from the backend meta.
func (a *Array) Reload(ctx context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	entries, err := a.backend.OffsetIDIndex(ctx)
	if err != nil {
		return fmt.Errorf("load offset meta: %w", err)
	}
	if err := a.index.Rebuild(entries); err != nil {
		return fmt.Errorf("rebuild offset index: %w", err)
	}
	a.dirty = false
	a.observe()
	return nil
}

// Close flushes pending meta and closes the backend. It is idempotent.
func (a *Array) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	flushErr := a.Flush(ctx)
	a.closed = true
	if err := a.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return flushErr
}

// Equal reports whether both arrays use the same backend kind and
// configuration and hold equal documents in the same order.
func (a *Array) Equal(ctx context.Context, o *Array) (bool, error) {
	if a.backend.Name() != o.backend.Name() || a.Len() != o.Len() {
		return false, nil
	}
	if !reflect.DeepEqual(a.backend.Config(), o.backend.Config()) {
		return false, nil
	}
	mine, err := a.Docs(ctx)
	if err != nil {
		return false, err
	}
	theirs, err := o.Docs(ctx)
	if err != nil {
		return false, err
	}
	for i := range mine {
		if !mine[i].Equal(&theirs[i]) {
			return false, nil
		}
	}
	return true, nil
}

// markDirty records an offset change and flushes it in eager mode.
func (a *Array) markDirty(ctx context.Context) error {
	a.dirty = true
	a.observe()
	if a.eager {
		return a.Flush(ctx)
	}
	return nil
}

func (a *Array) observe() {
	metrics.ArrayDocuments.WithLabelValues(a.backend.Name()).Set(float64(a.index.Len()))
}

// errNoDocs is returned by mutations that received nothing to apply.
var errNoDocs = fmt.Errorf("no documents given: %w", domain.ErrInvalidArgument)
