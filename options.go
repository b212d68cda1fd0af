package docarray

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/array"
	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/snapshot"
	"github.com/kailas-cloud/docarray/internal/storage/factory"
)

// Option configures Open, Load and Pull.
type Option func(*openConfig)

type openConfig struct {
	kind     string
	cfg      *Config
	logger   *zap.Logger
	docs     []Document
	eager    bool
	encoding codec.TextEncoding
}

// WithBackend selects the backend kind; Memory when unset.
func WithBackend(kind string) Option {
	return func(c *openConfig) { c.kind = strings.ToLower(kind) }
}

// WithConfig sets the backend configuration.
func WithConfig(cfg *Config) Option {
	return func(c *openConfig) { c.cfg = cfg }
}

// WithLogger sets a zap logger; logging is disabled by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// WithDocuments appends docs once the array is open.
func WithDocuments(docs ...Document) Option {
	return func(c *openConfig) { c.docs = append(c.docs, docs...) }
}

// WithEagerFlush persists offset meta after every mutation.
func WithEagerFlush() Option {
	return func(c *openConfig) { c.eager = true }
}

// WithTextEncoding sets the character set of JSON files for Load.
func WithTextEncoding(enc string) Option {
	return func(c *openConfig) { c.encoding = codec.TextEncoding(enc) }
}

func newOpenConfig(opts []Option) *openConfig {
	c := &openConfig{logger: zap.NewNop(), encoding: codec.EncodingUTF8}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *openConfig) arrayOptions() []array.Option {
	out := []array.Option{array.WithLogger(c.logger)}
	if c.eager {
		out = append(out, array.WithEagerFlush())
	}
	if len(c.docs) > 0 {
		out = append(out, array.WithDocuments(c.docs...))
	}
	return out
}

// Open connects to the configured backend, creating its collection, and
// returns the array.
func Open(ctx context.Context, opts ...Option) (*Array, error) {
	c := newOpenConfig(opts)
	return array.Open(ctx, factory.Open, c.kind, c.cfg, c.arrayOptions()...)
}

// Load reads a file written by Array.Save. Binary files reopen the backend
// they were saved from; JSON files use WithBackend and WithConfig.
func Load(ctx context.Context, path string, format Format, opts ...Option) (*Array, error) {
	c := newOpenConfig(opts)
	enc, err := codec.ParseTextEncoding(string(c.encoding))
	if err != nil {
		return nil, err
	}
	return array.Load(ctx, factory.Open, c.kind, c.cfg, path, format, enc, c.arrayOptions()...)
}

// FromBase64 decodes an Array.ToBase64 payload.
func FromBase64(ctx context.Context, s string, p Protocol, comp Compression, opts ...Option) (*Array, error) {
	c := newOpenConfig(opts)
	return array.FromBase64(ctx, s, p, comp, factory.Open, c.kind, c.cfg, c.arrayOptions()...)
}

// Pull restores the snapshot name from a directory of pushed snapshots.
func Pull(ctx context.Context, dir, name string, opts ...Option) (*Array, error) {
	c := newOpenConfig(opts)
	store, err := snapshot.NewFSStore(dir, c.logger)
	if err != nil {
		return nil, err
	}
	return array.Pull(ctx, store, name, factory.Open, c.kind, c.cfg, c.arrayOptions()...)
}

// Push stores a into a directory of snapshots under name.
func Push(ctx context.Context, a *Array, dir, name string) error {
	store, err := snapshot.NewFSStore(dir, nil)
	if err != nil {
		return err
	}
	return a.Push(ctx, store, name)
}
