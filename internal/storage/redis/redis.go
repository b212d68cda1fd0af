// Package redis stores documents as Redis/Valkey hashes with an FT vector index.
package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/db"
	dbredis "github.com/kailas-cloud/docarray/internal/db/redis"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Hash fields written for every document.
const (
	FieldBody      = "__body"
	FieldEmbedding = "__embedding"
	FieldID        = "__id"
	FieldText      = "__text"
)

const readyTimeout = 5 * time.Second

// Store is the subset of db.Store the backend uses.
type Store interface {
	db.Pinger
	db.HashStore
	db.BulkWriter
	db.IndexManager
	Close()
}

var _ storage.Backend = (*Backend)(nil)

// Backend maps documents to hashes under <key_prefix><name>:.
type Backend struct {
	mu      sync.RWMutex
	store   Store
	cfg     storage.Config
	body    storage.BodyCodec
	prefix  string
	metaKey string
	logger  *zap.Logger
}

// New connects to cfg.Host:cfg.Port and recreates the index.
func New(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindRedis, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	rc := dbredis.Config{Addrs: []string{c.Address()}}
	if c.Credentials != nil {
		rc.Username = c.Credentials.Username
		rc.Password = c.Credentials.Password
	}
	st, err := dbredis.NewStore(rc)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w: %w", c.Address(), domain.ErrIndexUnavailable, err)
	}
	if err := st.WaitForReady(ctx, readyTimeout); err != nil {
		st.Close()
		return nil, fmt.Errorf("redis %s not ready: %w: %w", c.Address(), domain.ErrIndexUnavailable, err)
	}
	return NewWithStore(ctx, &c, st, logger)
}

// NewWithStore builds the backend over an existing store, recreating the
// index and removing previously stored documents.
func NewWithStore(ctx context.Context, cfg *storage.Config, st Store, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("redis backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindRedis, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := storage.NewBodyCodec(&c)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		store:   st,
		cfg:     c,
		body:    body,
		prefix:  c.KeyPrefix + c.Name + ":",
		metaKey: c.KeyPrefix + storage.OffsetTableName(c.Name),
		logger:  logger,
	}
	if err := b.recreate(ctx); err != nil {
		return nil, err
	}
	logger.Info("Redis backend ready",
		zap.String("index", c.Name),
		zap.String("prefix", b.prefix),
		zap.Int("n_dim", c.NDim),
	)
	return b, nil
}

func (b *Backend) recreate(ctx context.Context) error {
	exists, err := b.store.IndexExists(ctx, b.cfg.Name)
	if err != nil {
		return fmt.Errorf("index info %s: %w", b.cfg.Name, err)
	}
	if exists {
		if err := b.store.DropIndex(ctx, b.cfg.Name); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			return fmt.Errorf("drop index %s: %w", b.cfg.Name, err)
		}
	}
	if err := b.clear(ctx); err != nil {
		return err
	}
	ib := db.NewIndex(b.cfg.Name).Prefix(b.prefix).Text(FieldText)
	metric := distanceMetric(b.cfg.Distance)
	if strings.EqualFold(b.cfg.IndexAlgo, storage.IndexAlgoFlat) {
		ib = ib.VectorFlat(FieldEmbedding, b.cfg.NDim, metric)
	} else {
		ib = ib.VectorHNSW(FieldEmbedding, b.cfg.NDim, metric, 0, 0)
	}
	def, err := ib.Tag(FieldID).Build()
	if err != nil {
		return fmt.Errorf("index definition: %w: %w", domain.ErrConfiguration, err)
	}
	if err := b.store.CreateIndex(ctx, def); err != nil {
		return fmt.Errorf("create index %s: %w", b.cfg.Name, err)
	}
	return nil
}

func distanceMetric(d string) db.DistanceMetric {
	switch strings.ToLower(d) {
	case "l2", "euclidean":
		return db.DistanceL2
	case "ip", "dot":
		return db.DistanceIP
	}
	return db.DistanceCosine
}

func (b *Backend) key(id string) string { return b.prefix + id }

func (b *Backend) live() (Store, error) {
	if b.store == nil {
		return nil, storage.ErrClosed
	}
	return b.store, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindRedis }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, err := b.live()
	if err != nil {
		return false, err
	}
	ok, err := st.Exists(ctx, b.key(id))
	if err != nil {
		return false, fmt.Errorf("doc exists %q: %w", id, err)
	}
	return ok, nil
}

// BulkApply implements storage.Backend. Valid items are pipelined in one round-trip.
func (b *Backend) BulkApply(ctx context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.live()
	if err != nil {
		return nil, err
	}

	results := make([]batch.Result, len(reqs))
	ops := make([]db.WriteOp, 0, len(reqs))
	slots := make([]int, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		op, err := b.writeOp(r)
		if err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		ops = append(ops, op)
		slots = append(slots, i)
	}

	errs := st.BulkWrite(ctx, ops)
	for j, i := range slots {
		if j < len(errs) && errs[j] != nil {
			results[i] = batch.NewError(reqs[i].ID, errs[j])
			continue
		}
		results[i] = batch.NewOK(reqs[i].ID)
	}
	return results, nil
}

func (b *Backend) writeOp(r *storage.Request) (db.WriteOp, error) {
	if err := storage.CheckRequest(r); err != nil {
		return db.WriteOp{}, err
	}
	if r.Op == storage.OpDelete {
		return db.WriteOp{Key: b.key(r.ID), Delete: true}, nil
	}
	data, err := b.body.Encode(r.Doc)
	if err != nil {
		return db.WriteOp{}, err
	}
	op := db.WriteOp{Key: b.key(r.ID), Fields: map[string]string{FieldBody: string(data), FieldID: r.ID}}
	if r.Doc.Text != "" {
		op.Fields[FieldText] = r.Doc.Text
	} else {
		op.Unset = append(op.Unset, FieldText)
	}
	if r.Doc.HasEmbedding() {
		if len(r.Doc.Embedding) != b.cfg.NDim {
			return db.WriteOp{}, fmt.Errorf("embedding has %d dims, index has %d: %w",
				len(r.Doc.Embedding), b.cfg.NDim, domain.ErrInvalidArgument)
		}
		op.Fields[FieldEmbedding] = string(encodeVector(r.Doc.Embedding))
	} else {
		op.Unset = append(op.Unset, FieldEmbedding)
	}
	return op, nil
}

// encodeVector packs v as little-endian float32, the layout FT vector fields expect.
func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, err := b.live()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []document.Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.key(id)
	}
	hashes, err := st.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get docs: %w", err)
	}

	out := make([]document.Document, len(ids))
	for i, h := range hashes {
		data, ok := h[FieldBody]
		if !ok {
			return nil, domain.NewIDError(ids[i])
		}
		if out[i], err = b.body.Decode([]byte(data)); err != nil {
			return nil, fmt.Errorf("decode %q: %w", ids[i], err)
		}
	}
	return out, nil
}

// Refresh is a no-op; hash writes are visible immediately.
func (b *Backend) Refresh(context.Context) error { return nil }

// OffsetIDIndex implements storage.Backend.
func (b *Backend) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, err := b.live()
	if err != nil {
		return nil, err
	}

	h, err := st.HGetAll(ctx, b.metaKey)
	if err != nil {
		return nil, fmt.Errorf("read offset meta: %w", err)
	}
	entries := make([]offsetid.Entry, 0, len(h))
	for field, id := range h {
		off, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("offset field %q: %w: %w", field, domain.ErrSerialization, err)
		}
		entries = append(entries, offsetid.Entry{Offset: off, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries, nil
}

// UpdateOffsetIDMeta implements storage.Backend.
func (b *Backend) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.live()
	if err != nil {
		return err
	}

	ops := []db.WriteOp{{Key: b.metaKey, Delete: true}}
	if len(entries) > 0 {
		fields := make(map[string]string, len(entries))
		for _, e := range entries {
			fields[strconv.Itoa(e.Offset)] = e.ID
		}
		ops = append(ops, db.WriteOp{Key: b.metaKey, Fields: fields})
	}
	if err := errors.Join(st.BulkWrite(ctx, ops)...); err != nil {
		return fmt.Errorf("write offset meta: %w", err)
	}
	return nil
}

// Clear implements storage.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.live(); err != nil {
		return err
	}
	return b.clear(ctx)
}

func (b *Backend) clear(ctx context.Context) error {
	keys, err := b.store.Scan(ctx, b.prefix+"*")
	if err != nil {
		return fmt.Errorf("scan %s*: %w", b.prefix, err)
	}
	keys = append(keys, b.metaKey)
	if err := b.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("clear %s: %w", b.cfg.Name, err)
	}
	b.logger.Debug("Redis keys removed", zap.Int("count", len(keys)))
	return nil
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	return map[string]string{
		"backend":   storage.KindRedis,
		"name":      b.cfg.Name,
		"address":   b.cfg.Address(),
		"prefix":    b.prefix,
		"distance":  string(distanceMetric(b.cfg.Distance)),
		"n_dim":     strconv.Itoa(b.cfg.NDim),
		"serialize": string(b.body.Protocol),
	}
}

// Close releases the client. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil {
		b.store.Close()
		b.store = nil
	}
	return nil
}
