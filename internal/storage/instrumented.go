package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/metrics"
)

var _ Backend = (*Instrumented)(nil)

// Instrumented wraps a Backend with Prometheus metrics and debug logging.
type Instrumented struct {
	inner  Backend
	logger *zap.Logger
}

// NewInstrumented wraps inner. A nil logger disables logging.
func NewInstrumented(inner Backend, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{inner: inner, logger: logger.With(zap.String("backend", inner.Name()))}
}

// Unwrap returns the decorated backend.
func (b *Instrumented) Unwrap() Backend { return b.inner }

func (b *Instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		b.logger.Warn("Storage operation failed",
			zap.String("op", op),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
	name := b.inner.Name()
	metrics.StorageOperationsTotal.WithLabelValues(name, op, status).Inc()
	metrics.StorageOperationDuration.WithLabelValues(name, op).Observe(time.Since(start).Seconds())
}

// Name implements Backend.
func (b *Instrumented) Name() string { return b.inner.Name() }

// Config implements Backend.
func (b *Instrumented) Config() Config { return b.inner.Config() }

// DocIDExists implements Backend.
func (b *Instrumented) DocIDExists(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ok, err := b.inner.DocIDExists(ctx, id)
	b.observe("doc_id_exists", start, err)
	return ok, err
}

// BulkApply implements Backend and counts rejected items.
func (b *Instrumented) BulkApply(ctx context.Context, reqs []Request) ([]batch.Result, error) {
	start := time.Now()
	results, err := b.inner.BulkApply(ctx, reqs)
	b.observe("bulk_apply", start, err)
	if failed := len(batch.Failures(results)); failed > 0 {
		metrics.StorageItemErrorsTotal.WithLabelValues(b.inner.Name()).Add(float64(failed))
		b.logger.Debug("Bulk items rejected", zap.Int("failed", failed), zap.Int("total", len(reqs)))
	}
	return results, err
}

// GetDocs implements Backend.
func (b *Instrumented) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	start := time.Now()
	docs, err := b.inner.GetDocs(ctx, ids)
	b.observe("get_docs", start, err)
	return docs, err
}

// Refresh implements Backend.
func (b *Instrumented) Refresh(ctx context.Context) error {
	start := time.Now()
	err := b.inner.Refresh(ctx)
	b.observe("refresh", start, err)
	return err
}

// OffsetIDIndex implements Backend.
func (b *Instrumented) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	start := time.Now()
	entries, err := b.inner.OffsetIDIndex(ctx)
	b.observe("get_offset_id_index", start, err)
	return entries, err
}

// UpdateOffsetIDMeta implements Backend.
func (b *Instrumented) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	start := time.Now()
	err := b.inner.UpdateOffsetIDMeta(ctx, entries)
	b.observe("update_offset_id_meta", start, err)
	return err
}

// Clear implements Backend.
func (b *Instrumented) Clear(ctx context.Context) error {
	start := time.Now()
	err := b.inner.Clear(ctx)
	b.observe("clear", start, err)
	return err
}

// Info implements Backend.
func (b *Instrumented) Info() map[string]string { return b.inner.Info() }

// Close implements Backend.
func (b *Instrumented) Close() error {
	start := time.Now()
	err := b.inner.Close()
	b.observe("close", start, err)
	return err
}
