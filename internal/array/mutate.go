package array

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Append stores doc at the end.
func (a *Array) Append(ctx context.Context, doc document.Document) error {
	return a.Extend(ctx, doc)
}

// Extend stores docs at the end in order. Ids already present, or repeated
// within docs, fail the call before anything is written. Documents the
// backend rejects are left out and reported in the returned error.
func (a *Array) Extend(ctx context.Context, docs ...document.Document) error {
	if err := a.check(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(docs))
	reqs := make([]storage.Request, len(docs))
	for i := range docs {
		id := docs[i].ID()
		if _, dup := seen[id]; dup || a.index.Contains(id) {
			return fmt.Errorf("document %q: %w", id, domain.ErrAlreadyExists)
		}
		seen[id] = struct{}{}
		reqs[i] = storage.Create(&docs[i])
	}

	results, err := a.backend.BulkApply(ctx, reqs)
	if err != nil {
		return fmt.Errorf("extend: %w", err)
	}
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if err := a.index.Append(r.ID()); err != nil {
			return fmt.Errorf("extend index: %w", err)
		}
	}
	if err := a.markDirty(ctx); err != nil {
		return err
	}
	return a.itemErrors("extend", results)
}

// Insert stores doc before offset k; k may equal Len() and negative values
// count from the end.
func (a *Array) Insert(ctx context.Context, k int, doc document.Document) error {
	if err := a.check(); err != nil {
		return err
	}
	n := a.index.Len()
	i := k
	if i < 0 {
		i += n
	}
	if i < 0 || i > n {
		return domain.NewOffsetError(k, n+1)
	}
	if a.index.Contains(doc.ID()) {
		return fmt.Errorf("document %q: %w", doc.ID(), domain.ErrAlreadyExists)
	}

	results, err := a.backend.BulkApply(ctx, []storage.Request{storage.Create(&doc)})
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if !results[0].OK() {
		return a.itemErrors("insert", results)
	}
	if err := a.index.Insert(i, doc.ID()); err != nil {
		return fmt.Errorf("insert index: %w", err)
	}
	return a.markDirty(ctx)
}

// Set replaces the selected documents with docs, one per selected offset.
// A replacement keeps the old id or brings an id that is not in the array.
func (a *Array) Set(ctx context.Context, sel Selector, docs ...document.Document) error {
	if err := a.check(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return errNoDocs
	}
	offsets, err := sel.resolve(a.index)
	if err != nil {
		return err
	}
	if len(offsets) != len(docs) {
		return fmt.Errorf("%d documents for %d offsets: %w", len(docs), len(offsets), domain.ErrInvalidArgument)
	}

	// writes[i] stores docs[i]; replaced[i] is the id it displaces, if any.
	writes := make([]storage.Request, len(docs))
	replaced := make([]string, len(docs))
	seenOffset := make(map[int]struct{}, len(offsets))
	seenID := make(map[string]struct{}, len(docs))
	for i, o := range offsets {
		if _, dup := seenOffset[o]; dup {
			return fmt.Errorf("offset %d selected twice: %w", o, domain.ErrInvalidArgument)
		}
		seenOffset[o] = struct{}{}
		id := docs[i].ID()
		if _, dup := seenID[id]; dup {
			return fmt.Errorf("document %q: %w", id, domain.ErrAlreadyExists)
		}
		seenID[id] = struct{}{}

		old, err := a.index.ID(o)
		if err != nil {
			return err
		}
		if old == id {
			writes[i] = storage.Update(&docs[i])
			continue
		}
		if a.index.Contains(id) {
			return fmt.Errorf("document %q: %w", id, domain.ErrAlreadyExists)
		}
		writes[i] = storage.Create(&docs[i])
		replaced[i] = old
	}

	// Old bodies are deleted only once their replacement is stored, so a
	// failed create leaves the offset pointing at a readable document.
	results, err := a.backend.BulkApply(ctx, writes)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	var deletes []storage.Request
	changed := false
	for i, o := range offsets {
		if !results[i].OK() || replaced[i] == "" {
			continue
		}
		if err := a.index.Set(o, docs[i].ID()); err != nil {
			return fmt.Errorf("set index: %w", err)
		}
		changed = true
		deletes = append(deletes, storage.Delete(replaced[i]))
	}
	if changed {
		if err := a.markDirty(ctx); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		removed, err := a.backend.BulkApply(ctx, deletes)
		if err != nil {
			return fmt.Errorf("set: remove replaced: %w", err)
		}
		results = append(results, removed...)
	}
	return a.itemErrors("set", results)
}

// SetAttribute writes field on every selected document. A single value is
// applied to all of them, otherwise values pair with the selection.
func (a *Array) SetAttribute(ctx context.Context, sel Selector, field string, values ...any) error {
	if len(values) == 0 {
		return fmt.Errorf("no value for %q: %w", field, domain.ErrInvalidArgument)
	}
	docs, err := a.Get(ctx, sel)
	if err != nil {
		return err
	}
	if len(values) != 1 && len(values) != len(docs) {
		return fmt.Errorf("%d values for %d documents: %w", len(values), len(docs), domain.ErrInvalidArgument)
	}

	reqs := make([]storage.Request, len(docs))
	for i := range docs {
		v := values[0]
		if len(values) > 1 {
			v = values[i]
		}
		if err := docs[i].SetAttribute(field, v); err != nil {
			return err
		}
		reqs[i] = storage.Update(&docs[i])
	}
	if len(reqs) == 0 {
		return nil
	}
	results, err := a.backend.BulkApply(ctx, reqs)
	if err != nil {
		return fmt.Errorf("set attribute: %w", err)
	}
	return a.itemErrors("set attribute", results)
}

// Delete removes the selected documents and renumbers the rest.
func (a *Array) Delete(ctx context.Context, sel Selector) error {
	if err := a.check(); err != nil {
		return err
	}
	offsets, err := sel.resolve(a.index)
	if err != nil {
		return err
	}
	if len(offsets) == 0 {
		return nil
	}

	reqs := make([]storage.Request, 0, len(offsets))
	byID := make(map[string]int, len(offsets))
	for _, o := range offsets {
		id, err := a.index.ID(o)
		if err != nil {
			return err
		}
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = o
		reqs = append(reqs, storage.Delete(id))
	}

	results, err := a.backend.BulkApply(ctx, reqs)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	var gone []int
	for _, r := range results {
		if r.OK() {
			gone = append(gone, byID[r.ID()])
		}
	}
	if _, err := a.index.Delete(gone...); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if len(gone) > 0 {
		if err := a.markDirty(ctx); err != nil {
			return err
		}
	}
	return a.itemErrors("delete", results)
}

// Clear removes every document and the persisted offset meta.
func (a *Array) Clear(ctx context.Context) error {
	if err := a.check(); err != nil {
		return err
	}
	if err := a.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	a.index.Clear()
	a.dirty = false
	a.observe()
	return nil
}

func (a *Array) itemErrors(op string, results []batch.Result) error {
	err := batch.Join(results)
	if err == nil {
		return nil
	}
	a.logger.Warn("Documents rejected by backend",
		zap.String("op", op),
		zap.Int("failed", len(batch.Failures(results))),
		zap.Int("total", len(results)),
	)
	return fmt.Errorf("%s: %w", op, err)
}
