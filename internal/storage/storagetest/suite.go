// Package storagetest holds a behavioural suite every storage.Backend must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Factory opens a fresh, empty backend with the given vector dimension.
type Factory func(t *testing.T, nDim int) storage.Backend

// Doc builds a document with text, tags and an nDim embedding derived from seed.
func Doc(id string, nDim int, seed float32) document.Document {
	emb := make([]float32, nDim)
	for i := range emb {
		emb[i] = seed + float32(i)
	}
	return document.New(
		document.WithID(id),
		document.WithText("text "+id),
		document.WithEmbedding(emb),
		document.WithTags(map[string]any{"id": id, "seed": float64(seed)}),
	)
}

// Run exercises the whole contract against backends produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	const nDim = 3
	ctx := context.Background()

	t.Run("FreshIndexIsEmpty", func(t *testing.T) {
		b := open(t, nDim)
		entries, err := b.OffsetIDIndex(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("CreateGetDelete", func(t *testing.T) {
		b := open(t, nDim)
		d1, d2 := Doc("a", nDim, 1), Doc("b", nDim, 2)

		results, err := b.BulkApply(ctx, []storage.Request{storage.Create(&d1), storage.Create(&d2)})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.True(t, r.OK(), "%s: %v", r.ID(), r.Err())
		}
		require.NoError(t, b.Refresh(ctx))

		ok, err := b.DocIDExists(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = b.DocIDExists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		docs, err := b.GetDocs(ctx, []string{"b", "a"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.True(t, docs[0].Equal(&d2), "got %+v", docs[0])
		assert.True(t, docs[1].Equal(&d1), "got %+v", docs[1])

		results, err = b.BulkApply(ctx, []storage.Request{storage.Delete("a"), storage.Delete("never-stored")})
		require.NoError(t, err)
		for _, r := range results {
			assert.True(t, r.OK(), "%s: %v", r.ID(), r.Err())
		}
		require.NoError(t, b.Refresh(ctx))

		ok, err = b.DocIDExists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateReplacesBody", func(t *testing.T) {
		b := open(t, nDim)
		d := Doc("u", nDim, 1)
		_, err := b.BulkApply(ctx, []storage.Request{storage.Create(&d)})
		require.NoError(t, err)

		d.Text = "changed"
		d.Tags = nil
		results, err := b.BulkApply(ctx, []storage.Request{storage.Update(&d)})
		require.NoError(t, err)
		require.True(t, results[0].OK(), "%v", results[0].Err())
		require.NoError(t, b.Refresh(ctx))

		docs, err := b.GetDocs(ctx, []string{"u"})
		require.NoError(t, err)
		assert.Equal(t, "changed", docs[0].Text)
		assert.Empty(t, docs[0].Tags)
	})

	t.Run("BackendDoesNotAliasCaller", func(t *testing.T) {
		b := open(t, nDim)
		d := Doc("alias", nDim, 1)
		_, err := b.BulkApply(ctx, []storage.Request{storage.Create(&d)})
		require.NoError(t, err)
		d.Embedding[0] = 99

		docs, err := b.GetDocs(ctx, []string{"alias"})
		require.NoError(t, err)
		assert.InDelta(t, 1, docs[0].Embedding[0], 1e-6)
	})

	t.Run("GetUnknownID", func(t *testing.T) {
		b := open(t, nDim)
		_, err := b.GetDocs(ctx, []string{"ghost"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("InvalidRequestIsItemError", func(t *testing.T) {
		b := open(t, nDim)
		d := Doc("ok", nDim, 1)
		results, err := b.BulkApply(ctx, []storage.Request{
			{Op: storage.OpCreate, ID: "no-doc"},
			storage.Create(&d),
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.ErrorIs(t, results[0].Err(), domain.ErrInvalidArgument)
		assert.True(t, results[1].OK(), "%v", results[1].Err())
	})

	t.Run("OffsetMetaRoundTrip", func(t *testing.T) {
		b := open(t, nDim)
		want := []offsetid.Entry{{Offset: 0, ID: "x"}, {Offset: 1, ID: "y"}, {Offset: 2, ID: "z"}}
		require.NoError(t, b.UpdateOffsetIDMeta(ctx, want))
		got, err := b.OffsetIDIndex(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		shorter := []offsetid.Entry{{Offset: 0, ID: "z"}}
		require.NoError(t, b.UpdateOffsetIDMeta(ctx, shorter))
		got, err = b.OffsetIDIndex(ctx)
		require.NoError(t, err)
		assert.Equal(t, shorter, got)

		require.NoError(t, b.UpdateOffsetIDMeta(ctx, nil))
		got, err = b.OffsetIDIndex(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ClearRemovesEverything", func(t *testing.T) {
		b := open(t, nDim)
		d := Doc("c", nDim, 1)
		_, err := b.BulkApply(ctx, []storage.Request{storage.Create(&d)})
		require.NoError(t, err)
		require.NoError(t, b.UpdateOffsetIDMeta(ctx, []offsetid.Entry{{Offset: 0, ID: "c"}}))

		require.NoError(t, b.Clear(ctx))
		require.NoError(t, b.Refresh(ctx))

		ok, err := b.DocIDExists(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)
		entries, err := b.OffsetIDIndex(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("ClosedIsUnavailable", func(t *testing.T) {
		b := open(t, nDim)
		require.NoError(t, b.Close())
		_, err := b.OffsetIDIndex(ctx)
		assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
		assert.NoError(t, b.Close())
	})

	t.Run("Info", func(t *testing.T) {
		b := open(t, nDim)
		info := b.Info()
		assert.Equal(t, b.Name(), info["backend"])
		assert.Equal(t, b.Config().Name, info["name"])
	})
}
