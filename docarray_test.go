package docarray

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func sampleDocs(ids ...string) []Document {
	out := make([]Document, len(ids))
	for i, id := range ids {
		out[i] = NewDocument(DocID(id), DocText("text "+id), DocEmbedding([]float32{1, 2}))
	}
	return out
}

func TestOpen_DefaultsToMemory(t *testing.T) {
	a, err := Open(context.Background(), WithDocuments(sampleDocs("a", "b")...))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.Backend().Name() != Memory {
		t.Errorf("backend = %s, want memory", a.Backend().Name())
	}
	if a.Len() != 2 {
		t.Errorf("len = %d, want 2", a.Len())
	}
}

func TestOpen_SQLiteWithConfig(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Name: "articles", Path: filepath.Join(t.TempDir(), "a.db")}
	a, err := Open(ctx, WithBackend("SQLite"), WithConfig(cfg), WithEagerFlush())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = a.Close(ctx) }()

	if err := a.Extend(ctx, sampleDocs("x", "y")...); err != nil {
		t.Fatal(err)
	}
	entries, err := a.Backend().OffsetIDIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("eager flush: %d entries persisted", len(entries))
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), WithBackend("cassandra"))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestOpen_RemoteNeedsDimension(t *testing.T) {
	_, err := Open(context.Background(), WithBackend(Qdrant), WithConfig(&Config{}))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestSelectors(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, WithDocuments(sampleDocs("a", "b", "c", "d")...))
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Get(ctx, Slice(0, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID() != "a" || got[1].ID() != "c" {
		t.Errorf("slice: %v", got)
	}
	if _, err := a.Get(ctx, ID("ghost")); !errors.Is(err, ErrNotFound) {
		t.Errorf("ghost: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, WithDocuments(sampleDocs("a", "b")...))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	bin := filepath.Join(dir, "docs.bin")
	if err := a.Save(ctx, bin, FormatBinary, "utf-8"); err != nil {
		t.Fatal(err)
	}
	back, err := Load(ctx, bin, FormatBinary)
	if err != nil {
		t.Fatal(err)
	}
	if eq, err := a.Equal(ctx, back); err != nil || !eq {
		t.Errorf("binary round trip: eq=%v err=%v", eq, err)
	}

	js := filepath.Join(dir, "docs.json")
	if err := a.Save(ctx, js, FormatJSON, "cp1252"); err != nil {
		t.Fatal(err)
	}
	back, err = Load(ctx, js, FormatJSON, WithTextEncoding("windows-1252"))
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != 2 {
		t.Errorf("json round trip: len %d", back.Len())
	}

	if _, err := Load(ctx, js, FormatJSON, WithTextEncoding("ebcdic")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad encoding: %v", err)
	}
}

func TestBase64(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, WithDocuments(sampleDocs("a")...))
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.ToBase64(ctx, "protobuf-array", "gzip")
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromBase64(ctx, s, "protobuf-array", "gzip")
	if err != nil {
		t.Fatal(err)
	}
	if back.IDs()[0] != "a" {
		t.Errorf("ids: %v", back.IDs())
	}
}

func TestPushPull(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(ctx, WithDocuments(sampleDocs("a", "b")...))
	if err != nil {
		t.Fatal(err)
	}
	if err := Push(ctx, a, dir, "daily"); err != nil {
		t.Fatal(err)
	}
	back, err := Pull(ctx, dir, "daily")
	if err != nil {
		t.Fatal(err)
	}
	if eq, err := a.Equal(ctx, back); err != nil || !eq {
		t.Errorf("push/pull: eq=%v err=%v", eq, err)
	}
	if _, err := Pull(ctx, dir, "weekly"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing snapshot: %v", err)
	}
}
