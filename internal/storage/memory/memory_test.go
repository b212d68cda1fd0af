package memory

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

func TestBackendContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		b, err := New(context.Background(), &storage.Config{NDim: nDim}, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return b
	})
}

func TestNew_NilConfig(t *testing.T) {
	b, err := New(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := b.Config().Name; got != storage.DefaultName {
		t.Errorf("Name = %q, want %q", got, storage.DefaultName)
	}
}

func TestInfo_CountsDocuments(t *testing.T) {
	b, _ := New(context.Background(), nil, nil)
	d := storagetest.Doc("x", 2, 1)
	if _, err := b.BulkApply(context.Background(), []storage.Request{storage.Create(&d)}); err != nil {
		t.Fatalf("BulkApply: %v", err)
	}
	if got := b.Info()["documents"]; got != "1" {
		t.Errorf("documents = %q, want 1", got)
	}
}
