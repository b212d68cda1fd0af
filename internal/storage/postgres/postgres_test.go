package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/storage"
	"github.com/kailas-cloud/docarray/internal/storage/storagetest"
)

// startPostgres runs a throwaway server and returns its DSN.
// Tests are skipped if no container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if testing.Short() {
		t.Skip("short mode")
	}

	ctx := context.Background()
	var container *pgmodule.PostgresContainer
	var err error
	func() {
		// testcontainers panics when no docker host can be resolved
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("container runtime: %v", r)
			}
		}()
		container, err = pgmodule.Run(ctx,
			"postgres:16-alpine",
			pgmodule.WithDatabase("docarray_test"),
			pgmodule.WithUsername("test"),
			pgmodule.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
	}()
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestBackendContract(t *testing.T) {
	dsn := startPostgres(t)
	var n atomic.Int32
	storagetest.Run(t, func(t *testing.T, nDim int) storage.Backend {
		cfg := &storage.Config{NDim: nDim, DSN: dsn, Name: fmt.Sprintf("docs_%d", n.Add(1))}
		b, err := New(context.Background(), cfg, zaptest.NewLogger(t))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("nil config: got %v", err)
	}
	_, err = New(context.Background(), &storage.Config{}, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("zero n_dim: got %v", err)
	}
}

func TestDSN(t *testing.T) {
	cfg := storage.Config{Host: "db", Port: 5433, Credentials: &storage.Credentials{Username: "u", Password: "p@ss"}}
	if got, want := DSN(&cfg), "postgres://u:p%40ss@db:5433/postgres?sslmode=disable"; got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	cfg.DSN = "postgres://override"
	if got := DSN(&cfg); got != "postgres://override" {
		t.Errorf("DSN override = %q", got)
	}
}

func TestBulkApply_RejectedItemKeepsOthers(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	b, err := New(ctx, &storage.Config{NDim: 3, DSN: dsn, Name: "partial"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	// TEXT columns reject NUL bytes
	a, bad, c := storagetest.Doc("a", 3, 1), storagetest.Doc("b\x00", 3, 2), storagetest.Doc("c", 3, 3)
	results, err := b.BulkApply(ctx, []storage.Request{storage.Create(&a), storage.Create(&bad), storage.Create(&c)})
	if err != nil {
		t.Fatalf("BulkApply: %v", err)
	}
	if !results[0].OK() || results[1].OK() || !results[2].OK() {
		t.Fatalf("results: %v %v %v", results[0].Err(), results[1].Err(), results[2].Err())
	}
	for _, id := range []string{"a", "c"} {
		ok, err := b.DocIDExists(ctx, id)
		if err != nil || !ok {
			t.Errorf("%s reported OK but exists=%v err=%v", id, ok, err)
		}
	}
}
