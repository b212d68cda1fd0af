// Package postgres stores documents in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

const defaultDatabase = "postgres"

var _ storage.Backend = (*Backend)(nil)

// Backend keeps documents in table <name> and offsets in <name>_offset2id.
type Backend struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	cfg    storage.Config
	body   storage.BodyCodec
	table  string
	meta   string
	logger *zap.Logger
}

// DSN returns cfg.DSN, or a URL assembled from host, port and credentials.
func DSN(cfg *storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     cfg.Address(),
		Path:     "/" + defaultDatabase,
		RawQuery: "sslmode=disable",
	}
	if cfg.Credentials != nil {
		u.User = url.UserPassword(cfg.Credentials.Username, cfg.Credentials.Password)
	}
	return u.String()
}

// New connects and recreates the tables.
func New(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, fmt.Errorf("postgres backend requires a config: %w", domain.ErrConfiguration)
	}
	c := storage.Prepare(cfg, storage.KindPostgres, logger)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body, err := storage.NewBodyCodec(&c)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(DSN(&c))
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w: %w", domain.ErrConfiguration, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w: %w", domain.ErrIndexUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w: %w", domain.ErrIndexUnavailable, err)
	}

	b := &Backend{
		pool:   pool,
		cfg:    c,
		body:   body,
		table:  pgx.Identifier{c.Name}.Sanitize(),
		meta:   pgx.Identifier{storage.OffsetTableName(c.Name)}.Sanitize(),
		logger: logger,
	}
	if err := b.createTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Postgres backend ready", zap.String("table", c.Name), zap.String("host", c.Address()))
	return b, nil
}

func (b *Backend) createTables(ctx context.Context) error {
	stmts := []string{
		"DROP TABLE IF EXISTS " + b.table,
		"DROP TABLE IF EXISTS " + b.meta,
		"CREATE TABLE " + b.table + " (doc_id TEXT PRIMARY KEY, embedding REAL[], body BYTEA NOT NULL)",
		"CREATE TABLE " + b.meta + ` ("offset" INTEGER PRIMARY KEY, doc_id TEXT NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := b.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}
	return nil
}

func (b *Backend) live() (*pgxpool.Pool, error) {
	if b.pool == nil {
		return nil, storage.ErrClosed
	}
	return b.pool, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindPostgres }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pool, err := b.live()
	if err != nil {
		return false, err
	}
	var exists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+b.table+" WHERE doc_id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("doc exists %q: %w", id, err)
	}
	return exists, nil
}

// BulkApply implements storage.Backend. Items run in one transaction, each
// under its own savepoint, so a rejected item rolls back alone and every OK
// result is committed.
func (b *Backend) BulkApply(ctx context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, err := b.live()
	if err != nil {
		return nil, err
	}

	upsert := "INSERT INTO " + b.table + " (doc_id, embedding, body) VALUES ($1, $2, $3) " +
		"ON CONFLICT (doc_id) DO UPDATE SET embedding = EXCLUDED.embedding, body = EXCLUDED.body"
	del := "DELETE FROM " + b.table + " WHERE doc_id = $1"

	type stmt struct {
		sql  string
		args []any
	}
	results := make([]batch.Result, len(reqs))
	stmts := make([]*stmt, len(reqs))
	pending := 0
	for i := range reqs {
		r := &reqs[i]
		if err := storage.CheckRequest(r); err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		if r.Op == storage.OpDelete {
			stmts[i] = &stmt{sql: del, args: []any{r.ID}}
			pending++
			continue
		}
		data, err := b.body.Encode(r.Doc)
		if err != nil {
			results[i] = batch.NewError(r.ID, err)
			continue
		}
		var emb []float32
		if r.Doc.HasEmbedding() {
			emb = r.Doc.Embedding
		}
		stmts[i] = &stmt{sql: upsert, args: []any{r.ID, emb, data}}
		pending++
	}
	if pending == 0 {
		return results, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulk apply: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, st := range stmts {
		if st == nil {
			continue
		}
		// a nested Begin is a savepoint
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("bulk apply: savepoint: %w", err)
		}
		if _, err := sp.Exec(ctx, st.sql, st.args...); err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return nil, fmt.Errorf("bulk apply: rollback savepoint: %w", rbErr)
			}
			results[i] = batch.NewError(reqs[i].ID, fmt.Errorf("%s: %w", reqs[i].Op, err))
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("bulk apply: release savepoint: %w", err)
		}
		results[i] = batch.NewOK(reqs[i].ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bulk apply: commit: %w", err)
	}
	return results, nil
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pool, err := b.live()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []document.Document{}, nil
	}

	rows, err := pool.Query(ctx, "SELECT doc_id, body FROM "+b.table+" WHERE doc_id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("get docs: %w", err)
	}
	bodies := make(map[string][]byte, len(ids))
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		bodies[id] = data
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get docs: %w", err)
	}

	out := make([]document.Document, len(ids))
	for i, id := range ids {
		data, ok := bodies[id]
		if !ok {
			return nil, domain.NewIDError(id)
		}
		if out[i], err = b.body.Decode(data); err != nil {
			return nil, fmt.Errorf("decode %q: %w", id, err)
		}
	}
	return out, nil
}

// Refresh is a no-op; committed rows are visible.
func (b *Backend) Refresh(context.Context) error { return nil }

// OffsetIDIndex implements storage.Backend.
func (b *Backend) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pool, err := b.live()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `SELECT "offset", doc_id FROM `+b.meta+` ORDER BY "offset"`)
	if err != nil {
		return nil, fmt.Errorf("read offset meta: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (offsetid.Entry, error) {
		var e offsetid.Entry
		err := row.Scan(&e.Offset, &e.ID)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("read offset meta: %w", err)
	}
	if entries == nil {
		entries = []offsetid.Entry{}
	}
	return entries, nil
}

// UpdateOffsetIDMeta implements storage.Backend using COPY inside one transaction.
func (b *Backend) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, err := b.live()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			b.logger.Warn("Offset meta rollback failed", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, "DELETE FROM "+b.meta); err != nil {
		return fmt.Errorf("clear offset meta: %w", err)
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{storage.OffsetTableName(b.cfg.Name)},
		[]string{"offset", "doc_id"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			return []any{int32(entries[i].Offset), entries[i].ID}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("write offset meta: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit offset meta: %w", err)
	}
	return nil
}

// Clear implements storage.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pool, err := b.live()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, "TRUNCATE "+b.table+", "+b.meta); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	info := map[string]string{
		"backend":   storage.KindPostgres,
		"name":      b.cfg.Name,
		"host":      b.cfg.Address(),
		"table":     b.cfg.Name,
		"n_dim":     strconv.Itoa(b.cfg.NDim),
		"serialize": string(b.body.Protocol),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.pool != nil {
		stat := b.pool.Stat()
		info["pool_total_conns"] = strconv.Itoa(int(stat.TotalConns()))
	}
	return info
}

// Close releases the pool. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}
