// Package sqlite stores serialized documents in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

const memoryDSN = ":memory:"

var _ storage.Backend = (*Backend)(nil)

// Backend keeps one row per document and a companion offset table.
type Backend struct {
	mu     sync.RWMutex
	db     *sql.DB
	cfg    storage.Config
	body   storage.BodyCodec
	table  string
	meta   string
	logger *zap.Logger
}

// New opens cfg.Path (an in-memory database when empty) and recreates the
// tables. It accepts a nil config.
func New(ctx context.Context, cfg *storage.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := storage.Prepare(cfg, storage.KindSQLite, logger)
	body, err := storage.NewBodyCodec(&c)
	if err != nil {
		return nil, err
	}

	dsn := c.Path
	if dsn == "" {
		dsn = memoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	if dsn == memoryDSN {
		// each connection of an in-memory database sees its own schema
		db.SetMaxOpenConns(1)
	}

	b := &Backend{
		db:     db,
		cfg:    c,
		body:   body,
		table:  c.Name,
		meta:   storage.OffsetTableName(c.Name),
		logger: logger,
	}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("SQLite backend ready", zap.String("path", dsn), zap.String("table", b.table))
	return b, nil
}

func (b *Backend) createTables(ctx context.Context) error {
	stmts := []string{
		"DROP TABLE IF EXISTS " + b.table,
		"DROP TABLE IF EXISTS " + b.meta,
		"CREATE TABLE " + b.table + " (doc_id TEXT PRIMARY KEY, serialized_value BLOB NOT NULL)",
		"CREATE TABLE " + b.meta + ` ("offset" INTEGER PRIMARY KEY, doc_id TEXT NOT NULL)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init sqlite schema: %w: %w", domain.ErrIndexUnavailable, err)
		}
	}
	return nil
}

// conn returns the handle or ErrClosed. Callers hold mu.
func (b *Backend) conn() (*sql.DB, error) {
	if b.db == nil {
		return nil, storage.ErrClosed
	}
	return b.db, nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return storage.KindSQLite }

// Config implements storage.Backend.
func (b *Backend) Config() storage.Config { return b.cfg }

// DocIDExists implements storage.Backend.
func (b *Backend) DocIDExists(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM "+b.table+" WHERE doc_id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("doc exists %q: %w", id, err)
	}
	return true, nil
}

// BulkApply implements storage.Backend. All items run in one transaction;
// items that fail validation or encoding are skipped.
func (b *Backend) BulkApply(ctx context.Context, reqs []storage.Request) ([]batch.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx,
		"INSERT INTO "+b.table+" (doc_id, serialized_value) VALUES (?, ?) "+
			"ON CONFLICT(doc_id) DO UPDATE SET serialized_value = excluded.serialized_value")
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()
	del, err := tx.PrepareContext(ctx, "DELETE FROM "+b.table+" WHERE doc_id = ?")
	if err != nil {
		return nil, fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()

	results := make([]batch.Result, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		results[i] = b.apply(ctx, upsert, del, r)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return results, nil
}

func (b *Backend) apply(ctx context.Context, upsert, del *sql.Stmt, r *storage.Request) batch.Result {
	if err := storage.CheckRequest(r); err != nil {
		return batch.NewError(r.ID, err)
	}
	if r.Op == storage.OpDelete {
		if _, err := del.ExecContext(ctx, r.ID); err != nil {
			return batch.NewError(r.ID, fmt.Errorf("delete: %w", err))
		}
		return batch.NewOK(r.ID)
	}
	data, err := b.body.Encode(r.Doc)
	if err != nil {
		return batch.NewError(r.ID, err)
	}
	if _, err := upsert.ExecContext(ctx, r.ID, data); err != nil {
		return batch.NewError(r.ID, fmt.Errorf("%s: %w", r.Op, err))
	}
	return batch.NewOK(r.ID)
}

// GetDocs implements storage.Backend.
func (b *Backend) GetDocs(ctx context.Context, ids []string) ([]document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	stmt, err := db.PrepareContext(ctx, "SELECT serialized_value FROM "+b.table+" WHERE doc_id = ?")
	if err != nil {
		return nil, fmt.Errorf("prepare get: %w", err)
	}
	defer stmt.Close()

	out := make([]document.Document, len(ids))
	for i, id := range ids {
		var data []byte
		err := stmt.QueryRowContext(ctx, id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewIDError(id)
		}
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", id, err)
		}
		if out[i], err = b.body.Decode(data); err != nil {
			return nil, fmt.Errorf("decode %q: %w", id, err)
		}
	}
	return out, nil
}

// Refresh is a no-op; writes are visible once committed.
func (b *Backend) Refresh(context.Context) error { return nil }

// OffsetIDIndex implements storage.Backend.
func (b *Backend) OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT "offset", doc_id FROM `+b.meta+` ORDER BY "offset"`)
	if err != nil {
		return nil, fmt.Errorf("read offset meta: %w", err)
	}
	defer rows.Close()

	entries := []offsetid.Entry{}
	for rows.Next() {
		var e offsetid.Entry
		if err := rows.Scan(&e.Offset, &e.ID); err != nil {
			return nil, fmt.Errorf("scan offset meta: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read offset meta: %w", err)
	}
	return entries, nil
}

// UpdateOffsetIDMeta implements storage.Backend.
func (b *Backend) UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	db, err := b.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+b.meta); err != nil {
		return fmt.Errorf("clear offset meta: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+b.meta+` ("offset", doc_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare offset meta: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Offset, e.ID); err != nil {
			return fmt.Errorf("write offset %d: %w", e.Offset, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit offset meta: %w", err)
	}
	return nil
}

// Clear implements storage.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	db, err := b.conn()
	if err != nil {
		return err
	}
	for _, t := range []string{b.table, b.meta} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}

// Info implements storage.Backend.
func (b *Backend) Info() map[string]string {
	path := b.cfg.Path
	if path == "" {
		path = memoryDSN
	}
	info := map[string]string{
		"backend":   storage.KindSQLite,
		"name":      b.cfg.Name,
		"path":      path,
		"serialize": string(b.body.Protocol),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db != nil {
		var n int
		if err := b.db.QueryRow("SELECT COUNT(*) FROM " + b.table).Scan(&n); err == nil {
			info["documents"] = strconv.Itoa(n)
		}
	}
	return info
}

// Close releases the database. It is idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
