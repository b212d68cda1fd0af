package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/docarray/internal/db"
)

// HSet sets hash fields.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if err := s.do(ctx, s.hset(key, fields)).Error(); err != nil {
		return &db.Error{Op: db.OpHSet, Err: err}
	}
	return nil
}

// HGetAll returns all fields of a hash. A missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	cmd := s.b().Hgetall().Key(key).Build()
	m, err := s.do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, &db.Error{Op: db.OpHGetAll, Err: err}
	}
	return m, nil
}

// HGetAllMulti fetches all fields for multiple hashes in a single DoMulti round-trip.
func (s *Store) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hgetall().Key(key).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := make([]map[string]string, len(results))

	for i, res := range results {
		m, err := res.AsStrMap()
		if err != nil {
			return nil, &db.Error{Op: db.OpHGetAll, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		out[i] = m
	}

	return out, nil
}

// Del deletes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cmd := s.b().Del().Key(keys...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists checks if a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	cmd := s.b().Exists().Key(key).Build()
	count, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return count > 0, nil
}

// Scan iterates keys matching a pattern.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.b().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// BulkWrite pipelines HSET, HDEL and DEL commands in one DoMulti round-trip.
func (s *Store) BulkWrite(ctx context.Context, ops []db.WriteOp) []error {
	if len(ops) == 0 {
		return nil
	}

	// owner[j] is the op that cmds[j] belongs to
	cmds := make([]rueidis.Completed, 0, len(ops))
	owner := make([]int, 0, len(ops))
	names := make([]string, 0, len(ops))
	for i, op := range ops {
		switch {
		case op.Delete:
			cmds = append(cmds, s.b().Del().Key(op.Key).Build())
			names = append(names, db.OpDel)
		case len(op.Unset) > 0:
			cmds = append(cmds, s.b().Hdel().Key(op.Key).Field(op.Unset...).Build(), s.hset(op.Key, op.Fields))
			names = append(names, db.OpHDel, db.OpHSet)
			owner = append(owner, i)
		default:
			cmds = append(cmds, s.hset(op.Key, op.Fields))
			names = append(names, db.OpHSet)
		}
		owner = append(owner, i)
	}

	errs := make([]error, len(ops))
	for j, res := range s.client.DoMulti(ctx, cmds...) {
		i := owner[j]
		if err := res.Error(); err != nil && errs[i] == nil {
			errs[i] = &db.Error{Op: names[j], Err: fmt.Errorf("key %s: %w", ops[i].Key, err)}
		}
	}
	return errs
}

func (s *Store) hset(key string, fields map[string]string) rueidis.Completed {
	cmd := s.b().Hset().Key(key).FieldValue()
	for k, v := range fields {
		cmd = cmd.FieldValue(k, v)
	}
	return cmd.Build()
}
