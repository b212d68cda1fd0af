package array

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/snapshot"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Format is the layout of a saved file.
type Format string

// Supported file formats.
const (
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
)

// ParseFormat validates s. An empty string selects FormatBinary.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatBinary:
		return FormatBinary, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown file format %q: %w", s, domain.ErrInvalidArgument)
}

// Binary files and snapshots are gob-array payloads, so they carry the
// backend identity with them.
const (
	fileProtocol     = codec.ProtocolGobArray
	snapshotProtocol = codec.ProtocolGobArray
	snapshotCompress = codec.CompressZstd
)

// ToBytes serializes every document with p and c. gob-array payloads also
// embed the backend name and configuration, without credentials.
func (a *Array) ToBytes(ctx context.Context, p codec.Protocol, c codec.Compression) ([]byte, error) {
	if err := a.Flush(ctx); err != nil {
		return nil, err
	}
	docs, err := a.Docs(ctx)
	if err != nil {
		return nil, err
	}
	var env codec.Envelope
	if p == codec.ProtocolGobArray {
		cfg := a.backend.Config().Redacted()
		raw, err := storage.MarshalConfig(&cfg)
		if err != nil {
			return nil, err
		}
		env = codec.Envelope{Backend: a.backend.Name(), Config: raw}
	}
	return codec.EncodeCollection(docs, p, c, env)
}

// FromBytes decodes data into a new array opened with open. When the payload
// embeds a backend identity it replaces kind and cfg, keeping the
// credentials and DSN of cfg.
func FromBytes(
	ctx context.Context, data []byte, p codec.Protocol, c codec.Compression,
	open Opener, kind string, cfg *storage.Config, opts ...Option,
) (*Array, error) {
	docs, env, err := codec.DecodeCollection(data, p, c)
	if err != nil {
		return nil, err
	}
	if env.Backend != "" {
		embedded, err := storage.UnmarshalConfig(env.Config)
		if err != nil {
			return nil, err
		}
		embedded = embedded.WithSecretsFrom(cfg)
		kind, cfg = env.Backend, &embedded
	}
	return Open(ctx, open, kind, cfg, append(opts, WithDocuments(docs...))...)
}

// ToBase64 is ToBytes in standard base64.
func (a *Array) ToBase64(ctx context.Context, p codec.Protocol, c codec.Compression) (string, error) {
	b, err := a.ToBytes(ctx, p, c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// FromBase64 reverses ToBase64.
func FromBase64(
	ctx context.Context, s string, p codec.Protocol, c codec.Compression,
	open Opener, kind string, cfg *storage.Config, opts ...Option,
) (*Array, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w: %w", domain.ErrSerialization, err)
	}
	return FromBytes(ctx, b, p, c, open, kind, cfg, opts...)
}

// Save writes the array to path. JSON files hold a document list in enc;
// binary files are uncompressed gob-array payloads and ignore enc.
func (a *Array) Save(ctx context.Context, path string, format Format, enc codec.TextEncoding) error {
	var data []byte
	switch format {
	case FormatJSON:
		if err := a.Flush(ctx); err != nil {
			return err
		}
		docs, err := a.Docs(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(docs)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		if data, err = codec.EncodeText(raw, enc); err != nil {
			return err
		}
	case FormatBinary:
		var err error
		if data, err = a.ToBytes(ctx, fileProtocol, codec.CompressNone); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown file format %q: %w", format, domain.ErrInvalidArgument)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Load reads a file written by Save into a new array. Binary files reopen
// the backend they were saved from.
func Load(
	ctx context.Context, open Opener, kind string, cfg *storage.Config,
	path string, format Format, enc codec.TextEncoding, opts ...Option,
) (*Array, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	switch format {
	case FormatJSON:
		raw, err := codec.DecodeText(data, enc)
		if err != nil {
			return nil, err
		}
		var docs []document.Document
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("decode json: %w: %w", domain.ErrSerialization, err)
		}
		return Open(ctx, open, kind, cfg, append(opts, WithDocuments(docs...))...)
	case FormatBinary:
		return FromBytes(ctx, data, fileProtocol, codec.CompressNone, open, kind, cfg, opts...)
	}
	return nil, fmt.Errorf("unknown file format %q: %w", format, domain.ErrInvalidArgument)
}

// Push stores the array in store under name.
func (a *Array) Push(ctx context.Context, store snapshot.Store, name string) error {
	data, err := a.ToBytes(ctx, snapshotProtocol, snapshotCompress)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("push %q: %w", name, err)
	}
	a.logger.Info("Array pushed", zap.String("snapshot", name), zap.Int("documents", a.Len()))
	return nil
}

// Pull restores the snapshot name from store. Like FromBytes, the backend
// recorded in the snapshot wins over kind and cfg.
func Pull(
	ctx context.Context, store snapshot.Store, name string,
	open Opener, kind string, cfg *storage.Config, opts ...Option,
) (*Array, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("pull %q: %w", name, err)
	}
	return FromBytes(ctx, data, snapshotProtocol, snapshotCompress, open, kind, cfg, opts...)
}
