package storage

import (
	"fmt"

	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

// BodyCodec encodes document bodies with the configured protocol and compression.
type BodyCodec struct {
	Protocol codec.Protocol
	Compress codec.Compression
}

// NewBodyCodec parses cfg.Serialize.
func NewBodyCodec(cfg *Config) (BodyCodec, error) {
	p, c, err := cfg.Codec()
	if err != nil {
		return BodyCodec{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return BodyCodec{Protocol: p, Compress: c}, nil
}

// Encode serializes doc.
func (b BodyCodec) Encode(doc *document.Document) ([]byte, error) {
	return codec.EncodeDocument(doc, b.Protocol, b.Compress)
}

// Decode deserializes a stored body.
func (b BodyCodec) Decode(data []byte) (document.Document, error) {
	return codec.DecodeDocument(data, b.Protocol, b.Compress)
}

// CheckRequest rejects requests that no backend can execute.
func CheckRequest(r *Request) error {
	if r.ID == "" {
		return fmt.Errorf("request without id: %w", domain.ErrInvalidArgument)
	}
	switch r.Op {
	case OpCreate, OpUpdate:
		if r.Doc == nil {
			return fmt.Errorf("%s %q without document: %w", r.Op, r.ID, domain.ErrInvalidArgument)
		}
		if r.Doc.ID() != r.ID {
			return fmt.Errorf("%s %q carries document %q: %w", r.Op, r.ID, r.Doc.ID(), domain.ErrInvalidArgument)
		}
	case OpDelete:
	default:
		return fmt.Errorf("unknown op %d: %w", r.Op, domain.ErrInvalidArgument)
	}
	return nil
}
