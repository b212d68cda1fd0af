// Package codec converts documents and collections to bytes and back.
package codec

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

// Protocol selects the wire format.
type Protocol string

// Supported protocols. The -array variants encode a collection as one message.
const (
	ProtocolProtobuf      Protocol = "protobuf"
	ProtocolGob           Protocol = "gob"
	ProtocolProtobufArray Protocol = "protobuf-array"
	ProtocolGobArray      Protocol = "gob-array"
	ProtocolJSON          Protocol = "json"
)

// DefaultProtocol is used for document bodies when none is configured.
const DefaultProtocol = ProtocolProtobuf

// Protocols lists every supported protocol.
func Protocols() []Protocol {
	return []Protocol{ProtocolProtobuf, ProtocolGob, ProtocolProtobufArray, ProtocolGobArray, ProtocolJSON}
}

// ParseProtocol validates s. An empty string selects DefaultProtocol.
func ParseProtocol(s string) (Protocol, error) {
	if s == "" {
		return DefaultProtocol, nil
	}
	p := Protocol(s)
	if !slices.Contains(Protocols(), p) {
		return "", fmt.Errorf("unknown protocol %q: %w", s, domain.ErrInvalidArgument)
	}
	return p, nil
}

// element returns the per-document protocol behind an array protocol.
func (p Protocol) element() Protocol {
	switch p {
	case ProtocolProtobufArray:
		return ProtocolProtobuf
	case ProtocolGobArray:
		return ProtocolGob
	}
	return p
}

// EncodeDocument serializes one document and compresses the result.
func EncodeDocument(doc *document.Document, p Protocol, c Compression) ([]byte, error) {
	raw, err := encodeRaw(doc, p.element())
	if err != nil {
		return nil, err
	}
	return Compress(raw, c)
}

// DecodeDocument reverses EncodeDocument.
func DecodeDocument(data []byte, p Protocol, c Compression) (document.Document, error) {
	raw, err := Decompress(data, c)
	if err != nil {
		return document.Document{}, err
	}
	return decodeRaw(raw, p.element())
}

func encodeRaw(doc *document.Document, p Protocol) ([]byte, error) {
	switch p {
	case ProtocolProtobuf:
		return marshalProto(doc)
	case ProtocolGob:
		return marshalGob(doc)
	case ProtocolJSON:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("json encode: %w: %w", domain.ErrSerialization, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown protocol %q: %w", p, domain.ErrInvalidArgument)
}

func decodeRaw(data []byte, p Protocol) (document.Document, error) {
	switch p {
	case ProtocolProtobuf:
		return unmarshalProto(data)
	case ProtocolGob:
		return unmarshalGob(data)
	case ProtocolJSON:
		var doc document.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return document.Document{}, fmt.Errorf("json decode: %w: %w", domain.ErrSerialization, err)
		}
		return doc, nil
	}
	return document.Document{}, fmt.Errorf("unknown protocol %q: %w", p, domain.ErrInvalidArgument)
}
