package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
)

// Version is the collection payload format version.
const Version byte = 1

var magic = [2]byte{'D', 'A'}

// HeaderSize is the length of the magic and version prefix.
const HeaderSize = 3

// maxPrealloc bounds the slice capacity taken from an untrusted count.
const maxPrealloc = 1024

// Envelope carries the storage identity that gob-array payloads embed.
type Envelope struct {
	Backend string
	Config  []byte
}

type gobCollection struct {
	Backend string
	Config  []byte
	Docs    []gobDocument
}

// EncodeCollection serializes docs as one payload: header, then the
// compressed body. env is written only by ProtocolGobArray.
func EncodeCollection(docs []document.Document, p Protocol, c Compression, env Envelope) ([]byte, error) {
	body, err := encodeBody(docs, p, env)
	if err != nil {
		return nil, err
	}
	packed, err := Compress(body, c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, HeaderSize+len(packed))
	out = append(out, magic[0], magic[1], Version)
	return append(out, packed...), nil
}

// DecodeCollection reverses EncodeCollection. A wrong magic or version, or a
// malformed body, fails with ErrSerialization.
func DecodeCollection(data []byte, p Protocol, c Compression) ([]document.Document, Envelope, error) {
	if len(data) < HeaderSize || data[0] != magic[0] || data[1] != magic[1] {
		return nil, Envelope{}, fmt.Errorf("missing collection header: %w", domain.ErrSerialization)
	}
	if data[2] != Version {
		return nil, Envelope{}, fmt.Errorf("unsupported payload version %d: %w", data[2], domain.ErrSerialization)
	}
	body, err := Decompress(data[HeaderSize:], c)
	if err != nil {
		return nil, Envelope{}, err
	}
	return decodeBody(body, p)
}

func encodeBody(docs []document.Document, p Protocol, env Envelope) ([]byte, error) {
	switch p {
	case ProtocolProtobuf, ProtocolGob:
		// Stream: uvarint count, then length-prefixed documents.
		b := binary.AppendUvarint(nil, uint64(len(docs)))
		for i := range docs {
			raw, err := encodeRaw(&docs[i], p)
			if err != nil {
				return nil, err
			}
			b = binary.AppendUvarint(b, uint64(len(raw)))
			b = append(b, raw...)
		}
		return b, nil

	case ProtocolProtobufArray:
		var b []byte
		for i := range docs {
			raw, err := marshalProto(&docs[i])
			if err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, 1, protowire.BytesType)
			b = protowire.AppendBytes(b, raw)
		}
		return b, nil

	case ProtocolGobArray:
		coll := gobCollection{Backend: env.Backend, Config: env.Config, Docs: make([]gobDocument, len(docs))}
		for i := range docs {
			coll.Docs[i] = toGob(&docs[i])
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(&coll); err != nil {
			return nil, fmt.Errorf("gob encode: %w: %w", domain.ErrSerialization, err)
		}
		return buf.Bytes(), nil

	case ProtocolJSON:
		if docs == nil {
			docs = []document.Document{}
		}
		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("json encode: %w: %w", domain.ErrSerialization, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown protocol %q: %w", p, domain.ErrInvalidArgument)
}

func decodeBody(b []byte, p Protocol) ([]document.Document, Envelope, error) {
	switch p {
	case ProtocolProtobuf, ProtocolGob:
		n, k := binary.Uvarint(b)
		if k <= 0 || n > uint64(len(b)) {
			return nil, Envelope{}, fmt.Errorf("bad document count: %w", domain.ErrSerialization)
		}
		b = b[k:]
		docs := make([]document.Document, 0, min(n, maxPrealloc))
		for i := uint64(0); i < n; i++ {
			size, k := binary.Uvarint(b)
			if k <= 0 || size > uint64(len(b)-k) {
				return nil, Envelope{}, fmt.Errorf("truncated document %d: %w", i, domain.ErrSerialization)
			}
			doc, err := decodeRaw(b[k:k+int(size)], p)
			if err != nil {
				return nil, Envelope{}, err
			}
			docs = append(docs, doc)
			b = b[k+int(size):]
		}
		if len(b) != 0 {
			return nil, Envelope{}, fmt.Errorf("%d trailing bytes: %w", len(b), domain.ErrSerialization)
		}
		return docs, Envelope{}, nil

	case ProtocolProtobufArray:
		var docs []document.Document
		for len(b) > 0 {
			num, typ, n := protowire.ConsumeTag(b)
			if n < 0 {
				return nil, Envelope{}, protoErr(n)
			}
			b = b[n:]
			if num != 1 || typ != protowire.BytesType {
				n = protowire.ConsumeFieldValue(num, typ, b)
				if n < 0 {
					return nil, Envelope{}, protoErr(n)
				}
				b = b[n:]
				continue
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, Envelope{}, protoErr(n)
			}
			b = b[n:]
			doc, err := unmarshalProto(raw)
			if err != nil {
				return nil, Envelope{}, err
			}
			docs = append(docs, doc)
		}
		return docs, Envelope{}, nil

	case ProtocolGobArray:
		var coll gobCollection
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&coll); err != nil {
			return nil, Envelope{}, fmt.Errorf("gob decode: %w: %w", domain.ErrSerialization, err)
		}
		docs := make([]document.Document, len(coll.Docs))
		for i := range coll.Docs {
			doc, err := fromGob(&coll.Docs[i])
			if err != nil {
				return nil, Envelope{}, err
			}
			docs[i] = doc
		}
		return docs, Envelope{Backend: coll.Backend, Config: coll.Config}, nil

	case ProtocolJSON:
		var docs []document.Document
		if err := json.Unmarshal(b, &docs); err != nil {
			return nil, Envelope{}, fmt.Errorf("json decode: %w: %w", domain.ErrSerialization, err)
		}
		return docs, Envelope{}, nil
	}
	return nil, Envelope{}, fmt.Errorf("unknown protocol %q: %w", p, domain.ErrInvalidArgument)
}
