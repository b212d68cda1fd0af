// Package docarray is an ordered document collection whose storage can be a
// process-local map or an external engine (sqlite, redis, opensearch,
// qdrant, postgres) behind one interface.
//
//	docs, err := docarray.Open(ctx,
//		docarray.WithBackend("sqlite"),
//		docarray.WithConfig(&docarray.Config{Name: "articles", Path: "articles.db"}),
//	)
package docarray

import (
	"github.com/kailas-cloud/docarray/internal/array"
	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
	"github.com/kailas-cloud/docarray/internal/storage"
)

type (
	// Array is an ordered document collection over one backend.
	Array = array.Array
	// Document is one item of an Array.
	Document = document.Document
	// DocumentOption configures NewDocument.
	DocumentOption = document.Option
	// Config configures a backend.
	Config = storage.Config
	// Credentials is a username/password pair.
	Credentials = storage.Credentials
	// Serialize selects how bodies are encoded at rest.
	Serialize = storage.Serialize
	// Selector addresses documents of an Array.
	Selector = array.Selector
	// OffsetEntry pairs an offset with a document id.
	OffsetEntry = offsetid.Entry
	// Protocol is a serialization protocol.
	Protocol = codec.Protocol
	// Compression is a compression algorithm.
	Compression = codec.Compression
	// Format is the layout of a saved file.
	Format = array.Format
)

// Backend kinds accepted by WithBackend.
const (
	Memory     = storage.KindMemory
	SQLite     = storage.KindSQLite
	Redis      = storage.KindRedis
	OpenSearch = storage.KindOpenSearch
	Qdrant     = storage.KindQdrant
	Postgres   = storage.KindPostgres
)

// File formats.
const (
	FormatJSON   = array.FormatJSON
	FormatBinary = array.FormatBinary
)

// Serialization protocols.
const (
	Protobuf      = codec.ProtocolProtobuf
	Gob           = codec.ProtocolGob
	ProtobufArray = codec.ProtocolProtobufArray
	GobArray      = codec.ProtocolGobArray
	JSON          = codec.ProtocolJSON
)

// Compression algorithms.
const (
	CompressNone   = codec.CompressNone
	CompressLZ4    = codec.CompressLZ4
	CompressBZ2    = codec.CompressBZ2
	CompressLZMA   = codec.CompressLZMA
	CompressZlib   = codec.CompressZlib
	CompressGzip   = codec.CompressGzip
	CompressZstd   = codec.CompressZstd
	CompressSnappy = codec.CompressSnappy
)

// Errors returned by every operation; match with errors.Is.
var (
	ErrConfiguration    = domain.ErrConfiguration
	ErrIndexUnavailable = domain.ErrIndexUnavailable
	ErrEmptyIndex       = domain.ErrEmptyIndex
	ErrNotFound         = domain.ErrNotFound
	ErrAlreadyExists    = domain.ErrAlreadyExists
	ErrInvalidArgument  = domain.ErrInvalidArgument
	ErrSerialization    = domain.ErrSerialization
)

// NewDocument creates a Document with a random id unless DocID is given.
func NewDocument(opts ...DocumentOption) Document { return document.New(opts...) }

// DocID sets an explicit document id.
func DocID(id string) DocumentOption { return document.WithID(id) }

// DocText sets the text content.
func DocText(text string) DocumentOption { return document.WithText(text) }

// DocEmbedding sets the embedding vector.
func DocEmbedding(v []float32) DocumentOption { return document.WithEmbedding(v) }

// DocTags sets the tag mapping.
func DocTags(tags map[string]any) DocumentOption { return document.WithTags(tags) }

// Offset selects one document by position; negative counts from the end.
func Offset(i int) Selector { return array.Offset(i) }

// Offsets selects documents by position.
func Offsets(offsets ...int) Selector { return array.Offsets(offsets...) }

// ID selects one document by id.
func ID(id string) Selector { return array.ID(id) }

// IDs selects documents by id.
func IDs(ids ...string) Selector { return array.IDs(ids...) }

// Slice selects start, start+step, ... below stop.
func Slice(start, stop, step int) Selector { return array.Slice(start, stop, step) }

// Mask selects offsets whose flag is true.
func Mask(mask []bool) Selector { return array.Mask(mask) }

// All selects every document.
func All() Selector { return array.All() }
