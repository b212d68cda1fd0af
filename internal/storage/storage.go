// Package storage defines the contract every document backend satisfies.
package storage

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/batch"
	"github.com/kailas-cloud/docarray/internal/domain/document"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
)

// Op is a bulk mutation kind.
type Op int

const (
	// OpCreate stores a new document.
	OpCreate Op = iota
	// OpUpdate replaces an existing document body.
	OpUpdate
	// OpDelete removes a document by id.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Request is one item of a BulkApply call. Doc is ignored for OpDelete.
type Request struct {
	Op  Op
	ID  string
	Doc *document.Document
}

// Create builds an OpCreate request.
func Create(doc *document.Document) Request { return Request{Op: OpCreate, ID: doc.ID(), Doc: doc} }

// Update builds an OpUpdate request.
func Update(doc *document.Document) Request { return Request{Op: OpUpdate, ID: doc.ID(), Doc: doc} }

// Delete builds an OpDelete request.
func Delete(id string) Request { return Request{Op: OpDelete, ID: id} }

// Backend is a document store with a persisted offset/id mapping.
// Offsets are owned by the caller; backends persist what they are given.
//
//nolint:interfacebloat // one contract per engine, consumers hold the whole thing
type Backend interface {
	// Name identifies the backend kind, e.g. "sqlite".
	Name() string
	// Config returns the effective configuration after defaults and sanitizing.
	Config() Config
	// DocIDExists reports whether a body is stored under id. Missing ids are not errors.
	DocIDExists(ctx context.Context, id string) (bool, error)
	// BulkApply executes requests in order and returns one result per request.
	// Creates and updates both write the body; id uniqueness is the caller's
	// concern. Deleting a missing id succeeds. Item failures are reported in
	// results; the error is for transport failures.
	BulkApply(ctx context.Context, reqs []Request) ([]batch.Result, error)
	// GetDocs returns documents in the order of ids. Unknown ids fail with domain.ErrNotFound.
	GetDocs(ctx context.Context, ids []string) ([]document.Document, error)
	// Refresh makes prior writes visible to reads.
	Refresh(ctx context.Context) error
	// OffsetIDIndex returns the persisted mapping ordered by offset, empty when none is stored.
	OffsetIDIndex(ctx context.Context) ([]offsetid.Entry, error)
	// UpdateOffsetIDMeta replaces the persisted mapping.
	UpdateOffsetIDMeta(ctx context.Context, entries []offsetid.Entry) error
	// Clear removes every document and the mapping, keeping the schema.
	Clear(ctx context.Context) error
	// Info describes the connection and collection for display.
	Info() map[string]string
	// Close releases the connection. Later calls fail with domain.ErrIndexUnavailable.
	Close() error
}

// ErrClosed is returned by every call on a closed backend.
var ErrClosed = fmt.Errorf("backend closed: %w", domain.ErrIndexUnavailable)
