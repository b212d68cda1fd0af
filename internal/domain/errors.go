package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals a missing or invalid backend configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrIndexUnavailable signals an offset/id index read without a live connection.
	ErrIndexUnavailable = errors.New("offset index unavailable")
	// ErrEmptyIndex signals a positional lookup in an index holding no entries.
	ErrEmptyIndex = errors.New("offset index is empty")
	// ErrNotFound signals a missing id or an offset out of range.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate document id.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument signals a malformed index, attribute or option.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSerialization signals a payload that fails the schema or version check.
	ErrSerialization = errors.New("serialization error")
)

// OffsetError reports an offset outside the collection bounds.
type OffsetError struct {
	Offset int
	Len    int
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset %d out of range [0, %d)", e.Offset, e.Len)
}

func (e *OffsetError) Unwrap() error { return ErrNotFound }

// NewOffsetError creates an out-of-range error for the given offset.
func NewOffsetError(offset, length int) error {
	return &OffsetError{Offset: offset, Len: length}
}

// IDError reports an unknown document id.
type IDError struct {
	ID string
}

func (e *IDError) Error() string {
	return fmt.Sprintf("document %q: %s", e.ID, ErrNotFound.Error())
}

func (e *IDError) Unwrap() error { return ErrNotFound }

// NewIDError creates a not-found error for the given id.
func NewIDError(id string) error {
	return &IDError{ID: id}
}
