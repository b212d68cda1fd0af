package batch

import (
	"errors"
	"fmt"
)

// ItemStatus is the processing outcome of a single bulk request.
type ItemStatus string

// Bulk item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of applying one request of a bulk operation.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewError creates a failed result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the document identifier the request targeted.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// OK reports whether the request was applied.
func (r Result) OK() bool { return r.status == StatusOK }

// Failures returns the failed results, preserving order.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// Join folds every failed result into a single error; nil when all succeeded.
func Join(results []Result) error {
	var errs []error
	for _, r := range Failures(results) {
		err := r.err
		if err == nil {
			err = errors.New("unknown failure")
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.id, err))
	}
	return errors.Join(errs...)
}
