package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StoreError.
type ErrorKind string

const (
	ErrorNotFound    ErrorKind = "not_found"
	ErrorConflict    ErrorKind = "conflict"
	ErrorUnavailable ErrorKind = "unavailable"
)

// StoreError is the RepositoryError used by backends that have no richer
// error type of their own.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

var _ RepositoryError = (*StoreError)(nil)

// NewNotFound reports a missing document.
func NewNotFound(op, id string) *StoreError {
	return &StoreError{Op: op, Kind: ErrorNotFound, Err: fmt.Errorf("%s not found", id)}
}

// NewConflict reports a write that collides with existing data.
func NewConflict(op, id string) *StoreError {
	return &StoreError{Op: op, Kind: ErrorConflict, Err: fmt.Errorf("%s already exists", id)}
}

// NewUnavailable wraps a backend failure that may succeed on retry.
func NewUnavailable(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: ErrorUnavailable, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == ErrorNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == ErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == ErrorUnavailable }

// IsNotFound reports whether err carries a not-found RepositoryError.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict RepositoryError.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable RepositoryError.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
