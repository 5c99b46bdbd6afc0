package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound signals that extraction or lookup produced nothing usable.
var ErrNotFound = errors.New("not found")

// ErrConflict signals a write that would violate a unique key.
var ErrConflict = errors.New("unique constraint violated")

// FetchError describes a failed HTTP exchange. It is always retryable through the queue.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure should feed the queue attempt counter.
func (e *FetchError) Retryable() bool {
	return true
}

// ParseError reports that a page did not contain a required element.
type ParseError struct {
	What string
	URL  string
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse %s: not found", e.What)
	}
	return fmt.Sprintf("parse %s at %s: not found", e.What, e.URL)
}

// Is lets errors.Is(err, ErrNotFound) match parse failures.
func (e *ParseError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError rejects operator input; it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is an operator input error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err means "nothing there".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFetch reports whether err came from the network layer.
func IsFetch(err error) bool {
	var f *FetchError
	return errors.As(err, &f)
}
