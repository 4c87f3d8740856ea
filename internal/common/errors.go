package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for expected conditions. Handlers map these onto HTTP
// status codes; anything else is treated as an internal error.
var (
	// ErrNotFound marks a lookup miss (unknown order, delivery, etc.).
	ErrNotFound = errors.New("not found")
	// ErrInvalidSignature marks a callback that failed authenticity checks.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrForbidden marks an authorization failure on an existing resource.
	ErrForbidden = errors.New("forbidden")
)

// StorageError wraps a persistence failure. Webhook handlers answer 5xx on
// StorageError so the gateway retries the callback later; everything else
// must not trigger gateway retries.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WrapStorage tags err as a storage failure. Returns nil when err is nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}
