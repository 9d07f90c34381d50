// Package fserrors defines the closed error taxonomy shared by every driver
// in this module. Drivers never return a bare error at a package boundary;
// they return a DriverError built from one of the sentinels below.
package fserrors

import "fmt"

// FSError is a sentinel error value, comparable with ==  and with
// [errors.Is]. It mirrors the pattern disko/errors.DiskoError uses for its
// own errno-shaped sentinels.
type FSError string

func (e FSError) Error() string { return string(e) }

// WithMessage attaches additional context to a sentinel without losing its
// identity: errors.Is(result, e) still holds.
func (e FSError) WithMessage(message string) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", string(e), message),
		sentinel: e,
	}
}

// Wrap attaches an underlying error (usually from a block-I/O callback) to a
// sentinel, preserving both identities for errors.Is/errors.As.
func (e FSError) Wrap(err error) DriverError {
	if err == nil {
		return &wrappedError{message: string(e), sentinel: e}
	}
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", string(e), err.Error()),
		sentinel: e,
		cause:    err,
	}
}

// The closed error taxonomy. Every internal error returned by a driver is
// one of these, or one of these wrapped with more context.
const (
	ErrIoError           = FSError("I/O error")
	ErrCorruptFilesystem = FSError("corrupt filesystem")
	ErrOutOfMemory       = FSError("out of memory")
	ErrNotFound          = FSError("not found")
	ErrNotDirectory      = FSError("not a directory")
	ErrNotFile           = FSError("not a file")
	ErrNotEmpty          = FSError("directory not empty")
	ErrExists            = FSError("already exists")
	ErrNoSpace           = FSError("no space left on volume")
	ErrReadOnly          = FSError("read-only filesystem")
	ErrInvalidArgument   = FSError("invalid argument")
)

// DriverError is the interface every error returned across a package
// boundary in this module implements.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type wrappedError struct {
	message  string
	sentinel FSError
	cause    error
}

func (e *wrappedError) Error() string { return e.message }

func (e *wrappedError) WithMessage(message string) DriverError {
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", e.message, message),
		sentinel: e.sentinel,
		cause:    e,
	}
}

func (e *wrappedError) Wrap(err error) DriverError {
	if err == nil {
		return e
	}
	return &wrappedError{
		message:  fmt.Sprintf("%s: %s", e.message, err.Error()),
		sentinel: e.sentinel,
		cause:    err,
	}
}

// Unwrap first exposes the sentinel this error was built from so errors.Is
// matches against it, then falls back to any wrapped cause.
func (e *wrappedError) Unwrap() error {
	if e.cause != nil {
		return multiUnwrap{e.sentinel, e.cause}
	}
	return e.sentinel
}

// multiUnwrap lets errors.Is walk both the sentinel and the original cause
// without picking one over the other.
type multiUnwrap struct {
	sentinel FSError
	cause    error
}

func (m multiUnwrap) Error() string { return m.cause.Error() }

func (m multiUnwrap) Is(target error) bool {
	return m.sentinel == target
}

func (m multiUnwrap) Unwrap() error { return m.cause }
