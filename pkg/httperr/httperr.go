// Package httperr attaches HTTP status codes to errors so handlers can
// return plain errors and let a single decorator translate them.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error carrying an HTTP status code.
type Error struct {
	Err  error
	Code int
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// WithCode wraps err with an HTTP status code.
func WithCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Code: code}
}

// New creates a coded error from a message.
func New(code int, format string, args ...any) error {
	return &Error{Err: fmt.Errorf(format, args...), Code: code}
}

// Code extracts the status code from err, defaulting to 500 for errors
// that carry none.
func Code(err error) int {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return http.StatusInternalServerError
}
