// Package apperrors defines the error taxonomy of a load run. Every failure
// wraps one of the sentinels below so callers can branch with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrConfig         = errors.New("invalid configuration")
	ErrFileNotFound   = errors.New("file not found")
	ErrIO             = errors.New("i/o error")
	ErrParse          = errors.New("csv parse error")
	ErrTransport      = errors.New("transport error")
	ErrIndexCreation  = errors.New("index creation failed")
	ErrDocumentInsert = errors.New("document insert failed")
)

// Error carries a sentinel plus the detail needed to report it. StatusCode
// and Body are only set for errors produced from an HTTP response.
type Error struct {
	Err        error
	Message    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s [%d] %s", e.Err.Error(), e.Message, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *Error {
	return &Error{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *Error {
	return &Error{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// FromResponse builds an error for a non-success HTTP response.
func FromResponse(sentinel error, message string, statusCode int, body string) *Error {
	return &Error{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
		Body:       body,
	}
}

// Wrap attaches a sentinel to an underlying cause, keeping both reachable
// through errors.Is.
func Wrap(sentinel error, err error, message string) error {
	return fmt.Errorf("%w: %w", New(sentinel, message), err)
}

// Fatal reports whether err should abort a run. Only document insert
// failures are recoverable.
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrDocumentInsert)
}

// ExitCode returns the process exit status: 0 for nil, 1 for any failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
