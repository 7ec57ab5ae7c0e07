// Package batch splits item sets into bounded chunks, dispatches one concurrent operation per chunk and
// maps the settled outcomes back onto the original input values.
package batch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrorType classifies why an input value produced no usable entity.
type ErrorType string

const (
	// ErrorTypeDuplicate means the caller supplied the same lookup value more than once.
	ErrorTypeDuplicate ErrorType = "DUPLICATE"

	// ErrorTypeHTTP means the remote side answered with an error status.
	ErrorTypeHTTP ErrorType = "HTTP"

	// ErrorTypeInternal means a local failure happened while calling or extracting results.
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeNotFound means the remote side has no counterpart for the value.
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeUndefined means the failure reason had an unrecognised shape.
	ErrorTypeUndefined ErrorType = "UNDEFINED"

	// ErrorTypeValidation means the value failed local validation and was never sent.
	ErrorTypeValidation ErrorType = "VALIDATION"
)

// maxErrorBody bounds how much of an error response body is retained.
const maxErrorBody = 4096

// ByError stands in for an input value at the position where a successful result would otherwise be.
type ByError struct {
	// Reason is the underlying cause for HTTP, INTERNAL, UNDEFINED and VALIDATION errors.
	Reason error

	// Type is the failure classification.
	Type ErrorType

	// Value is the original input value.
	Value any
}

// Error implements error.
func (e *ByError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("%s %v: %v", e.Type, e.Value, e.Reason)
	}
	return fmt.Sprintf("%s %v", e.Type, e.Value)
}

// Is reports whether target is a *ByError of the same type.
func (e *ByError) Is(target error) bool {
	t, ok := target.(*ByError)
	return ok && t.Type == e.Type
}

// Unwrap returns the underlying cause.
func (e *ByError) Unwrap() error {
	return e.Reason
}

// HTTPError is a transport failure that carries the remote response status.
type HTTPError struct {
	// Body is the (possibly truncated) response body.
	Body string

	// Status is the reason phrase, e.g. "404 Not Found".
	Status string

	// StatusCode is the HTTP status code.
	StatusCode int
}

// Error implements error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPError builds an HTTPError from a response, reading at most a few kilobytes of its body.
func NewHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Body:       string(body),
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
	}
}

// UndefinedError wraps a recovered panic value that is not an error.
type UndefinedError struct {
	// Value is the recovered value.
	Value any
}

// Error implements error.
func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined failure: %v", e.Value)
}

// recovered converts a recovered panic value into an error.
func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("recovered panic: %w", err)
	}
	return &UndefinedError{Value: r}
}

// IsType reports whether err is, or wraps, a *ByError of the given type.
func IsType(err error, errType ErrorType) bool {
	return errors.Is(err, &ByError{Type: errType})
}
