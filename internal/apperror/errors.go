// Package apperror defines the error categories surfaced by the RAG pipeline
// and their mapping to HTTP status classes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category is the stable, user-visible error tag.
type Category string

const (
	CategoryValidation          Category = "validation"
	CategoryInsufficientContext Category = "insufficient_context"
	CategoryProviderUnavailable Category = "provider_unavailable"
	CategoryProviderCallFailed  Category = "provider_call_failed"
	CategoryUnknownProvider     Category = "unknown_provider"
	CategoryInternal            Category = "internal"
)

// Error is a categorized pipeline error. Provider and StatusCode are only
// set for errors raised at a provider boundary.
type Error struct {
	Category   Category
	Message    string
	Provider   string
	StatusCode int
	Err        error
}

// Sentinels for errors.Is. Matching is by category only.
var (
	ErrValidation          = &Error{Category: CategoryValidation}
	ErrInsufficientContext = &Error{Category: CategoryInsufficientContext}
	ErrProviderUnavailable = &Error{Category: CategoryProviderUnavailable}
	ErrProviderCallFailed  = &Error{Category: CategoryProviderCallFailed}
	ErrUnknownProvider     = &Error{Category: CategoryUnknownProvider}
	ErrInternal            = &Error{Category: CategoryInternal}
)

func (e *Error) Error() string {
	msg := string(e.Category)
	if e.Provider != "" {
		msg += " [" + e.Provider + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// HTTPStatus maps the category to its HTTP-equivalent status.
func (e *Error) HTTPStatus() int {
	switch e.Category {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryInsufficientContext:
		return http.StatusUnprocessableEntity
	case CategoryProviderUnavailable, CategoryProviderCallFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is safe to show to callers. It never includes wrapped
// errors or provider response bodies.
func (e *Error) PublicMessage() string {
	switch e.Category {
	case CategoryValidation, CategoryInsufficientContext:
		return e.Message
	case CategoryProviderUnavailable:
		return "the language model service is not configured"
	case CategoryProviderCallFailed:
		return "the language model service is temporarily unavailable"
	default:
		return "an internal error occurred"
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Category: CategoryValidation, Message: fmt.Sprintf(format, args...)}
}

func ProviderUnavailable(provider, message string) *Error {
	return &Error{Category: CategoryProviderUnavailable, Provider: provider, Message: message}
}

// ProviderCallFailed records a transport error or non-2xx response. body is
// the raw provider detail kept for diagnostics.
func ProviderCallFailed(provider string, statusCode int, body string, err error) *Error {
	return &Error{Category: CategoryProviderCallFailed, Provider: provider, StatusCode: statusCode, Message: body, Err: err}
}

// UnknownProvider names the requested backend and, when given, the registered ones.
func UnknownProvider(name string, known ...string) *Error {
	msg := fmt.Sprintf("no backend registered under %q", name)
	if len(known) > 0 {
		msg += " (available: " + strings.Join(known, ", ") + ")"
	}
	return &Error{Category: CategoryUnknownProvider, Provider: name, Message: msg}
}

func Internal(message string, err error) *Error {
	return &Error{Category: CategoryInternal, Message: message, Err: err}
}

// From returns err as an *Error, classifying anything uncategorized as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("unexpected failure", err)
}
