package apperror

import (
	"errors"
	"fmt"
)

// Error is the error type every layer above the repositories speaks.
// Details is rendered into the response envelope as is.
type Error struct {
	Code    Code
	Message string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ConflictDetails struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type RateLimitDetails struct {
	RetryAfter int64 `json:"retryAfter"`
	Limit      int64 `json:"limit"`
	Remaining  int64 `json:"remaining"`
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(message string, fields ...FieldError) *Error {
	e := New(CodeValidation, message)
	if len(fields) > 0 {
		e.Details = fields
	}
	return e
}

func Unauthenticated(message string) *Error {
	return New(CodeUnauthenticated, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Conflict(field, value string) *Error {
	e := New(CodeConflict, fmt.Sprintf("%s already exists", field))
	e.Details = ConflictDetails{Field: field, Value: value}
	return e
}

func RateLimited(retryAfter, limit, remaining int64) *Error {
	e := New(CodeRateLimited, "Too many requests, please try again later")
	e.Details = RateLimitDetails{RetryAfter: retryAfter, Limit: limit, Remaining: remaining}
	return e
}

func Internal(cause error) *Error {
	return Wrap(CodeInternal, "Internal Server Error", cause)
}

// As extracts an *Error from the chain. Anything else is reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
