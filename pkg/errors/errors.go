// Package errors provides structured error handling for the authentication
// core: typed error codes, error wrapping and HTTP status mapping.
//
// Codes fall into two families. Configuration codes describe programmer errors
// surfaced synchronously at registration time. Protocol codes describe
// adversarial or routine provider failures that are recovered into typed
// failure results and never thrown past a handler boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Configuration errors: fail fast at setup, never at request time.
	ErrCodeConfigInvalid   ErrorCode = "CONFIG_INVALID"
	ErrCodeSchemeDuplicate ErrorCode = "SCHEME_DUPLICATE"
	ErrCodeSchemeUnknown   ErrorCode = "SCHEME_UNKNOWN"

	// Remote authentication protocol errors.
	ErrCodeStateInvalid       ErrorCode = "STATE_INVALID"
	ErrCodeCorrelationFailed  ErrorCode = "CORRELATION_FAILED"
	ErrCodeProviderError      ErrorCode = "PROVIDER_ERROR"
	ErrCodeCodeMissing        ErrorCode = "AUTHORIZATION_CODE_MISSING"
	ErrCodeExchangeFailed     ErrorCode = "TOKEN_EXCHANGE_FAILED"
	ErrCodeAccessTokenMissing ErrorCode = "ACCESS_TOKEN_MISSING"
	ErrCodeUserInfoFailed     ErrorCode = "USER_INFO_FAILED"
	ErrCodeTicketRejected     ErrorCode = "TICKET_REJECTED"

	// Session / token errors.
	ErrCodeTicketInvalid  ErrorCode = "TICKET_INVALID"
	ErrCodeTicketExpired  ErrorCode = "TICKET_EXPIRED"
	ErrCodeTokenInvalid   ErrorCode = "TOKEN_INVALID"
	ErrCodeTokenExpired   ErrorCode = "TOKEN_EXPIRED"
	ErrCodeMetadataFailed ErrorCode = "METADATA_FAILED"
)

// Error represents a structured error with code, message and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with code and message. Returns nil when err is
// nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Wrapf wraps an existing error with code and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsCode checks whether an error carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, defaulting to
// ErrCodeInternal for unstructured errors.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes.
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized, ErrCodeStateInvalid, ErrCodeCorrelationFailed,
		ErrCodeCodeMissing, ErrCodeAccessTokenMissing, ErrCodeTicketInvalid,
		ErrCodeTicketExpired, ErrCodeTokenInvalid, ErrCodeTokenExpired,
		ErrCodeTicketRejected:
		return http.StatusUnauthorized

	case ErrCodeForbidden, ErrCodeProviderError:
		return http.StatusForbidden

	case ErrCodeExchangeFailed, ErrCodeUserInfoFailed, ErrCodeMetadataFailed:
		return http.StatusBadGateway

	case ErrCodeConfigInvalid, ErrCodeSchemeDuplicate, ErrCodeSchemeUnknown,
		ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}
