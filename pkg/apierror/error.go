// Package apierror defines the tagged-variant error type used across the
// provider: every domain failure carries a stable string code, an HTTP
// status, a human message, and optional target/details, collapsing what
// would otherwise be a class hierarchy into one discriminated struct.
package apierror

import (
	"errors"
	"net/http"
)

// Code is the stable machine-readable discriminant for an Error.
type Code string

const (
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeValidationError        Code = "VALIDATION_ERROR"
	CodeLocalDirectoryError    Code = "LOCAL_DIRECTORY_ERROR"
	CodeGithubAccessError      Code = "GITHUB_ACCESS_ERROR"
	CodeGithubFileNotFound     Code = "GITHUB_FILE_NOT_FOUND"
	CodeGithubDirNotFound      Code = "GITHUB_DIRECTORY_NOT_FOUND"
	CodeGithubNetworkError     Code = "GITHUB_NETWORK_ERROR"
	CodeDiskSpaceError         Code = "DISK_SPACE_ERROR"
	CodeMemoryError            Code = "MEMORY_ERROR"
	CodeTimeoutError           Code = "TIMEOUT_ERROR"
	CodeInternalServerError    Code = "INTERNAL_SERVER_ERROR"
)

// Detail is one structured item within Error.Details.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is the single tagged-variant error type for the whole server. It
// implements the standard error interface and knows its own HTTP mapping.
type Error struct {
	Code    Code
	Status  int
	Message string
	Target  string
	Details []Detail

	// Wrapped is the underlying cause, if any, for log context only — it is
	// never included in the client-facing envelope.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return e.Target + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

// HTTPStatus returns the status this error maps to. Pure function from
// discriminant to status, per the collapsed-hierarchy design.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return statusForCode(e.Code)
}

func statusForCode(c Code) int {
	switch c {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound, CodeGithubFileNotFound, CodeGithubDirNotFound:
		return http.StatusNotFound
	case CodeValidationError, CodeLocalDirectoryError:
		return http.StatusBadRequest
	case CodeGithubAccessError:
		return http.StatusForbidden
	case CodeGithubNetworkError, CodeTimeoutError:
		return http.StatusServiceUnavailable
	case CodeDiskSpaceError, CodeMemoryError:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON wire shape for error responses.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Target  string   `json:"target,omitempty"`
	Details []Detail `json:"details,omitempty"`
}

// ToEnvelope builds the wire representation of e.
func (e *Error) ToEnvelope() Envelope {
	return Envelope{Error: EnvelopeBody{
		Code:    e.Code,
		Message: e.Message,
		Target:  e.Target,
		Details: e.Details,
	}}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Wrapped: err}
}

func NotFound(message string) *Error        { return New(CodeNotFound, message) }
func Unauthorized(message string) *Error    { return New(CodeUnauthorized, message) }
func Validation(message string) *Error      { return New(CodeValidationError, message) }
func Timeout(message string) *Error         { return New(CodeTimeoutError, message) }
func Internal(err error) *Error             { return Wrap(CodeInternalServerError, err.Error(), err) }

// As reports whether err is (or wraps) an *Error, per the standard errors.As
// convention used throughout the handler layer to recover the discriminant.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
