// Package tmwserr defines the stable error taxonomy carried across every
// component boundary and onto the wire as error.code, per the server's
// error handling design.
package tmwserr

import (
	"errors"
	"fmt"
)

// Code is a stable wire identifier for an error kind.
type Code string

const (
	CodeValidation    Code = "ErrValidation"
	CodePermission    Code = "ErrPermission"
	CodeRateLimited   Code = "ErrRateLimited"
	CodeNotFound      Code = "ErrNotFound"
	CodeNameConflict  Code = "ErrNameConflict"
	CodeDuplicateID   Code = "ErrDuplicateId"
	CodeUnknownAgent  Code = "ErrUnknownAgent"
	CodeUnknownTool   Code = "ErrUnknownTool"
	CodeEmbedder      Code = "ErrEmbedder"
	CodeStorage       Code = "ErrStorage"
	CodeTimeout       Code = "ErrTimeout"
	CodeInternal      Code = "ErrInternal"
)

// Error is the concrete type behind every sentinel below. Handlers should
// match kinds with errors.Is against the sentinels, never by comparing
// strings.
type Error struct {
	code    Code
	message string
	// RetryAfterSeconds is only meaningful on CodeRateLimited.
	RetryAfterSeconds int
	wrapped           error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the stable wire identifier for this error.
func (e *Error) Code() string { return string(e.code) }

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is(err, ErrValidation) match any *Error sharing the same
// code, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

func newBase(code Code, msg string) *Error {
	return &Error{code: code, message: msg}
}

// Sentinels to compare against with errors.Is. Their message fields are
// placeholders; construct an instance with the helpers below (Validation,
// Permission, NotFound, ...) to carry a real message.
var (
	ErrValidation   = newBase(CodeValidation, "validation failed")
	ErrPermission   = newBase(CodePermission, "permission denied")
	ErrRateLimited  = newBase(CodeRateLimited, "rate limited")
	ErrNotFound     = newBase(CodeNotFound, "not found")
	ErrNameConflict = newBase(CodeNameConflict, "name conflict")
	ErrDuplicateID  = newBase(CodeDuplicateID, "duplicate id")
	ErrUnknownAgent = newBase(CodeUnknownAgent, "unknown agent")
	ErrUnknownTool  = newBase(CodeUnknownTool, "unknown tool")
	ErrEmbedder     = newBase(CodeEmbedder, "embedder unavailable")
	ErrStorage      = newBase(CodeStorage, "storage failure")
	ErrTimeout      = newBase(CodeTimeout, "deadline exceeded")
	ErrInternal     = newBase(CodeInternal, "internal error")
)

// Validation builds an ErrValidation carrying a caller-facing reason.
func Validation(format string, args ...any) error {
	return &Error{code: CodeValidation, message: fmt.Sprintf(format, args...)}
}

// Permission builds an ErrPermission carrying a caller-facing reason.
func Permission(format string, args ...any) error {
	return &Error{code: CodePermission, message: fmt.Sprintf(format, args...)}
}

// RateLimited builds an ErrRateLimited with a retry_after hint in seconds.
func RateLimited(retryAfterSeconds int, format string, args ...any) error {
	return &Error{code: CodeRateLimited, message: fmt.Sprintf(format, args...), RetryAfterSeconds: retryAfterSeconds}
}

// NotFound builds an ErrNotFound for the given resource kind and id.
func NotFound(kind, id string) error {
	return &Error{code: CodeNotFound, message: fmt.Sprintf("%s %q not found", kind, id)}
}

// NameConflict builds an ErrNameConflict.
func NameConflict(format string, args ...any) error {
	return &Error{code: CodeNameConflict, message: fmt.Sprintf(format, args...)}
}

// DuplicateID builds an ErrDuplicateId.
func DuplicateID(format string, args ...any) error {
	return &Error{code: CodeDuplicateID, message: fmt.Sprintf(format, args...)}
}

// UnknownAgent builds an ErrUnknownAgent.
func UnknownAgent(nameOrID string) error {
	return &Error{code: CodeUnknownAgent, message: fmt.Sprintf("unknown agent %q", nameOrID)}
}

// UnknownTool builds an ErrUnknownTool.
func UnknownTool(name string) error {
	return &Error{code: CodeUnknownTool, message: fmt.Sprintf("unknown tool %q", name)}
}

// Embedder wraps an underlying embedder failure as ErrEmbedder.
func Embedder(cause error) error {
	return &Error{code: CodeEmbedder, message: "embedding failed", wrapped: cause}
}

// Storage wraps an underlying storage failure as ErrStorage.
func Storage(cause error) error {
	return &Error{code: CodeStorage, message: "storage operation failed", wrapped: cause}
}

// Timeout builds an ErrTimeout.
func Timeout(op string) error {
	return &Error{code: CodeTimeout, message: fmt.Sprintf("%s deadline exceeded", op)}
}

// Internal wraps an unexpected error as ErrInternal; callers log the full
// chain and surface only the code to the wire.
func Internal(cause error) error {
	return &Error{code: CodeInternal, message: "internal error", wrapped: cause}
}

// CodeOf extracts the stable wire code from any error in the chain,
// returning CodeInternal when none is found.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// RetryAfter extracts the retry_after hint from a rate-limit error, or 0.
func RetryAfter(err error) int {
	var e *Error
	if errors.As(err, &e) && e.code == CodeRateLimited {
		return e.RetryAfterSeconds
	}
	return 0
}
