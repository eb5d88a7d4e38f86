package asemberr

import (
	"errors"
	"fmt"
)

// Code classifies an error by the subsystem that produced it. Codes are
// stable strings so they can cross process boundaries (logs, HTTP
// responses, NSQ events) without translation.
type Code string

const (
	// Validation errors. Bad input, never retryable.
	CodeInvalidInput    Code = "VAL_001"
	CodeMissingRequired Code = "VAL_002"
	CodeOutOfRange      Code = "VAL_003"

	// Store errors.
	CodeStoreConnection    Code = "DB_001"
	CodeStoreQuery         Code = "DB_002"
	CodeStorePoolExhausted Code = "DB_003"

	// Provider (embedding) errors.
	CodeProviderFailed      Code = "EMB_001"
	CodeProviderUnavailable Code = "EMB_002"
	CodeProviderRateLimited Code = "EMB_003"
	CodeProviderAuth        Code = "EMB_004"

	// Cache errors degrade to pass-through, never fatal to a request.
	CodeCacheOperation   Code = "CACHE_001"
	CodeCacheUnavailable Code = "CACHE_002"

	// Operation errors.
	CodeOperationTimeout   Code = "OP_001"
	CodeOperationCancelled Code = "OP_002"

	// Internal. Unexpected, non-retryable, logged with full context.
	CodeInternal Code = "SYS_001"
)

// Severity buckets errors for logging and notification routing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// Error is the structured error carried through the engine. Message is
// machine-oriented; UserMessage() produces the short user-facing text.
type Error struct {
	Code        Code
	Message     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Severity is derived from the code so callers never have to set it.
func (e *Error) Severity() Severity {
	switch e.Code {
	case CodeStoreConnection, CodeStorePoolExhausted, CodeInternal:
		return SeverityCritical
	case CodeCacheOperation, CodeCacheUnavailable:
		return SeverityWarning
	default:
		return SeverityError
	}
}

var userMessages = map[Code]string{
	CodeInvalidInput:        "Invalid input provided. Please check your data.",
	CodeMissingRequired:     "Required fields are missing.",
	CodeOutOfRange:          "Value is out of acceptable range.",
	CodeStoreConnection:     "Unable to reach the store. Please try again later.",
	CodeStoreQuery:          "Store query failed.",
	CodeStorePoolExhausted:  "Store connection pool exhausted. Please try again later.",
	CodeProviderFailed:      "Failed to generate embeddings.",
	CodeProviderUnavailable: "Embedding service is unavailable.",
	CodeProviderRateLimited: "Embedding service rate limit exceeded.",
	CodeProviderAuth:        "Embedding service rejected the configured credentials.",
	CodeCacheOperation:      "Cache operation failed.",
	CodeCacheUnavailable:    "Cache is temporarily unavailable.",
	CodeOperationTimeout:    "Operation timed out.",
	CodeOperationCancelled:  "Operation was cancelled.",
	CodeInternal:            "An internal error occurred.",
}

// UserMessage returns the short user-facing message for the error code.
func (e *Error) UserMessage() string {
	if msg, ok := userMessages[e.Code]; ok {
		return msg
	}
	return e.Message
}

// New creates a structured error without an underlying cause.
func New(code Code, message string, recoverable bool) *Error {
	return &Error{Code: code, Message: message, Recoverable: recoverable}
}

// Wrap attaches a code to an underlying error. If err is already an
// *Error it is returned unchanged so the original classification wins.
func Wrap(err error, code Code, message string, recoverable bool) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Code: code, Message: message, Recoverable: recoverable, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err is marked safe to retry. Foreign
// errors are not recoverable: retrying an unknown failure is how quota
// gets burned on permanent errors.
func IsRecoverable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Recoverable
	}
	return false
}
