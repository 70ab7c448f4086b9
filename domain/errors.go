package domain

import "fmt"

// ErrorCode categorizes failures of the signing and verification core.
// Codes are stable and safe to use for programmatic handling.
type ErrorCode string

const (
	ErrCodeMalformedInput    ErrorCode = "malformed_input"
	ErrCodeReferenceNotFound ErrorCode = "reference_not_found"
	ErrCodeSigningKey        ErrorCode = "signing_key_error"
	ErrCodeSignatureMissing  ErrorCode = "signature_missing"
	ErrCodeDigestMismatch    ErrorCode = "digest_mismatch"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}

// Error is a structured error with code, message, and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so callers can
// match against the sentinels below regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is.
var (
	ErrMalformedInput    = &Error{Code: ErrCodeMalformedInput, Message: "malformed input"}
	ErrReferenceNotFound = &Error{Code: ErrCodeReferenceNotFound, Message: "reference not found"}
	ErrSigningKey        = &Error{Code: ErrCodeSigningKey, Message: "signing key error"}
	ErrSignatureMissing  = &Error{Code: ErrCodeSignatureMissing, Message: "signature missing"}
	ErrDigestMismatch    = &Error{Code: ErrCodeDigestMismatch, Message: "digest mismatch"}
	ErrInvalidSignature  = &Error{Code: ErrCodeInvalidSignature, Message: "invalid signature"}
)

// MalformedInput creates a malformed input error.
func MalformedInput(message string, cause error) *Error {
	return &Error{Code: ErrCodeMalformedInput, Message: message, Cause: cause}
}

// ReferenceNotFound creates an error for a locator that matched no subtree.
func ReferenceNotFound(locator string) *Error {
	return &Error{
		Code:    ErrCodeReferenceNotFound,
		Message: fmt.Sprintf("reference %q matches no element", locator),
	}
}

// SigningKeyError creates an error for an absent or unusable signing key.
func SigningKeyError(message string, cause error) *Error {
	return &Error{Code: ErrCodeSigningKey, Message: message, Cause: cause}
}
