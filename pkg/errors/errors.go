// Package errors provides structured error types for smoothdeps.
//
// Every error the installer, registry and cache surface to the CLI carries a
// machine-readable [Code]. The CLI maps codes to exit statuses and prints
// [UserMessage] instead of raw error chains for expected failures.
//
// # Error Codes
//
// Codes are grouped by how the install pipeline reacts to them:
//   - INVALID_*: input validation, never retried
//   - PACKAGE_NOT_FOUND, INVALID_VERSION_SPEC: terminal, no retry, no failover
//   - TRANSIENT: retried with backoff within one source
//   - SOURCE_FAILURE: triggers failover to the next source
//   - ALL_SOURCES_EXHAUSTED: every candidate source failed
//   - VERSION_CONFLICT: resolution failed, reported rather than retried
//
// # Usage
//
//	err := errors.New(errors.ErrCodeSourceNotFound, "no %s source named %q", kind, name)
//	if errors.Is(err, errors.ErrCodeSourceNotFound) {
//	    // Handle missing source
//	}
//
//	err := errors.Wrap(errors.ErrCodeTransient, origErr, "fetch %s", url)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeInvalidPackage     Code = "INVALID_PACKAGE"
	ErrCodeInvalidVersionSpec Code = "INVALID_VERSION_SPEC"
	ErrCodeInvalidSource      Code = "INVALID_SOURCE"
	ErrCodeInvalidManifest    Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath        Code = "INVALID_PATH"
	ErrCodeInvalidConfig      Code = "INVALID_CONFIG"

	// Resource errors
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodePackageNotFound Code = "PACKAGE_NOT_FOUND"
	ErrCodeFileNotFound    Code = "FILE_NOT_FOUND"
	ErrCodeSourceNotFound  Code = "SOURCE_NOT_FOUND"
	ErrCodeDuplicateSource Code = "DUPLICATE_SOURCE"

	// Install pipeline errors
	ErrCodeTransient           Code = "TRANSIENT"
	ErrCodeSourceFailure       Code = "SOURCE_FAILURE"
	ErrCodeAllSourcesExhausted Code = "ALL_SOURCES_EXHAUSTED"
	ErrCodeVersionConflict     Code = "VERSION_CONFLICT"
	ErrCodeIncompatible        Code = "INCOMPATIBLE" // Not installable on this interpreter
	ErrCodeBuildFailed         Code = "BUILD_FAILED"

	// Cache errors
	ErrCodeCacheCorrupt Code = "CACHE_CORRUPT"

	// Network errors
	ErrCodeNetwork Code = "NETWORK_ERROR"
	ErrCodeTimeout Code = "TIMEOUT"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// Only the outermost *Error in the chain is consulted, so a wrapper code
// takes precedence over the code of its cause.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// IsTerminal reports whether err is a package-level failure that neither a
// retry nor a different mirror can fix.
func IsTerminal(err error) bool {
	switch GetCode(err) {
	case ErrCodePackageNotFound, ErrCodeInvalidVersionSpec, ErrCodeInvalidPackage,
		ErrCodeIncompatible, ErrCodeBuildFailed:
		return true
	}
	return false
}
