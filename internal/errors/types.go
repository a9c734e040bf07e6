package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeFile covers missing, unreadable or unwritable paths.
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeArgument covers disallowed values and missing required arguments.
	ErrorTypeArgument ErrorType = "argument"
	// ErrorTypeUnexpectedValue covers iterator keys and values of the wrong kind.
	ErrorTypeUnexpectedValue ErrorType = "unexpected_value"
	// ErrorTypeSignature covers malformed key material and unsupported algorithms.
	ErrorTypeSignature ErrorType = "signature"
	// ErrorTypeFormat covers corrupt archives and malformed compactor input.
	ErrorTypeFormat   ErrorType = "format"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeNotRegular     = "NOT_REGULAR"
	CodeOpenFailed     = "OPEN_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeInvalidValue   = "INVALID_VALUE"
	CodeMissingArg     = "MISSING_ARGUMENT"
	CodeOutsideBase    = "OUTSIDE_BASE"
	CodeInvalidKey     = "INVALID_KEY"
	CodeUnsupported    = "UNSUPPORTED"
	CodeCorrupt        = "CORRUPT"
	CodeSealed         = "SEALED"
	CodeSignMismatch   = "SIGNATURE_MISMATCH"
	CodeInvalidSyntax  = "INVALID_SYNTAX"
	CodeInvalidSetting = "INVALID_SETTING"
)

// CrateError is a structured error type with context.
type CrateError struct {
	Type    ErrorType
	Code    string
	Message string
	Path    string
	Cause   error
	Context map[string]any
}

// Error implements the error interface. The message already names the
// offending value, so only the cause is appended.
func (e *CrateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause error.
func (e *CrateError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison. Two errors match when both type and code
// match; an empty code on the target matches any code of the same type.
func (e *CrateError) Is(target error) bool {
	var t *CrateError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithContext adds context information to the error.
func (e *CrateError) WithContext(key string, value any) *CrateError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value

	return e
}

// WithPath records the path the error is about.
func (e *CrateError) WithPath(path string) *CrateError {
	e.Path = path

	return e
}

// WithCause sets the underlying error.
func (e *CrateError) WithCause(cause error) *CrateError {
	e.Cause = cause

	return e
}

// Error creation functions

// NewFileError creates a file error.
func NewFileError(code, message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeFile,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewArgumentError creates an argument error.
func NewArgumentError(code, message string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeArgument,
		Code:    code,
		Message: message,
	}
}

// NewUnexpectedValueError creates an unexpected value error.
func NewUnexpectedValueError(code, message string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeUnexpectedValue,
		Code:    code,
		Message: message,
	}
}

// NewSignatureError creates a signature error.
func NewSignatureError(code, message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeSignature,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewFormatError creates a format error.
func NewFormatError(code, message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeFormat,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *CrateError {
	return &CrateError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *CrateError {
	return &CrateError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels usable with errors.Is to match a whole category.
var (
	ErrFile            = &CrateError{Type: ErrorTypeFile}
	ErrArgument        = &CrateError{Type: ErrorTypeArgument}
	ErrUnexpectedValue = &CrateError{Type: ErrorTypeUnexpectedValue}
	ErrSignature       = &CrateError{Type: ErrorTypeSignature}
	ErrFormat          = &CrateError{Type: ErrorTypeFormat}
	ErrConfig          = &CrateError{Type: ErrorTypeConfig}
)

// Error classification utilities

// TypeOf returns the category of err, or "" when err is not a CrateError.
func TypeOf(err error) ErrorType {
	var ce *CrateError
	if errors.As(err, &ce) {
		return ce.Type
	}

	return ""
}

// IsFileError checks if an error is a file error.
func IsFileError(err error) bool {
	return TypeOf(err) == ErrorTypeFile
}

// IsArgumentError checks if an error is an argument error.
func IsArgumentError(err error) bool {
	return TypeOf(err) == ErrorTypeArgument
}

// IsUnexpectedValueError checks if an error is an unexpected value error.
func IsUnexpectedValueError(err error) bool {
	return TypeOf(err) == ErrorTypeUnexpectedValue
}

// IsSignatureError checks if an error is a signature error.
func IsSignatureError(err error) bool {
	return TypeOf(err) == ErrorTypeSignature
}

// IsFormatError checks if an error is a format error.
func IsFormatError(err error) bool {
	return TypeOf(err) == ErrorTypeFormat
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	return TypeOf(err) == ErrorTypeConfig
}

// Wrap wraps an error with additional context, keeping the category of a
// wrapped CrateError.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var ce *CrateError
	if errors.As(err, &ce) {
		return &CrateError{
			Type:    ce.Type,
			Code:    ce.Code,
			Message: message,
			Path:    ce.Path,
			Cause:   err,
		}
	}

	return NewInternalError("WRAPPED", message, err)
}

// Re-exported standard library helpers so callers need a single import.
var (
	New = errors.New
	As  = errors.As
	Is  = errors.Is
)
