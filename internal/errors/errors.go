// Package errors provides structured error types for bigdump
// with error codes, categories, and remediation guidance
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error codes for bigdump
// Format: BIGDUMP-<CATEGORY><NUMBER>
// Categories: C=Config, E=Environment, D=Data, S=Statement, B=Bug
const (
	// Configuration errors (user fix)
	ErrCodeInvalidConfig  ErrorCode = "BIGDUMP-C001"
	ErrCodeInvalidPath    ErrorCode = "BIGDUMP-C002"
	ErrCodeInvalidProfile ErrorCode = "BIGDUMP-C003"
	ErrCodeInvalidOption  ErrorCode = "BIGDUMP-C004"

	// Environment errors (infrastructure fix)
	ErrCodeFileNotFound     ErrorCode = "BIGDUMP-E001"
	ErrCodeCodecUnavailable ErrorCode = "BIGDUMP-E002"
	ErrCodeDatabaseDown     ErrorCode = "BIGDUMP-E003"
	ErrCodeOutOfMemory      ErrorCode = "BIGDUMP-E004"

	// Data errors (investigate)
	ErrCodeCorruptStream   ErrorCode = "BIGDUMP-D001"
	ErrCodeTruncatedDump   ErrorCode = "BIGDUMP-D002"
	ErrCodeSessionMismatch ErrorCode = "BIGDUMP-D003"

	// Statement errors (user decides: skip, fix, abort)
	ErrCodeStatementFailed ErrorCode = "BIGDUMP-S001"
	ErrCodeTargetExists    ErrorCode = "BIGDUMP-S002"

	// Internal errors (report to maintainers)
	ErrCodeInvalidState ErrorCode = "BIGDUMP-B001"
)

// Category represents error categories
type Category string

const (
	CategoryConfig      Category = "configuration"
	CategoryEnvironment Category = "environment"
	CategoryData        Category = "data"
	CategoryStatement   Category = "statement"
	CategoryInternal    Category = "internal"
)

// ImportError is a structured error with code, category, and remediation
type ImportError struct {
	Code        ErrorCode
	Category    Category
	Message     string
	Details     string
	Remediation string
	Cause       error
}

// Error implements error interface
func (e *ImportError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf("\n\nDetails:\n  %s", e.Details)
	}
	if e.Remediation != "" {
		msg += fmt.Sprintf("\n\nTo fix:\n  %s", e.Remediation)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for error comparison
func (e *ImportError) Is(target error) bool {
	if t, ok := target.(*ImportError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error
func (e *ImportError) WithDetails(details string) *ImportError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause
func (e *ImportError) WithCause(cause error) *ImportError {
	e.Cause = cause
	return e
}

// FileNotFound creates a missing-dump-file error. Fatal, not retried.
func FileNotFound(path string, cause error) *ImportError {
	return &ImportError{
		Code:     ErrCodeFileNotFound,
		Category: CategoryEnvironment,
		Message:  fmt.Sprintf("Dump file not found: %s", path),
		Remediation: `Check the path and upload/copy the dump file first:
  bigdump analyze <file>   shows what the importer sees`,
		Cause: cause,
	}
}

// CodecUnavailable creates an unsupported-compression error.
// Fatal for this file; other codecs are unaffected.
func CodecUnavailable(codec, path string) *ImportError {
	return &ImportError{
		Code:     ErrCodeCodecUnavailable,
		Category: CategoryEnvironment,
		Message:  fmt.Sprintf("Compression codec %q is not available in this build", codec),
		Details:  fmt.Sprintf("File: %s", path),
		Remediation: fmt.Sprintf(`Decompress the file manually and import the plain .sql:
  %s -d <file>`, codec),
	}
}

// CorruptStream creates a decompression failure error with file/offset context.
func CorruptStream(path string, offset int64, cause error) *ImportError {
	return &ImportError{
		Code:     ErrCodeCorruptStream,
		Category: CategoryData,
		Message:  "Compressed stream yields no usable data",
		Details:  fmt.Sprintf("File: %s\nOffset: %d\nError: %v", path, offset, cause),
		Remediation: `The archive is likely truncated or corrupted.

To fix:
  1. Verify the file integrity (gzip -t / bzip2 -t / xz -t)
  2. Re-transfer or re-create the dump`,
		Cause: cause,
	}
}

// StatementFailed creates a statement execution error carrying the failing
// statement text, its 1-based source line, and the database's message.
func StatementFailed(statement string, line int64, cause error) *ImportError {
	code := ErrCodeStatementFailed
	if isTargetExists(cause) {
		code = ErrCodeTargetExists
	}
	return &ImportError{
		Code:     code,
		Category: CategoryStatement,
		Message:  fmt.Sprintf("Statement at line %d was rejected by the database", line),
		Details:  fmt.Sprintf("Statement: %s\nError: %v", truncate(statement, 300), cause),
		Remediation: `The session keeps its last-good position. After fixing the cause
(e.g. dropping a conflicting table) resume the import; it re-enters
at this exact statement.`,
		Cause: cause,
	}
}

// InvalidProfile creates a configuration error for an unrecognized
// performance profile. Callers fall back to conservative with a warning.
func InvalidProfile(name string) *ImportError {
	return &ImportError{
		Code:        ErrCodeInvalidProfile,
		Category:    CategoryConfig,
		Message:     fmt.Sprintf("Unknown performance profile %q", name),
		Remediation: `Valid profiles: conservative, aggressive. Falling back to conservative.`,
	}
}

// TruncatedDump creates an error for a dump that ends mid-statement.
func TruncatedDump(path string, pending string, line int64) *ImportError {
	return &ImportError{
		Code:     ErrCodeTruncatedDump,
		Category: CategoryData,
		Message:  "Dump file ends inside an unterminated statement",
		Details: fmt.Sprintf("File: %s\nLast line: %d\nPending text: %s",
			path, line, truncate(pending, 200)),
		Remediation: `The dump is incomplete. Re-export it, or append the missing
statement terminator if the data loss is acceptable.`,
	}
}

// IsTargetExists reports whether the error is the distinguished
// "target already exists" statement failure, used to offer a guided
// drop-and-retry flow.
func IsTargetExists(err error) bool {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code == ErrCodeTargetExists
	}
	return false
}

// GetCode returns the error code if available
func GetCode(err error) ErrorCode {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory returns the error category if available
func GetCategory(err error) Category {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}

// isTargetExists matches the "already exists" family of server messages
// across MySQL (error 1050) and PostgreSQL (42P07).
func isTargetExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{
		"already exists",
		"Error 1050",
		"SQLSTATE 42P07",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
