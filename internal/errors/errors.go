package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the structured error type for clipbridge.
// It provides context for error handling, logging, and user presentation.
type BridgeError struct {
	// Code is the unique error code (e.g., "ERR_201_NOT_INSTALLED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is matches another BridgeError by code, so errors.Is(err, errors.New(code, "", nil)) works.
func (e *BridgeError) Is(target error) bool {
	if t, ok := target.(*BridgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *BridgeError) WithDetail(key, value string) *BridgeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion replaces the actionable suggestion for the user.
func (e *BridgeError) WithSuggestion(suggestion string) *BridgeError {
	e.Suggestion = suggestion
	return e
}

// New creates a new BridgeError with the given code and message.
// Category, severity, retryable flag and default suggestion are derived from the code.
func New(code string, message string, cause error) *BridgeError {
	return &BridgeError{
		Code:       code,
		Message:    message,
		Category:   categoryFromCode(code),
		Severity:   severityFromCode(code),
		Cause:      cause,
		Retryable:  isRetryableCode(code),
		Suggestion: suggestionForCode(code),
	}
}

// Wrap creates a BridgeError from an existing error.
func Wrap(code string, err error) *BridgeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. They carry only the code.
var (
	ErrNotInstalled        = &BridgeError{Code: ErrCodeNotInstalled}
	ErrUnsupportedPlatform = &BridgeError{Code: ErrCodeUnsupportedPlatform}
	ErrDirectoryNotFound   = &BridgeError{Code: ErrCodeDirectoryNotFound}
	ErrBuildLocked         = &BridgeError{Code: ErrCodeBuildLocked}
	ErrSpawnFailed         = &BridgeError{Code: ErrCodeSpawnFailed}
	ErrProcessExited       = &BridgeError{Code: ErrCodeProcessExited}
	ErrQueryTimeout        = &BridgeError{Code: ErrCodeQueryTimeout}
	ErrQueryAborted        = &BridgeError{Code: ErrCodeQueryAborted}
	ErrInvalidInput        = &BridgeError{Code: ErrCodeInvalidInput}
	ErrSessionNotStarted   = &BridgeError{Code: ErrCodeSessionNotStarted}
	ErrDaemonUnavailable   = &BridgeError{Code: ErrCodeDaemonUnavailable}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *BridgeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string) *BridgeError {
	return New(ErrCodeInvalidInput, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *BridgeError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a BridgeError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
