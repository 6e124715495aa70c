// Package errors provides structured error handling for clipbridge.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Installation and filesystem errors
//   - 3XX: Child process errors
//   - 4XX: Validation and state errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryInstall indicates a missing or unusable tool installation.
	CategoryInstall Category = "INSTALL"
	// CategoryProcess indicates child process failures.
	CategoryProcess Category = "PROCESS"
	// CategoryValidation indicates input or state validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the requested operation cannot proceed.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Install and filesystem errors (200-299)
	ErrCodeNotInstalled        = "ERR_201_NOT_INSTALLED"
	ErrCodeUnsupportedPlatform = "ERR_202_UNSUPPORTED_PLATFORM"
	ErrCodeDirectoryNotFound   = "ERR_203_DIRECTORY_NOT_FOUND"
	ErrCodeBuildLocked         = "ERR_204_BUILD_LOCKED"

	// Process errors (300-399)
	ErrCodeSpawnFailed   = "ERR_301_SPAWN_FAILED"
	ErrCodeProcessExited = "ERR_302_PROCESS_EXITED"
	ErrCodeQueryTimeout  = "ERR_303_QUERY_TIMEOUT"
	ErrCodeQueryAborted  = "ERR_304_QUERY_ABORTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeSessionNotStarted = "ERR_402_SESSION_NOT_STARTED"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeDaemonUnavailable = "ERR_502_DAEMON_UNAVAILABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_NOT_INSTALLED"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryInstall
	case '3':
		return CategoryProcess
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeNotInstalled, ErrCodeUnsupportedPlatform, ErrCodeSpawnFailed:
		return SeverityFatal
	case ErrCodeProcessExited:
		// The session is restartable; callers show a notice and carry on.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBuildLocked, ErrCodeQueryTimeout, ErrCodeDaemonUnavailable:
		return true
	default:
		return false
	}
}

// suggestionForCode returns the default user hint for a code, if any.
func suggestionForCode(code string) string {
	switch code {
	case ErrCodeNotInstalled:
		return "Install clip_tool under the configured tool root (see 'clipbridge locate')"
	case ErrCodeUnsupportedPlatform:
		return "clip_tool ships binaries for macOS, Windows and Linux only"
	case ErrCodeDirectoryNotFound:
		return "Check the image folder path"
	case ErrCodeBuildLocked:
		return "Another indexing run holds the index; wait for it to finish"
	case ErrCodeProcessExited:
		return "Start the search session again"
	case ErrCodeSessionNotStarted:
		return "Start the search session first"
	case ErrCodeDaemonUnavailable:
		return "Run 'clipbridge daemon start'"
	default:
		return ""
	}
}
