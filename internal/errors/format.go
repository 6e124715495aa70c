package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormatForUser returns a short message suitable for a status line or notice.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var be *BridgeError
	if !errors.As(err, &be) {
		return err.Error()
	}

	if be.Suggestion != "" {
		return fmt.Sprintf("%s (%s)", be.Message, be.Suggestion)
	}
	return be.Message
}

// FormatForCLI formats an error for CLI output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var be *BridgeError
	if !errors.As(err, &be) {
		be = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", be.Message))
	if be.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", be.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", be.Code))

	return sb.String()
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	var be *BridgeError
	if !errors.As(err, &be) {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": be.Code,
		"message":    be.Message,
		"category":   string(be.Category),
		"severity":   string(be.Severity),
		"retryable":  be.Retryable,
	}

	if be.Cause != nil {
		result["cause"] = be.Cause.Error()
	}

	for k, v := range be.Details {
		result["detail_"+k] = v
	}

	return result
}

// LogAttrs flattens FormatForLog into alternating key/value arguments for slog.
func LogAttrs(err error) []any {
	fields := FormatForLog(err)
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}
