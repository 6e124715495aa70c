// Package mcp exposes clipbridge over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeNotInstalled indicates clip_tool could not be located or spawned.
	ErrCodeNotInstalled = -32001

	// ErrCodeProcess indicates the search or build process failed.
	ErrCodeProcess = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBusy indicates another build holds the index.
	ErrCodeBusy = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var be *cberrors.BridgeError
	if errors.As(err, &be) {
		return mapBridgeError(be)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

func mapBridgeError(be *cberrors.BridgeError) *MCPError {
	message := be.Message
	if be.Suggestion != "" {
		message = fmt.Sprintf("%s %s", be.Message, be.Suggestion)
	}

	switch be.Code {
	case cberrors.ErrCodeQueryTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case cberrors.ErrCodeBuildLocked:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	case cberrors.ErrCodeDirectoryNotFound:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	}

	switch be.Category {
	case cberrors.CategoryInstall:
		return &MCPError{Code: ErrCodeNotInstalled, Message: message}
	case cberrors.CategoryProcess:
		if be.Code == cberrors.ErrCodeSpawnFailed {
			return &MCPError{Code: ErrCodeNotInstalled, Message: message}
		}
		return &MCPError{Code: ErrCodeProcess, Message: message}
	case cberrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
