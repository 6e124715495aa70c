package daemon

import (
	"encoding/json"
	"fmt"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing         = "ping"
	MethodStatus       = "status"
	MethodQuery        = "query"
	MethodSetThreshold = "set_threshold"
	MethodRestart      = "restart"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrCodeBridge marks a failure that carries a clipbridge error code in Data.
const ErrCodeBridge = -32001

// Request is a JSON-RPC 2.0 request. One request per line.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is a JSON-RPC 2.0 response. One response per line.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the structured error across the socket.
type ErrorData struct {
	Code       string `json:"code"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewSuccessResponse encodes result into a response.
func NewSuccessResponse(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, fmt.Sprintf("failed to encode result: %v", err))
	}
	return Response{JSONRPC: "2.0", Result: data, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// newBridgeErrorResponse keeps the error code and hint of err.
func newBridgeErrorResponse(id string, err error) Response {
	code := cberrors.GetCode(err)
	if code == "" {
		return NewErrorResponse(id, ErrCodeInternalError, err.Error())
	}
	resp := NewErrorResponse(id, ErrCodeBridge, err.Error())
	resp.Error.Data = &ErrorData{Code: code}
	if be := asBridge(err); be != nil {
		resp.Error.Message = be.Message
		resp.Error.Data.Suggestion = be.Suggestion
	}
	return resp
}

// Err converts the error object back into a Go error, restoring BridgeError
// codes so errors.Is works on the client side.
func (e *Error) Err() error {
	if e == nil {
		return nil
	}
	if e.Data != nil && e.Data.Code != "" {
		be := cberrors.New(e.Data.Code, e.Message, nil)
		if e.Data.Suggestion != "" {
			be.Suggestion = e.Data.Suggestion
		}
		return be
	}
	return fmt.Errorf("daemon error %d: %s", e.Code, e.Message)
}

// QueryParams are the parameters for query.
type QueryParams struct {
	Prompt string `json:"prompt"`
	// TopK <= 0 uses the daemon's configured default.
	TopK int `json:"top_k,omitempty"`
}

// Validate checks required fields.
func (p QueryParams) Validate() error {
	if p.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// QueryResult is the answer to query.
type QueryResult struct {
	IDs       []string `json:"ids"`
	Threshold float64  `json:"threshold"`
	TopK      int      `json:"top_k"`
	Cached    bool     `json:"cached"`
	LatencyMS int64    `json:"latency_ms"`
}

// SetThresholdParams are the parameters for set_threshold.
type SetThresholdParams struct {
	Threshold float64 `json:"threshold"`
}

// SetThresholdResult reports the threshold after clamping.
type SetThresholdResult struct {
	Threshold float64 `json:"threshold"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running      bool    `json:"running"`
	PID          int     `json:"pid"`
	Uptime       string  `json:"uptime"`
	SessionState string  `json:"session_state"`
	SessionPID   int     `json:"session_pid,omitempty"`
	Threshold    float64 `json:"threshold"`
	TopK         int     `json:"top_k"`
	IndexPath    string  `json:"index_path"`
	CacheEntries int     `json:"cache_entries"`
	Queries      int64   `json:"queries"`
	Restarts     int64   `json:"restarts"`
	Breaker      string  `json:"breaker"`
}

// PingResult is the response to ping.
type PingResult struct {
	Pong bool `json:"pong"`
}
