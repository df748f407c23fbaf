// Package jsonrpc defines the JSON-RPC 2.0 envelopes shared by the MCP front end
// and the direct-call back end.
package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// JSON-RPC error codes
const (
	CodeParseError    = mcp.PARSE_ERROR
	CodeInternalError = mcp.INTERNAL_ERROR
)

// Error is a JSON-RPC 2.0 error object. Errors returned by the back end are
// carried through with their original code.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error returns the bare message so callers can surface it unchanged.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new error with optional data.
func NewError(code int, message string, data any) *Error {
	err := &Error{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if dataBytes, jsonErr := json.Marshal(data); jsonErr == nil {
			err.Data = dataBytes
		}
	}
	return err
}

// Errorf creates an error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

func ErrParseError(detail string) *Error {
	return NewError(CodeParseError, "Parse error: "+detail, nil)
}

func ErrInternalError(detail string) *Error {
	return NewError(CodeInternalError, "Internal error: "+detail, nil)
}
