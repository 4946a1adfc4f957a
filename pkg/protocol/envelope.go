// Package protocol defines the JSON-RPC 2.0 envelope used by the MCP surface.
package protocol

import (
	"bytes"
	"encoding/json"
)

// JSONRPCVersion is the only protocol version accepted on the wire.
const JSONRPCVersion = "2.0"

// JSON-RPC error codes. The standard range plus two server-defined codes
// for admission rejection and bounded-operation timeouts.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeRateLimited    = -32000
	CodeTimeout        = -32001
)

// Request is the JSON envelope for an incoming MCP request.
// ID may be a string, a number, or null; it is echoed back verbatim.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON envelope for an outgoing MCP response.
// Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      interface{}  `json:"id"`
	Result  interface{}  `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// ErrorObject holds structured error information for the wire.
// Data carries optional human-readable detail, never internal state.
type ErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewResult builds a success response echoing the caller's id.
func NewResult(id interface{}, result interface{}) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewError builds an error response echoing the caller's id.
// data may be nil when there is no extra detail to attach.
func NewError(id interface{}, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// ParseRequest decodes a raw request body. On malformed input it returns a
// ready-to-send error response (id null, per JSON-RPC) instead of the
// request; exactly one of the two return values is non-nil. Valid JSON
// that is not an object is an invalid request rather than a parse error.
func ParseRequest(data []byte) (*Request, *Response) {
	if len(data) == 0 {
		return nil, NewError(nil, CodeParseError, "Parse error", "Empty request body")
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] != '{' {
		if json.Valid(data) {
			return nil, NewError(nil, CodeInvalidRequest, "Invalid Request", "Request must be a JSON object")
		}
		return nil, NewError(nil, CodeParseError, "Parse error", "invalid JSON")
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "Parse error", err.Error())
	}
	return &req, nil
}
