// Package tools implements the privileged operations exposed over the
// MCP protocol: shell execution, SQL access, filesystem read/write, and
// Odoo runtime introspection. Each tool is a Descriptor in an immutable
// Registry; the dispatcher owns admission and audit around handler calls.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
)

// Tool error kinds. The dispatcher maps these to JSON-RPC error codes;
// handlers never deal in protocol codes directly.
const (
	KindValidation  = "validation_error"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindExecution   = "execution_error"
	KindTimeout     = "timeout"
)

// ToolError is a structured error from a tool handler.
type ToolError struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	return e.Kind + ": " + e.Message
}

// NewToolError creates a new ToolError.
func NewToolError(kind, message string) *ToolError {
	return &ToolError{Kind: kind, Message: message}
}

// Validationf creates a validation_error with a formatted message.
func Validationf(format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Executionf creates an execution_error with a formatted message.
func Executionf(format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: KindExecution, Message: fmt.Sprintf(format, args...)}
}

// Result is a successful tool outcome: the data that becomes the
// tools/call text payload plus the extra fields the audit line carries.
type Result struct {
	Data  interface{}
	Audit []audit.Field
}

// decodeArgs unmarshals tool arguments into the given input struct.
// A nil/empty arguments object is valid for tools whose inputs are all
// optional; malformed JSON or mistyped fields are validation errors.
func decodeArgs(args json.RawMessage, into interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return Validationf("Invalid arguments: %v", err)
	}
	return nil
}
