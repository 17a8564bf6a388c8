package toolgate

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 reserved error codes. These must not be repurposed.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// Request represents a JSON-RPC request message. A request carries an id and
// expects exactly one response.
type Request struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Notification represents a JSON-RPC notification message. Notifications have
// no id and never produce a response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response message.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func okResponse(id *json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id *json.RawMessage, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// ServerInfo identifies the server during initialization.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is the fixed capability document returned by initialize.
type Capabilities struct {
	Tools CapabilitiesTools `json:"tools"`
}

// CapabilitiesTools describes the tool-related capabilities of the server.
type CapabilitiesTools struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeParams holds the client side of version negotiation.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      ClientInfo             `json:"clientInfo"`
	Capabilities    map[string]interface{} `json:"capabilities"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server side of version negotiation.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// CallToolParams carries the parameters of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSummary is the discovery shape of a registered tool, returned by
// tools/list.
type ToolSummary struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *JSONSchema `json:"inputSchema"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools []ToolSummary `json:"tools"`
}

// ToolHandler executes a tool invocation. The returned value is marshaled
// verbatim as the JSON-RPC result; a returned error becomes a -32603 error
// object on the wire.
type ToolHandler func(ctx context.Context, inv ToolInvocation) (interface{}, error)

// Tool describes a named operation exposed for discovery and invocation. The
// parameter schema is declared in terms of ParamSchema so that no validator
// internals leak into the transport.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]ParamSchema
	Handler     ToolHandler
}

// ToolInvocation is the context handed to a tool handler.
type ToolInvocation struct {
	Name        string
	Arguments   json.RawMessage
	SessionID   string
	Credentials CredentialProvider
}
