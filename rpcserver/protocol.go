package rpcserver

import "encoding/json"

// Version is the only JSON-RPC protocol revision this server speaks.
const Version = "2.0"

// Supported method names.
const (
	MethodExecute        = "execute"
	MethodExecuteSession = "execute-session"
	MethodCleanupSession = "cleanup-session"
)

// Wire error codes. The standard JSON-RPC range plus server-defined codes
// for sandbox failures.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeRuntime        = -32000
	CodeValidation     = -32001
	CodeDiagnostic     = -32002
)

// Request is an incoming JSON-RPC request envelope. ID and Params stay
// raw so the dispatcher can validate their shape before decoding.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC response envelope. Exactly one of
// Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of a failed response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
