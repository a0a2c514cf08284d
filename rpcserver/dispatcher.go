package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/misanthropic-ai/lean-docker-mcp/sandbox"
)

// Executor is the sandbox surface the dispatcher needs; satisfied by
// sandbox.Manager.
type Executor interface {
	RunTransient(ctx context.Context, code string) (*sandbox.ExecutionResult, error)
	RunPersistent(ctx context.Context, sessionID, code string) (*sandbox.ExecutionResult, error)
	Cleanup(ctx context.Context, sessionID string) *sandbox.CleanupResult
}

// Dispatcher validates request envelopes and routes methods to the
// executor, translating failures onto the wire error code table.
type Dispatcher struct {
	logger   *zap.Logger
	executor Executor
}

// NewDispatcher creates a Dispatcher backed by the given executor.
func NewDispatcher(logger *zap.Logger, executor Executor) *Dispatcher {
	return &Dispatcher{logger: logger, executor: executor}
}

// rpcError carries a wire code through handler returns.
type rpcError struct {
	code    int
	message string
	data    any
}

func (e *rpcError) Error() string { return e.message }

// Handle processes one request and always produces a response. A handler
// panic is caught and reported as an internal error so a single bad
// request cannot take down the connection.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				zap.String("method", req.Method), zap.Any("panic", r))
			resp = d.errorResponse(req.ID, &rpcError{
				code:    CodeInternal,
				message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	if err := validateEnvelope(req); err != nil {
		return d.errorResponse(req.ID, err)
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodExecute:
		result, err = d.handleExecute(ctx, req.Params)
	case MethodExecuteSession:
		result, err = d.handleExecuteSession(ctx, req.Params)
	case MethodCleanupSession:
		result, err = d.handleCleanupSession(ctx, req.Params)
	default:
		err = &rpcError{
			code:    CodeMethodNotFound,
			message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
	if err != nil {
		return d.errorResponse(req.ID, err)
	}
	return &Response{JSONRPC: Version, ID: req.ID, Result: result}
}

func (d *Dispatcher) handleExecute(ctx context.Context, params json.RawMessage) (any, error) {
	code, err := requireString(params, "code")
	if err != nil {
		return nil, err
	}
	return d.executor.RunTransient(ctx, code)
}

func (d *Dispatcher) handleExecuteSession(ctx context.Context, params json.RawMessage) (any, error) {
	code, err := requireString(params, "code")
	if err != nil {
		return nil, err
	}
	sessionID, err := optionalString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := d.executor.RunPersistent(ctx, sessionID, code)
	if err != nil {
		return nil, err
	}
	if result.SessionID == "" {
		result.SessionID = sessionID
	}
	return result, nil
}

func (d *Dispatcher) handleCleanupSession(ctx context.Context, params json.RawMessage) (any, error) {
	sessionID, err := requireString(params, "session_id")
	if err != nil {
		return nil, err
	}
	return d.executor.Cleanup(ctx, sessionID), nil
}

func (d *Dispatcher) errorResponse(id json.RawMessage, err error) *Response {
	obj := toErrorObject(err)
	if obj.Code == CodeInternal {
		d.logger.Error("request failed", zap.Int("code", obj.Code), zap.String("message", obj.Message))
	} else {
		d.logger.Debug("request rejected", zap.Int("code", obj.Code), zap.String("message", obj.Message))
	}
	return &Response{JSONRPC: Version, ID: id, Error: obj}
}

// toErrorObject maps handler failures onto wire error objects. Sandbox
// errors carry a kind that selects the code; anything unrecognized is an
// internal error.
func toErrorObject(err error) *ErrorObject {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return &ErrorObject{Code: rpcErr.code, Message: rpcErr.message, Data: rpcErr.data}
	}

	var sbErr *sandbox.Error
	if errors.As(err, &sbErr) {
		switch sbErr.Kind {
		case sandbox.ErrValidation:
			return &ErrorObject{
				Code:    CodeValidation,
				Message: sbErr.Message,
				Data:    map[string]string{"error_type": "validation_error"},
			}
		case sandbox.ErrDiagnostic:
			return &ErrorObject{
				Code:    CodeDiagnostic,
				Message: sbErr.Message,
				Data:    sbErr.Diagnostic,
			}
		case sandbox.ErrSessionExpired:
			return &ErrorObject{
				Code:    CodeRuntime,
				Message: sbErr.Message,
				Data:    map[string]string{"error_type": "session_expired"},
			}
		default:
			return &ErrorObject{Code: CodeRuntime, Message: sbErr.Message}
		}
	}

	return &ErrorObject{Code: CodeInternal, Message: fmt.Sprintf("internal error: %v", err)}
}

// validateEnvelope checks the request's protocol fields before any method
// routing happens.
func validateEnvelope(req *Request) error {
	if req.JSONRPC != Version {
		return &rpcError{
			code:    CodeInvalidRequest,
			message: fmt.Sprintf("invalid request: jsonrpc must be %q", Version),
		}
	}
	if req.Method == "" {
		return &rpcError{code: CodeInvalidRequest, message: "invalid request: method is required"}
	}
	if !validID(req.ID) {
		return &rpcError{code: CodeInvalidRequest, message: "invalid request: id must be a string, number, or null"}
	}
	if !isObject(req.Params) {
		return &rpcError{code: CodeInvalidParams, message: "invalid params: params must be an object"}
	}
	return nil
}

// validID accepts absent ids plus the JSON-RPC id types: string, number,
// and null.
func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', '-', 'n':
		return true
	default:
		return id[0] >= '0' && id[0] <= '9'
	}
}

// isObject accepts absent params, explicit null, and JSON objects.
func isObject(params json.RawMessage) bool {
	if len(params) == 0 {
		return true
	}
	return params[0] == '{' || params[0] == 'n'
}

func requireString(params json.RawMessage, key string) (string, error) {
	value, err := optionalString(params, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", &rpcError{
			code:    CodeInvalidParams,
			message: fmt.Sprintf("invalid params: %s is required", key),
		}
	}
	return value, nil
}

func optionalString(params json.RawMessage, key string) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return "", &rpcError{code: CodeInvalidParams, message: "invalid params: params must be an object"}
	}
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", &rpcError{
			code:    CodeInvalidParams,
			message: fmt.Sprintf("invalid params: %s must be a string", key),
		}
	}
	return value, nil
}
