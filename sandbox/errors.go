package sandbox

import (
	"fmt"

	"github.com/misanthropic-ai/lean-docker-mcp/lean"
)

// ErrorKind tags a failure so the protocol layer can map it onto a fixed
// wire error code without inspecting message text.
type ErrorKind int

const (
	// ErrRuntime covers sandbox provisioning and execution failures,
	// including timeouts.
	ErrRuntime ErrorKind = iota
	// ErrValidation is a policy rejection raised before any sandbox work.
	ErrValidation
	// ErrDiagnostic carries a structured compiler diagnostic.
	ErrDiagnostic
	// ErrSessionExpired reports a stale session handle; the caller should
	// start a new session rather than retry.
	ErrSessionExpired
)

// Error is the closed failure type produced by the Manager.
type Error struct {
	Kind       ErrorKind
	Message    string
	Diagnostic *lean.Diagnostic
}

func (e *Error) Error() string { return e.Message }

func newRuntimeErrorf(format string, args ...any) *Error {
	return &Error{Kind: ErrRuntime, Message: fmt.Sprintf(format, args...)}
}

func newExpiredError(sessionID string) *Error {
	return &Error{
		Kind:    ErrSessionExpired,
		Message: fmt.Sprintf("session %s has expired or was deleted", sessionID),
	}
}
