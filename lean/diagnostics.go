package lean

import (
	"regexp"
	"strconv"
	"strings"
)

// DiagnosticKind classifies a compiler error extracted from sandbox output.
type DiagnosticKind string

// Known diagnostic kinds, most specific first.
const (
	TypeMismatch      DiagnosticKind = "type_mismatch"
	UnknownIdentifier DiagnosticKind = "unknown_identifier"
	SyntaxError       DiagnosticKind = "syntax_error"
	CompilationError  DiagnosticKind = "compilation_error"
)

// Diagnostic is a structured description of a compiler error. Line and
// Column are 1-based and zero when the output carried no location.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
	Line    int            `json:"line,omitempty"`
	Column  int            `json:"column,omitempty"`
}

var locationRe = regexp.MustCompile(`(?m)([^\s:]+):(\d+):(\d+): error:`)

// ParseDiagnostic classifies raw compiler output. It returns nil when the
// text contains no recognizable error, meaning the run succeeded or only
// produced ordinary output.
func ParseDiagnostic(output string) *Diagnostic {
	kind, ok := classify(output)
	if !ok {
		return nil
	}

	d := &Diagnostic{Kind: kind, Message: strings.TrimSpace(output)}
	if m := locationRe.FindStringSubmatch(output); m != nil {
		if line, err := strconv.Atoi(m[2]); err == nil {
			d.Line = line
		}
		if column, err := strconv.Atoi(m[3]); err == nil {
			d.Column = column
		}
	}
	return d
}

func classify(output string) (DiagnosticKind, bool) {
	switch {
	case strings.Contains(output, "type mismatch"):
		return TypeMismatch, true
	case strings.Contains(output, "unknown identifier"):
		return UnknownIdentifier, true
	case strings.Contains(output, "syntax error"):
		return SyntaxError, true
	case strings.Contains(output, "error:"):
		return CompilationError, true
	default:
		return "", false
	}
}
