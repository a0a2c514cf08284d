// Package lean provides the pure policy and diagnostics layer for Lean code.
//
// The Validator checks submitted source against an import allow/block list
// and a set of disallowed operation patterns before any sandbox work
// happens. ParseDiagnostic turns raw compiler output into a structured
// Diagnostic with a kind and, when available, a source location.
//
// Both are deterministic and perform no I/O.
package lean
