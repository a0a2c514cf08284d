// Package sandbox provides secure Lean code execution capabilities.
//
// The sandbox package owns the session/execution engine: the Manager runs
// untrusted code in isolated, resource-bounded containers, either as
// one-shot transient executions or inside named persistent sessions that
// reuse one container across calls. All container work goes through the
// Runtime interface, implemented against the Docker daemon and, for
// development, against bare host processes.
//
// Usage:
//
//	rt, err := sandbox.NewRuntime(logger, cfg)
//	mgr, err := sandbox.NewManager(logger, cfg, rt)
//	result, err := mgr.RunTransient(ctx, `def main : IO Unit := IO.println "hi"`)
package sandbox
