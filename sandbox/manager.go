package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/misanthropic-ai/lean-docker-mcp/config"
	"github.com/misanthropic-ai/lean-docker-mcp/lean"
)

// Result status values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// Container labels recording session identity and the intended isolation
// policy.
const (
	labelSessionID       = "lean-docker-mcp.session_id"
	labelNetworkDisabled = "lean-docker-mcp.network_disabled"
)

const (
	transientScript = "Script.lean"
	// Session containers idle on a sleep this long before the runtime
	// reaps them.
	sessionKeepaliveSec = 86400
)

// ExecutionResult is the outcome of one code execution.
type ExecutionResult struct {
	Status     string           `json:"status"`
	Output     string           `json:"output"`
	ExitCode   int              `json:"exit_code"`
	Diagnostic *lean.Diagnostic `json:"diagnostic,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
}

// CleanupResult is the outcome of a session cleanup request.
type CleanupResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// session is one entry in the session table. Its mutex serializes all
// calls touching the same session id so concurrent writers never collide
// on one container's filesystem.
type session struct {
	mu              sync.Mutex
	containerID     string
	created         time.Time
	networkDisabled bool
}

// Manager owns the session table and every sandbox lifecycle operation.
// It is the only component that maps session ids to container handles.
type Manager struct {
	logger    *zap.Logger
	cfg       *config.Config
	runtime   Runtime
	validator *lean.Validator
	fs        FileSystem

	mu       sync.RWMutex
	sessions map[string]*session
}

// ManagerOption defines a functional option for Manager
type ManagerOption func(*Manager)

// WithFileSystem sets the FileSystem for Manager
func WithFileSystem(fs FileSystem) ManagerOption {
	return func(m *Manager) {
		m.fs = fs
	}
}

// NewManager creates a Manager on top of the given runtime, compiling the
// validation policy from configuration.
func NewManager(logger *zap.Logger, cfg *config.Config, runtime Runtime, opts ...ManagerOption) (*Manager, error) {
	validator, err := lean.NewValidator(lean.Policy{
		AllowedImports:     cfg.Lean.AllowedImports,
		BlockedImports:     cfg.Lean.BlockedImports,
		DisallowedPatterns: cfg.Lean.DisallowedPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid validation policy: %w", err)
	}

	m := &Manager{
		logger:    logger,
		cfg:       cfg,
		runtime:   runtime,
		validator: validator,
		fs:        &RealFileSystem{},
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RunTransient executes code in a fresh container that is torn down on
// every exit path; no sandbox outlives the call.
func (m *Manager) RunTransient(ctx context.Context, code string) (*ExecutionResult, error) {
	if ok, reason := m.validator.Validate(code); !ok {
		return nil, &Error{Kind: ErrValidation, Message: reason}
	}

	tempDir, err := m.fs.MkdirTemp("", "lean-exec-*")
	if err != nil {
		return nil, newRuntimeErrorf("failed to create temp dir: %v", err)
	}
	// MkdirTemp yields 0700; the container user needs to traverse into the
	// bind-mounted directory.
	if err := m.fs.Chmod(tempDir, DirPermission); err != nil {
		m.logger.Warn("failed to relax temp dir permissions", zap.String("path", tempDir), zap.Error(err))
	}
	defer func() {
		if rmErr := m.fs.RemoveAll(tempDir); rmErr != nil {
			m.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	scriptPath := filepath.Join(tempDir, transientScript)
	if err := m.fs.WriteFile(scriptPath, []byte(code), ScriptPermission); err != nil {
		return nil, newRuntimeErrorf("failed to write script: %v", err)
	}

	docker := m.cfg.Docker
	id, err := m.runtime.Create(ctx, CreateSpec{
		Name:            fmt.Sprintf("%s-transient-%s", docker.ContainerNamePrefix, shortID()),
		Image:           docker.Image,
		Cmd:             []string{"lean", "-r", path.Join(docker.WorkingDir, transientScript)},
		WorkingDir:      docker.WorkingDir,
		User:            docker.User,
		MemoryBytes:     int64(docker.MemoryLimitMB) * 1024 * 1024,
		CPUQuota:        cpuQuota(docker.CPULimit),
		NetworkDisabled: docker.NetworkDisabled,
		ReadOnlyRootfs:  docker.ReadOnly,
		Binds:           []string{tempDir + ":" + docker.WorkingDir},
	})
	if err != nil {
		return nil, newRuntimeErrorf("failed to create container: %v", err)
	}
	defer func() {
		if rmErr := m.runtime.Remove(context.WithoutCancel(ctx), id); rmErr != nil && !errors.Is(rmErr, ErrNotFound) {
			m.logger.Error("failed to remove container", zap.String("container", id), zap.Error(rmErr))
		}
	}()

	if err := m.runtime.Start(ctx, id); err != nil {
		return nil, newRuntimeErrorf("failed to start container: %v", err)
	}

	exitCode, err := m.awaitExit(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := m.runtime.Logs(ctx, id)
	if err != nil {
		return nil, newRuntimeErrorf("failed to read container logs: %v", err)
	}
	return m.buildResult(raw, exitCode), nil
}

// awaitExit polls the container state until it exits or the configured
// timeout elapses. On timeout the container gets a best-effort stop; stop
// failures are logged, not raised.
func (m *Manager) awaitExit(ctx context.Context, id string) (int, error) {
	deadline := time.Now().Add(m.cfg.GetTimeout())
	ticker := time.NewTicker(m.cfg.GetPollInterval())
	defer ticker.Stop()

	for {
		state, err := m.runtime.Inspect(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			// Already reaped; nothing left to report on.
			return 0, nil
		case err != nil:
			m.logger.Warn("error checking container state", zap.String("container", id), zap.Error(err))
		case !state.Running:
			return state.ExitCode, nil
		}

		if time.Now().After(deadline) {
			if stopErr := m.runtime.Stop(context.WithoutCancel(ctx), id); stopErr != nil {
				m.logger.Warn("failed to stop container after timeout", zap.String("container", id), zap.Error(stopErr))
			}
			return 0, newRuntimeErrorf("execution timed out after %d seconds", m.cfg.Docker.TimeoutSec)
		}

		select {
		case <-ctx.Done():
			return 0, newRuntimeErrorf("wait interrupted: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}

// RunPersistent executes code inside the session's container, provisioning
// it on first use. Calls on the same session id are serialized; calls on
// different sessions proceed independently.
func (m *Manager) RunPersistent(ctx context.Context, sessionID, code string) (*ExecutionResult, error) {
	if ok, reason := m.validator.Validate(code); !ok {
		return nil, &Error{Kind: ErrValidation, Message: reason}
	}

	s := m.lockSession(sessionID)
	defer s.mu.Unlock()

	if s.containerID == "" {
		if err := m.provisionSession(ctx, sessionID, s); err != nil {
			m.dropSession(sessionID, s)
			return nil, err
		}
	}

	scriptName := fmt.Sprintf("Script_%s.lean", randomSuffix())
	docker := m.cfg.Docker

	if err := m.runtime.CopyFile(ctx, s.containerID, docker.WorkingDir, scriptName, []byte(code)); err != nil {
		if errors.Is(err, ErrNotFound) {
			m.dropSession(sessionID, s)
			return nil, newExpiredError(sessionID)
		}
		return nil, newRuntimeErrorf("failed to write script to container: %v", err)
	}

	exitCode, raw, err := m.runtime.Exec(ctx, s.containerID, ExecSpec{
		Cmd:        []string{"lean", "-r", scriptName},
		WorkingDir: docker.WorkingDir,
		User:       docker.User,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.dropSession(sessionID, s)
			return nil, newExpiredError(sessionID)
		}
		return nil, newRuntimeErrorf("failed to execute code: %v", err)
	}

	// Best-effort removal of the temporary script.
	if _, _, rmErr := m.runtime.Exec(ctx, s.containerID, ExecSpec{
		Cmd:  []string{"rm", "-f", path.Join(docker.WorkingDir, scriptName)},
		User: docker.User,
	}); rmErr != nil {
		m.logger.Warn("failed to remove script file",
			zap.String("session_id", sessionID),
			zap.String("script", scriptName),
			zap.Error(rmErr))
	}

	result := m.buildResult(raw, exitCode)
	result.SessionID = sessionID
	return result, nil
}

// provisionSession creates and starts the session's long-lived container.
// The container always starts with network enabled so the runtime can
// finish its setup; interfaces are disconnected right after when the
// policy disables networking, and disconnect failures are tolerated as
// warnings. The intended policy is recorded on the session either way.
func (m *Manager) provisionSession(ctx context.Context, sessionID string, s *session) error {
	docker := m.cfg.Docker
	id, err := m.runtime.Create(ctx, CreateSpec{
		Name:        fmt.Sprintf("%s-session-%s", docker.ContainerNamePrefix, shortID()),
		Image:       docker.Image,
		Cmd:         []string{"sh", "-c", fmt.Sprintf("cd %s && sleep %d", docker.WorkingDir, sessionKeepaliveSec)},
		WorkingDir:  docker.WorkingDir,
		User:        docker.User,
		MemoryBytes: int64(docker.MemoryLimitMB) * 1024 * 1024,
		CPUQuota:    cpuQuota(docker.CPULimit),
		// Sessions keep state on disk between calls and need network for
		// initial setup.
		NetworkDisabled: false,
		ReadOnlyRootfs:  false,
		Labels: map[string]string{
			labelSessionID:       sessionID,
			labelNetworkDisabled: strconv.FormatBool(docker.NetworkDisabled),
		},
	})
	if err != nil {
		return newRuntimeErrorf("failed to create session container: %v", err)
	}

	if err := m.runtime.Start(ctx, id); err != nil {
		if rmErr := m.runtime.Remove(context.WithoutCancel(ctx), id); rmErr != nil {
			m.logger.Error("failed to remove unstartable container", zap.String("container", id), zap.Error(rmErr))
		}
		return newRuntimeErrorf("failed to start session container: %v", err)
	}

	if docker.NetworkDisabled {
		m.disconnectNetworks(ctx, sessionID, id)
	}

	s.containerID = id
	s.created = time.Now()
	s.networkDisabled = docker.NetworkDisabled
	m.logger.Info("session container created",
		zap.String("session_id", sessionID),
		zap.String("container", id),
		zap.Bool("network_disabled", docker.NetworkDisabled))
	return nil
}

func (m *Manager) disconnectNetworks(ctx context.Context, sessionID, id string) {
	networks, err := m.runtime.Networks(ctx, id)
	if err != nil {
		m.logger.Warn("could not list container networks",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	for _, name := range networks {
		if err := m.runtime.DisconnectNetwork(ctx, id, name); err != nil {
			m.logger.Warn("could not disconnect network",
				zap.String("network", name),
				zap.String("session_id", sessionID),
				zap.Error(err))
			continue
		}
		m.logger.Info("disconnected network",
			zap.String("network", name),
			zap.String("session_id", sessionID))
	}
}

// Cleanup stops and removes a session's container. It is idempotent:
// unknown ids report not_found, and the table entry is dropped even when
// teardown partially fails so no stuck reference survives.
func (m *Manager) Cleanup(ctx context.Context, sessionID string) *CleanupResult {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return &CleanupResult{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("no session found with ID %s", sessionID),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent cleanup may have removed the entry while we waited.
	m.mu.RLock()
	current := m.sessions[sessionID] == s
	m.mu.RUnlock()
	if !current || s.containerID == "" {
		return &CleanupResult{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("no session found with ID %s", sessionID),
		}
	}

	var teardownErr error
	gone := false
	if err := m.runtime.Stop(ctx, s.containerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			gone = true
		} else {
			teardownErr = err
		}
	}
	if !gone {
		if err := m.runtime.Remove(ctx, s.containerID); err != nil {
			if errors.Is(err, ErrNotFound) {
				gone = true
			} else if teardownErr == nil {
				teardownErr = err
			}
		}
	}

	m.dropSession(sessionID, s)

	switch {
	case gone:
		return &CleanupResult{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("session %s not found, may have already been cleaned up", sessionID),
		}
	case teardownErr != nil:
		m.logger.Error("error cleaning up session",
			zap.String("session_id", sessionID), zap.Error(teardownErr))
		return &CleanupResult{
			Status:  StatusError,
			Message: fmt.Sprintf("error cleaning up session %s: %v", sessionID, teardownErr),
		}
	default:
		return &CleanupResult{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("session %s cleaned up successfully", sessionID),
		}
	}
}

// Close tears down every live session; used on shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if res := m.Cleanup(ctx, id); res.Status == StatusError {
			m.logger.Warn("session teardown failed on shutdown",
				zap.String("session_id", id), zap.String("message", res.Message))
		}
	}
}

// buildResult decodes section markers, extracts a diagnostic, and
// classifies the run: success iff the exit code is zero and no diagnostic
// was found.
func (m *Manager) buildResult(raw string, exitCode int) *ExecutionResult {
	output, embedded, ok := decodeSections(raw)
	if ok {
		exitCode = embedded
	}
	diagnostic := lean.ParseDiagnostic(output)

	status := StatusSuccess
	if exitCode != 0 || diagnostic != nil {
		status = StatusError
	}
	return &ExecutionResult{
		Status:     status,
		Output:     output,
		ExitCode:   exitCode,
		Diagnostic: diagnostic,
	}
}

// lockSession returns the table entry for id with its mutex held,
// creating the entry if needed. The loop re-checks table membership after
// acquiring the session lock because a concurrent cleanup may have
// dropped the entry while we waited on it.
func (m *Manager) lockSession(id string) *session {
	for {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if !ok {
			s = &session{}
			m.sessions[id] = s
		}
		m.mu.Unlock()

		s.mu.Lock()
		m.mu.RLock()
		current := m.sessions[id] == s
		m.mu.RUnlock()
		if current {
			return s
		}
		s.mu.Unlock()
	}
}

// dropSession removes the table entry unless a newer session has already
// replaced it under the same id. Callers hold s.mu.
func (m *Manager) dropSession(id string, s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
}

func cpuQuota(cpus float64) int64 {
	// Docker CPU quota is expressed in microseconds per 100ms period.
	return int64(cpus * 100000)
}

func shortID() string {
	return uuid.NewString()[:8]
}

func randomSuffix() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return shortID()
	}
	return hex.EncodeToString(buf)
}
