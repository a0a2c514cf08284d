package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalRuntime implements Runtime with bare host processes and temp
// directories instead of containers. It provides no isolation whatsoever
// and exists so the full stack can run on machines without a container
// daemon; it must be explicitly enabled in configuration.
type LocalRuntime struct {
	logger    *zap.Logger
	fs        FileSystem
	cmdRunner CommandRunner

	mu         sync.Mutex
	containers map[string]*localContainer
}

// localContainer is one simulated container: a directory plus, while a
// command runs, a host process.
type localContainer struct {
	mu       sync.Mutex
	spec     CreateSpec
	dir      string
	ownsDir  bool
	running  bool
	exitCode int
	output   string
	cancel   context.CancelFunc
}

// LocalRuntimeOption defines a functional option for LocalRuntime
type LocalRuntimeOption func(*LocalRuntime)

// WithLocalFileSystem sets the FileSystem for LocalRuntime
func WithLocalFileSystem(fs FileSystem) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.fs = fs
	}
}

// WithLocalCommandRunner sets the CommandRunner for LocalRuntime
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.cmdRunner = cmdRunner
	}
}

// NewLocalRuntime creates a LocalRuntime with default implementations and
// optional interfaces
func NewLocalRuntime(logger *zap.Logger, opts ...LocalRuntimeOption) *LocalRuntime {
	rt := &LocalRuntime{
		logger:     logger,
		fs:         &RealFileSystem{},
		cmdRunner:  &RealCommandRunner{},
		containers: make(map[string]*localContainer),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Create allocates a working directory for the simulated container. When
// the spec binds a host directory it is used directly; otherwise a temp
// directory is created and removed with the container.
func (l *LocalRuntime) Create(_ context.Context, spec CreateSpec) (string, error) {
	c := &localContainer{spec: spec}

	if len(spec.Binds) > 0 {
		hostDir, _, found := strings.Cut(spec.Binds[0], ":")
		if found {
			c.dir = hostDir
		}
	}
	if c.dir == "" {
		dir, err := l.fs.MkdirTemp("", "lean-local-*")
		if err != nil {
			return "", err
		}
		c.dir = dir
		c.ownsDir = true
	}

	id := uuid.NewString()
	l.mu.Lock()
	l.containers[id] = c
	l.mu.Unlock()
	return id, nil
}

// Start launches the container's entry command. A shell keepalive command
// marks the container as a long-lived session without spawning a process;
// a local session is just its directory.
func (l *LocalRuntime) Start(ctx context.Context, id string) error {
	c, err := l.lookup(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true

	if len(c.spec.Cmd) > 0 && c.spec.Cmd[0] == "sh" {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	args := rewriteArgs(c.spec.Cmd, c.spec.WorkingDir)
	go func() {
		stdout, stderr, exitCode, runErr := l.cmdRunner.RunCommand(runCtx, c.dir, args)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.output = stdout + stderr
		c.exitCode = exitCode
		c.running = false
		if runErr != nil {
			l.logger.Warn("local command failed", zap.Strings("args", args), zap.Error(runErr))
			c.exitCode = 1
		}
	}()
	return nil
}

func (l *LocalRuntime) Inspect(_ context.Context, id string) (ContainerState, error) {
	c, err := l.lookup(id)
	if err != nil {
		return ContainerState{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContainerState{Running: c.running, ExitCode: c.exitCode}, nil
}

func (l *LocalRuntime) Logs(_ context.Context, id string) (string, error) {
	c, err := l.lookup(id)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, nil
}

// Exec runs a command synchronously inside the container's directory.
func (l *LocalRuntime) Exec(ctx context.Context, id string, spec ExecSpec) (int, string, error) {
	c, err := l.lookup(id)
	if err != nil {
		return 0, "", err
	}
	args := rewriteArgs(spec.Cmd, c.spec.WorkingDir)
	stdout, stderr, exitCode, runErr := l.cmdRunner.RunCommand(ctx, c.dir, args)
	if runErr != nil {
		return 0, "", runErr
	}
	return exitCode, stdout + stderr, nil
}

func (l *LocalRuntime) CopyFile(_ context.Context, id, _, name string, content []byte) error {
	c, err := l.lookup(id)
	if err != nil {
		return err
	}
	return l.fs.WriteFile(c.dir+"/"+name, content, FilePermission)
}

func (l *LocalRuntime) Stop(_ context.Context, id string) error {
	c, err := l.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	return nil
}

func (l *LocalRuntime) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	c, ok := l.containers[id]
	delete(l.containers, id)
	l.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.ownsDir {
		if err := l.fs.RemoveAll(c.dir); err != nil {
			l.logger.Warn("failed to remove local container dir", zap.String("path", c.dir), zap.Error(err))
		}
	}
	return nil
}

// Networks reports no attachments; local processes have no network to
// disconnect.
func (l *LocalRuntime) Networks(_ context.Context, id string) ([]string, error) {
	if _, err := l.lookup(id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (l *LocalRuntime) DisconnectNetwork(_ context.Context, id, _ string) error {
	_, err := l.lookup(id)
	return err
}

func (l *LocalRuntime) lookup(id string) (*localContainer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.containers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// rewriteArgs maps container-absolute paths under workingDir to paths
// relative to the local directory the command runs in.
func rewriteArgs(args []string, workingDir string) []string {
	if workingDir == "" {
		return args
	}
	rewritten := make([]string, len(args))
	for i, arg := range args {
		if rest, ok := strings.CutPrefix(arg, workingDir+"/"); ok {
			rewritten[i] = rest
			continue
		}
		rewritten[i] = arg
	}
	return rewritten
}
