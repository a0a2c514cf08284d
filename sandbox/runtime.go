package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ErrNotFound reports that a container handle no longer refers to a live
// container. The Manager treats it as session expiry.
var ErrNotFound = errors.New("container not found")

// CreateSpec represents the parameters for provisioning a container
type CreateSpec struct {
	Name            string
	Image           string
	Cmd             []string
	WorkingDir      string
	User            string
	MemoryBytes     int64
	CPUQuota        int64
	NetworkDisabled bool
	ReadOnlyRootfs  bool
	Binds           []string
	Labels          map[string]string
}

// ExecSpec represents a command executed inside a running container
type ExecSpec struct {
	Cmd        []string
	WorkingDir string
	User       string
}

// ContainerState is the running/exited snapshot returned by Inspect
type ContainerState struct {
	Running  bool
	ExitCode int
}

// Runtime is the container-runtime surface the Manager depends on.
// Implementations must return errors wrapping ErrNotFound for handles
// that no longer exist.
type Runtime interface {
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (ContainerState, error)
	Logs(ctx context.Context, id string) (string, error)
	Exec(ctx context.Context, id string, spec ExecSpec) (int, string, error)
	CopyFile(ctx context.Context, id, dir, name string, content []byte) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Networks(ctx context.Context, id string) ([]string, error)
	DisconnectNetwork(ctx context.Context, id, network string) error
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
	// ScriptPermission is world-readable: bind-mounted scripts are read by
	// the unprivileged container user, not the host user that wrote them.
	ScriptPermission = 0644
)

// FileSystem defines an interface for the host file system operations the
// transient execution path needs
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Chmod(name string, mode os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) Chmod(name string, mode os.FileMode) error {
	return os.Chmod(name, mode)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, dir string, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments in dir
func (RealCommandRunner) RunCommand(ctx context.Context, dir string, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input
	cmd.Dir = dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
			err = nil
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, err
}
