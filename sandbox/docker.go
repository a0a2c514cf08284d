package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/misanthropic-ai/lean-docker-mcp/config"
)

// DockerRuntime implements Runtime against a Docker daemon using the
// official client SDK. Scripts are injected with the archive API rather
// than shell quoting, so untrusted code never passes through a shell
// command line.
type DockerRuntime struct {
	logger       *zap.Logger
	cli          *client.Client
	stopGraceSec int
}

// NewDockerRuntime connects to the daemon configured in the environment.
func NewDockerRuntime(logger *zap.Logger, cfg *config.Config) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{
		logger:       logger,
		cli:          cli,
		stopGraceSec: cfg.Docker.StopGraceSec,
	}, nil
}

// Create provisions a container from the spec without starting it.
func (d *DockerRuntime) Create(ctx context.Context, spec CreateSpec) (string, error) {
	cfg, hostCfg := containerConfigs(spec)
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", wrapNotFound(err)
	}
	return resp.ID, nil
}

// containerConfigs translates a CreateSpec into Docker API objects.
func containerConfigs(spec CreateSpec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             strslice.StrSlice(spec.Cmd),
		WorkingDir:      spec.WorkingDir,
		User:            spec.User,
		NetworkDisabled: spec.NetworkDisabled,
		Labels:          spec.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds:          spec.Binds,
		ReadonlyRootfs: spec.ReadOnlyRootfs,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			CPUQuota: spec.CPUQuota,
		},
	}
	return cfg, hostCfg
}

func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	return wrapNotFound(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *DockerRuntime) Inspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, wrapNotFound(err)
	}
	var state ContainerState
	if info.State != nil {
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
	}
	return state, nil
}

// Logs returns the container's combined stdout and stderr.
func (d *DockerRuntime) Logs(ctx context.Context, id string) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", wrapNotFound(err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return buf.String(), nil
}

// Exec runs a command inside a running container and returns its exit code
// and combined output.
func (d *DockerRuntime) Exec(ctx context.Context, id string, spec ExecSpec) (int, string, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          spec.Cmd,
		WorkingDir:   spec.WorkingDir,
		User:         spec.User,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, "", wrapNotFound(err)
	}

	att, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", wrapNotFound(err)
	}
	defer att.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, att.Reader); err != nil {
		return 0, "", fmt.Errorf("failed to read exec output: %w", err)
	}

	info, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, "", wrapNotFound(err)
	}
	return info.ExitCode, buf.String(), nil
}

// CopyFile places a single file into dir inside the container.
func (d *DockerRuntime) CopyFile(ctx context.Context, id, dir, name string, content []byte) error {
	archive, err := tarArchive(name, content)
	if err != nil {
		return err
	}
	return wrapNotFound(d.cli.CopyToContainer(ctx, id, dir, archive, container.CopyToContainerOptions{}))
}

func (d *DockerRuntime) Stop(ctx context.Context, id string) error {
	grace := d.stopGraceSec
	return wrapNotFound(d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace}))
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	return wrapNotFound(d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

// Networks lists the networks the container is attached to.
func (d *DockerRuntime) Networks(ctx context.Context, id string) ([]string, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	if info.NetworkSettings == nil {
		return nil, nil
	}
	names := make([]string, 0, len(info.NetworkSettings.Networks))
	for name := range info.NetworkSettings.Networks {
		names = append(names, name)
	}
	return names, nil
}

func (d *DockerRuntime) DisconnectNetwork(ctx context.Context, id, network string) error {
	return wrapNotFound(d.cli.NetworkDisconnect(ctx, network, id, true))
}

// wrapNotFound maps the daemon's not-found condition onto ErrNotFound so
// the Manager can treat stale handles as session expiry.
func wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// tarArchive wraps a single file into an uncompressed tar stream suitable
// for the archive copy API.
func tarArchive(name string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar archive: %w", err)
	}
	return &buf, nil
}
