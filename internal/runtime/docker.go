package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ccimen/scc/internal/log"
)

// DockerRuntime implements Runtime using the Docker engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime creates a new Docker runtime from the ambient Docker
// environment (DOCKER_HOST, TLS certs, etc).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// NewRuntime creates a Docker runtime and verifies it's accessible.
func NewRuntime(ctx context.Context) (Runtime, error) {
	rt, err := NewDockerRuntime()
	if err != nil {
		return nil, fmt.Errorf("no container runtime available: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("no container runtime available: %w", err)
	}
	log.Info("using Docker runtime")
	return rt, nil
}

// EnsureVolume creates a named Docker volume if it doesn't already exist.
func (r *DockerRuntime) EnsureVolume(ctx context.Context, name string) error {
	_, err := r.cli.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting volume %s: %w", name, err)
	}
	if _, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return fmt.Errorf("creating volume %s: %w", name, err)
	}
	return nil
}

// Ping verifies the Docker daemon is accessible.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// CreateContainer creates a new Docker container.
func (r *DockerRuntime) CreateContainer(ctx context.Context, cfg Config) (string, error) {
	if err := r.ensureImage(ctx, cfg.Image); err != nil {
		return "", err
	}

	mounts := make([]mount.Mount, len(cfg.Mounts))
	for i, m := range cfg.Mounts {
		mt := mount.TypeBind
		if m.Volume {
			mt = mount.TypeVolume
		}
		mounts[i] = mount.Mount{
			Type:     mt,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}
	}

	networkMode := container.NetworkMode(cfg.NetworkMode)
	if cfg.NetworkMode == "" {
		networkMode = "bridge"
	}

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	var memoryBytes int64
	if cfg.MemoryMB > 0 {
		memoryBytes = int64(cfg.MemoryMB) * 1024 * 1024
	}

	var cpuQuota, cpuPeriod int64
	if cfg.CPUs > 0 {
		cpuPeriod = 100000
		cpuQuota = int64(cfg.CPUs) * cpuPeriod
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      cfg.Image,
			Cmd:        cfg.Cmd,
			WorkingDir: cfg.WorkingDir,
			Env:        cfg.Env,
			User:       cfg.User,
			Tty:        cfg.Interactive,
			OpenStdin:  cfg.Interactive,
			Labels:     labels,
		},
		&container.HostConfig{
			Mounts:      mounts,
			NetworkMode: networkMode,
			Privileged:  cfg.Privileged,
			DNS:         defaultDNS(cfg.DNS),
			Resources: container.Resources{
				Memory:    memoryBytes,
				CPUQuota:  cpuQuota,
				CPUPeriod: cpuPeriod,
			},
		},
		nil,
		nil,
		cfg.Name,
	)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

// defaultDNS returns the supplied DNS list, or Google DNS if empty. Container
// runtime defaults are sometimes unreliable, so a resolvable fallback keeps
// marketplace/image pulls from failing inside the sandbox.
func defaultDNS(dns []string) []string {
	if len(dns) == 0 {
		return []string{"8.8.8.8", "8.8.4.4"}
	}
	return dns
}

// StartContainer starts an existing container.
func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}
	return nil
}

// StopContainer stops a running container.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("stopping container: %w", err)
	}
	return nil
}

// WaitContainer blocks until the container exits.
func (r *DockerRuntime) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		return status.StatusCode, nil
	}
}

// RemoveContainer removes a container. Not-found is treated as success.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// ContainerLogsAll returns all logs from a container (does not follow). The
// logs are demultiplexed from Docker's format when the container is not a TTY.
func (r *DockerRuntime) ContainerLogsAll(ctx context.Context, id string) ([]byte, error) {
	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("getting container logs: %w", err)
	}
	defer reader.Close()

	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspecting container to determine log format: %w", err)
	}

	if inspect.Config.Tty {
		return io.ReadAll(reader)
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("demuxing logs: %w", err)
	}
	return append(stdout.Bytes(), stderr.Bytes()...), nil
}

// ContainerState returns the state of a container.
func (r *DockerRuntime) ContainerState(ctx context.Context, id string) (string, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	return inspect.State.Status, nil
}

// ListManaged returns all containers carrying ManagedLabel.
func (r *DockerRuntime) ListManaged(ctx context.Context) ([]Info, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	var result []Info
	for _, c := range containers {
		if c.Labels[ManagedLabel] != "true" {
			continue
		}
		name := strings.TrimPrefix(firstOrEmpty(c.Names), "/")
		result = append(result, Info{
			ID:      c.ID[:12],
			Name:    name,
			Image:   c.Image,
			Status:  c.State,
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0),
		})
	}
	return result, nil
}

func firstOrEmpty(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Exec runs a one-off command inside a running container and waits for it to
// complete, without attaching a terminal. Used for credential provisioning.
func (r *DockerRuntime) Exec(ctx context.Context, id string, opts ExecOptions) (ExecResult, error) {
	execID, err := r.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          opts.Cmd,
		Env:          opts.Env,
		User:         opts.User,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec: %w", err)
	}

	resp, err := r.cli.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("attaching exec: %w", err)
	}
	defer resp.Close()

	var out bytes.Buffer
	_, _ = io.Copy(&out, resp.Reader)

	inspect, err := r.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("inspecting exec: %w", err)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Output: out.Bytes()}, nil
}

// Attach connects stdin/stdout/stderr to a running container.
func (r *DockerRuntime) Attach(ctx context.Context, id string, opts AttachOptions) error {
	resp, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  opts.Stdin != nil,
		Stdout: opts.Stdout != nil,
		Stderr: opts.Stderr != nil,
	})
	if err != nil {
		return fmt.Errorf("attaching to container: %w", err)
	}
	defer resp.Close()

	done := pumpAttached(resp, opts)
	return waitIO(ctx, done)
}

// StartAttached starts a container with stdin/stdout/stderr already attached.
// The attach happens before start so output is never dropped between the
// container's first write and the goroutines that copy it out.
func (r *DockerRuntime) StartAttached(ctx context.Context, id string, opts AttachOptions) error {
	resp, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  opts.Stdin != nil,
		Stdout: opts.Stdout != nil,
		Stderr: opts.Stderr != nil,
	})
	if err != nil {
		return fmt.Errorf("attaching to container: %w", err)
	}
	defer resp.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := resp.Conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting connection deadline: %w", err)
		}
	}

	done := pumpAttached(resp, opts)

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container: %w", err)
	}

	if opts.TTY && opts.InitialWidth > 0 && opts.InitialHeight > 0 {
		_ = r.ResizeTTY(ctx, id, opts.InitialHeight, opts.InitialWidth)
	}

	return waitIO(ctx, done)
}

// attachPump is the pair of channels a bidirectional attach copy reports on.
type attachPump struct {
	output chan error
	stdin  chan error
}

// pumpAttached wires up the bidirectional copy between a hijacked Docker
// attach connection and the caller's stdin/stdout/stderr. Containers here
// are always created with Tty: true when interactive, so output is never
// multiplexed and a single io.Copy suffices.
func pumpAttached(resp types.HijackedResponse, opts AttachOptions) attachPump {
	p := attachPump{output: make(chan error, 1), stdin: make(chan error, 1)}

	go func() {
		_, err := io.Copy(opts.Stdout, resp.Reader)
		p.output <- err
	}()

	if opts.Stdin != nil {
		go func() {
			_, err := io.Copy(resp.Conn, opts.Stdin)
			if closeWriter, ok := resp.Conn.(interface{ CloseWrite() error }); ok {
				if closeErr := closeWriter.CloseWrite(); closeErr != nil && err == nil {
					err = closeErr
				}
			}
			p.stdin <- err
		}()
	}

	return p
}

// waitIO blocks until the container's output stream ends (or ctx is
// canceled), ignoring a clean stdin EOF along the way — stdin closing
// doesn't mean the agent process has finished writing output.
func waitIO(ctx context.Context, p attachPump) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-p.stdin:
			if err != nil && err != io.EOF {
				return err
			}
		case err := <-p.output:
			if err != nil && err != io.EOF {
				return err
			}
			return nil
		}
	}
}

// ResizeTTY resizes the container's TTY to the given dimensions.
func (r *DockerRuntime) ResizeTTY(ctx context.Context, id string, height, width uint) error {
	return r.cli.ContainerResize(ctx, id, container.ResizeOptions{Height: height, Width: width})
}

// Close releases Docker client resources.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// ensureImage pulls an image if it doesn't exist locally.
func (r *DockerRuntime) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", imageName, err)
	}

	log.Info("pulling image", "image", imageName)
	reader, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

