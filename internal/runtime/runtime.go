// Package runtime provides an abstraction over the container runtime used to
// launch sandboxes. Docker is the only backend; the interface is kept narrow
// (create/start/stop/wait/remove/logs/attach) because the sandbox orchestrator
// needs exactly one container per run, no sidecars, no image builds, no
// inter-container networking.
package runtime

import (
	"context"
	"io"
	"time"
)

// ManagedLabel is set on every container this system creates, so prune
// operations can act only on managed containers and never on unrelated
// workloads.
const ManagedLabel = "com.ccimen.scc.managed"

// Runtime is the interface for container runtime operations.
type Runtime interface {
	// Ping verifies the runtime is accessible.
	Ping(ctx context.Context) error

	// EnsureVolume creates a named persistent volume if it doesn't already
	// exist. Idempotent.
	EnsureVolume(ctx context.Context, name string) error

	// CreateContainer creates a new container without starting it.
	// Returns the container ID.
	CreateContainer(ctx context.Context, cfg Config) (string, error)

	// StartContainer starts an existing container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, id string) error

	// WaitContainer blocks until the container exits and returns the exit code.
	WaitContainer(ctx context.Context, id string) (int64, error)

	// RemoveContainer removes a container. Not-found is treated as success.
	RemoveContainer(ctx context.Context, id string) error

	// ContainerLogsAll returns all logs from a container (does not follow).
	ContainerLogsAll(ctx context.Context, id string) ([]byte, error)

	// ContainerState returns the state of a container ("running", "exited",
	// "created", etc). Returns an error if the container doesn't exist.
	ContainerState(ctx context.Context, id string) (string, error)

	// ListManaged returns all containers carrying ManagedLabel.
	ListManaged(ctx context.Context) ([]Info, error)

	// Exec runs a one-off command inside a running container and waits for
	// it to complete, without attaching any terminal. Used for the
	// credential-provisioning step.
	Exec(ctx context.Context, id string, opts ExecOptions) (ExecResult, error)

	// Attach connects stdin/stdout/stderr to a running container.
	// Returns when the attachment ends (container exits or context canceled).
	Attach(ctx context.Context, id string, opts AttachOptions) error

	// StartAttached starts a container with stdin/stdout/stderr already
	// attached, required so the agent process sees a connected terminal from
	// its first write.
	StartAttached(ctx context.Context, id string, opts AttachOptions) error

	// ResizeTTY resizes the container's TTY to the given dimensions.
	ResizeTTY(ctx context.Context, id string, height, width uint) error

	// Close releases runtime resources.
	Close() error
}

// Config holds configuration for creating a container.
type Config struct {
	Name        string
	Image       string
	Cmd         []string
	WorkingDir  string
	Env         []string
	User        string
	Mounts      []MountConfig
	NetworkMode string // "bridge" (default) or "none"
	Labels      map[string]string
	Privileged  bool
	Interactive bool
	MemoryMB    int
	CPUs        int
	DNS         []string
}

// MountConfig describes a volume or bind mount.
type MountConfig struct {
	Source   string // host path or named volume
	Target   string
	ReadOnly bool
	Volume   bool // true for a named volume, false for a bind mount
}

// ExecOptions configures a one-off, non-interactive exec.
type ExecOptions struct {
	Cmd  []string
	User string
	Env  []string
}

// ExecResult is the outcome of a one-off exec.
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// AttachOptions configures container attachment.
type AttachOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	TTY    bool

	InitialWidth  uint
	InitialHeight uint
}

// Info describes a managed container.
type Info struct {
	ID      string
	Name    string
	Image   string
	Status  string
	Labels  map[string]string
	Created time.Time
}
