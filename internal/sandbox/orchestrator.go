package sandbox

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ccimen/scc/internal/name"
	"github.com/ccimen/scc/internal/pattern"
	"github.com/ccimen/scc/internal/runtime"
	"github.com/ccimen/scc/internal/scerr"
)

const friendlyNameLabel = "com.ccimen.scc.friendly-name"

const agentDataVolume = "agent-data"
const agentDataMountPath = "/mnt/agent-data"
const workspaceMountPath = "/workspace"

// Orchestrator runs the detach→symlink→exec launch sequence (spec §4.9)
// on top of a runtime.Runtime. Grounded on the teacher's internal/run.Run
// state machine (SetStateWithTime's locking discipline, one state field
// guarded by one mutex) and internal/container/docker.go's container
// labeling, generalized from the teacher's multi-container/sidecar model
// down to the single container this spec calls for.
type Orchestrator struct {
	rt      runtime.Runtime
	lockDir string
}

// New returns an Orchestrator backed by rt, using lockDir for
// single-session-per-branch advisory locks.
func New(rt runtime.Runtime, lockDir string) *Orchestrator {
	return &Orchestrator{rt: rt, lockDir: lockDir}
}

// ProvisionFunc performs step 7's credential symlink provisioning inside
// the running container. Supplied by the caller so this package doesn't
// need to depend on a specific credential backend.
type ProvisionFunc func(ctx context.Context, rt runtime.Runtime, containerID string) error

// Launch runs the full sequence. workspace/branch identify the session
// for the lock; blockedImagePatterns is the org's configured
// security.blocked_base_images list, re-checked here after normalizing
// an untagged image (spec §4.9 step 5). attach runs step 8 (the
// interactive agent exec) and returns its exit code.
func (o *Orchestrator) Launch(ctx context.Context, workspace, branch string, spec Spec, blockedImagePatterns []string, settingsWrite func() error, provision ProvisionFunc, attach func(ctx context.Context, rt runtime.Runtime, containerID string) (int, error)) (*Result, error) {
	// Step 1: advisory lock, single session per branch.
	release, err := acquireSessionLock(o.lockDir, workspace, branch)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 5: give an untagged image the ":latest" tag, then re-check blocks.
	imageRef := normalizeImageTag(spec.ImageRef)
	if p, blocked := pattern.MatchesAnyImage(imageRef, blockedImagePatterns); blocked {
		return nil, scerr.NewPolicyError(fmt.Sprintf("base image %q is blocked by pattern %q", imageRef, p), p, "org")
	}

	// Step 3: write managed settings into the project's .claude directory.
	if settingsWrite != nil {
		if err := settingsWrite(); err != nil {
			return nil, scerr.WrapConfigError("writing project settings", err)
		}
	}

	// Step 2: ensure the persistent agent-data volume exists.
	if err := o.rt.EnsureVolume(ctx, agentDataVolume); err != nil {
		return nil, scerr.WrapToolError("container runtime", "ensuring agent-data volume", err)
	}

	// Step 4, 6: mounts + detached container start.
	mounts := []runtime.MountConfig{
		{Source: spec.WorkspaceHost, Target: workspaceMountPath, Volume: false},
		{Source: agentDataVolume, Target: agentDataMountPath, Volume: true},
	}
	for _, m := range spec.ExtraMounts {
		mounts = append(mounts, runtime.MountConfig{Source: m.Host, Target: m.Ctr, ReadOnly: m.ReadOnly})
	}

	friendlyName := spec.FriendlyName
	if friendlyName == "" {
		friendlyName = name.Generate()
	}

	cfg := runtime.Config{
		Name:        containerName(workspace, branch),
		Image:       imageRef,
		WorkingDir:  joinWorkdir(workspaceMountPath, spec.WorkingDir),
		Env:         envSlice(spec.Env),
		User:        spec.UserGroup,
		Mounts:      mounts,
		NetworkMode: networkMode(spec.NetworkPolicy),
		Labels:      map[string]string{runtime.ManagedLabel: "true", friendlyNameLabel: friendlyName},
		Interactive: true,
	}

	containerID, err := o.rt.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, scerr.WrapToolError("container runtime", "creating sandbox container", err)
	}

	if err := o.rt.StartContainer(ctx, containerID); err != nil {
		_ = o.rt.RemoveContainer(context.Background(), containerID)
		return nil, scerr.WrapToolError("container runtime", "starting sandbox container", err)
	}

	handle := Handle{ContainerID: containerID, Workspace: workspace, Branch: branch}

	// Step 7: credential symlink provisioning. Non-fatal.
	var warn string
	if provision != nil {
		if err := provision(ctx, o.rt, containerID); err != nil {
			warn = fmt.Sprintf("credential provisioning failed, continuing without it: %v", err)
		}
	}

	// Step 8: attach the agent to the user's terminal.
	exitCode, err := attach(ctx, o.rt, containerID)
	if err != nil {
		return nil, scerr.WrapToolError("container runtime", "attaching to sandbox", err)
	}

	return &Result{Handle: handle, ExitCode: exitCode, ProvisioningWarn: warn}, nil
}

// Observe reports a handle's current status, treating "no such container"
// as the observational Unknown state rather than an error.
func (o *Orchestrator) Observe(ctx context.Context, h Handle) (Observation, error) {
	state, err := o.rt.ContainerState(ctx, h.ContainerID)
	if err != nil {
		return Observation{Status: StatusUnknown}, nil
	}
	switch state {
	case "created":
		return Observation{Status: StatusCreated}, nil
	case "running":
		return Observation{Status: StatusRunning}, nil
	case "exited", "dead":
		return Observation{Status: StatusStopped}, nil
	default:
		return Observation{Status: StatusUnknown}, nil
	}
}

func normalizeImageTag(ref string) string {
	last := ref
	if idx := strings.LastIndex(ref, "/"); idx >= 0 {
		last = ref[idx+1:]
	}
	if strings.Contains(last, ":") {
		return ref
	}
	return ref + ":latest"
}

func networkMode(policy string) string {
	if policy == "none" {
		return "none"
	}
	return "bridge"
}

func joinWorkdir(base, sub string) string {
	if sub == "" || sub == "." {
		return base
	}
	return base + "/" + strings.TrimPrefix(sub, "/")
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func containerName(workspace, branch string) string {
	base := fmt.Sprintf("scc-%s-%s", sanitizeName(lastPathComponent(workspace)), sanitizeName(branch))
	return base
}

func lastPathComponent(path string) string {
	trimmed := strings.TrimRight(path, string(os.PathSeparator))
	if idx := strings.LastIndex(trimmed, string(os.PathSeparator)); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
