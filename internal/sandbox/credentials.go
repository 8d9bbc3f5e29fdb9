package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccimen/scc/internal/runtime"
	"github.com/ccimen/scc/internal/scerr"
)

// CredentialLink is one per-user credential directory that should live on
// the persistent volume and be symlinked into place inside the
// container, rather than copied (spec §4.9 step 7: "creates symlinks
// ... to the persistent volume (survives across runs)").
type CredentialLink struct {
	// ContainerPath is where the agent expects to find the credential,
	// e.g. "/root/.claude".
	ContainerPath string
	// VolumeSubdir is this credential's directory under agentDataMountPath.
	VolumeSubdir string
}

// DefaultCredentialLinks is the symlink set for the three providers this
// sandbox provisions: Anthropic (Claude Code's own config), GitHub CLI,
// and SSH keys.
func DefaultCredentialLinks(containerHome string) []CredentialLink {
	return []CredentialLink{
		{ContainerPath: containerHome + "/.claude", VolumeSubdir: "claude"},
		{ContainerPath: containerHome + "/.config/gh", VolumeSubdir: "gh"},
		{ContainerPath: containerHome + "/.ssh", VolumeSubdir: "ssh"},
	}
}

// ProvisionCredentials implements step 7: for each link, ensure its
// directory exists on the mounted persistent volume and point
// ContainerPath at it via a symlink. Run as a one-off exec so it
// completes before step 8 attaches the agent.
func ProvisionCredentials(ctx context.Context, rt runtime.Runtime, containerID string, links []CredentialLink) error {
	var script strings.Builder
	for _, link := range links {
		volumePath := agentDataMountPath + "/" + link.VolumeSubdir
		fmt.Fprintf(&script, "mkdir -p %q && mkdir -p %q && rm -rf %q && ln -sfn %q %q && ",
			volumePath, parentDir(link.ContainerPath), link.ContainerPath, volumePath, link.ContainerPath)
	}
	script.WriteString("true")

	result, err := rt.Exec(ctx, containerID, runtime.ExecOptions{Cmd: []string{"sh", "-c", script.String()}})
	if err != nil {
		return scerr.WrapToolError("container runtime", "provisioning credential symlinks", err)
	}
	if result.ExitCode != 0 {
		return scerr.NewStateError(fmt.Sprintf("credential provisioning script exited %d: %s", result.ExitCode, string(result.Output)))
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
