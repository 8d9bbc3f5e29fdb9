package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccimen/scc/internal/configsource"
	"github.com/ccimen/scc/internal/exception"
	"github.com/ccimen/scc/internal/log"
	"github.com/ccimen/scc/internal/marketplace"
	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/policy"
	"github.com/ccimen/scc/internal/runtime"
	"github.com/ccimen/scc/internal/sandbox"
	"github.com/ccimen/scc/internal/scerr"
	"github.com/ccimen/scc/internal/sessionstore"
	"github.com/ccimen/scc/internal/settings"
	"github.com/ccimen/scc/internal/workspace"
	"github.com/ccimen/scc/internal/worktree"
	"github.com/spf13/cobra"
)

var (
	launchTeam      string
	launchBranch    string
	launchImage     string
	launchOrgURL    string
	launchOrgAuth   string
	launchNoNetwork bool
	launchProtected string
)

var launchCmd = &cobra.Command{
	Use:   "launch [path]",
	Short: "Launch a sandboxed agent run in the current workspace",
	Long: `launch resolves the workspace, computes the effective plugin/MCP
policy for the configured team, materializes any marketplaces the
policy references, renders and merges the managed settings fragment,
then starts the sandbox container and attaches the caller's terminal
to it (spec §4.9's detach -> symlink -> exec sequence).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)
	launchCmd.Flags().StringVar(&launchTeam, "team", "", "team profile to apply (required)")
	launchCmd.Flags().StringVar(&launchBranch, "branch", "", "branch identifying this session (defaults to the current git branch)")
	launchCmd.Flags().StringVar(&launchImage, "image", "", "base image to launch (required)")
	launchCmd.Flags().StringVar(&launchOrgURL, "org-config-url", "", "remote URL to fetch org_config.json from")
	launchCmd.Flags().StringVar(&launchOrgAuth, "org-config-auth", "", "auth spec for --org-config-url (env:VAR, command:CMD or null); the resolved token is sent as a bearer token")
	launchCmd.Flags().BoolVar(&launchNoNetwork, "no-network", false, "launch with network policy \"none\"")
	launchCmd.Flags().StringVar(&launchProtected, "protected-branch-decision", string(worktree.ProtectedCancel), "what to do when --branch names a protected branch: create|continue|cancel")
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ed, err := os.Getwd()
	if err != nil {
		return scerr.WrapConfigError("resolving current directory", err)
	}
	explicit := ""
	if len(args) == 1 {
		explicit = args[0]
	}

	decision, err := workspace.Resolve(ed, explicit)
	if err != nil {
		return err
	}
	for _, w := range decision.Warnings {
		log.Warn(w)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return scerr.WrapConfigError("resolving home directory", err)
	}
	configDir := filepath.Join(home, ".scc")
	cacheDir := filepath.Join(home, ".scc", "cache")

	org, err := loadOrgConfig(ctx, configDir, cacheDir)
	if err != nil {
		return err
	}
	if launchTeam == "" {
		return scerr.NewUsageError("--team is required", "pass --team <name>")
	}
	if launchImage == "" {
		return scerr.NewUsageError("--image is required", "pass --image <ref>")
	}
	branch := launchBranch
	if branch == "" {
		branch = currentGitBranch(decision.MR)
	}
	if worktree.IsProtected(branch, worktree.DefaultProtectedBranches) {
		decisionVal, err := worktree.ParseProtectedDecision(launchProtected)
		if err != nil {
			return err
		}
		if decisionVal == worktree.ProtectedCancel {
			return scerr.NewUsageError(
				fmt.Sprintf("%q is a protected branch", branch),
				"pass --protected-branch-decision=create or --protected-branch-decision=continue",
			)
		}
		log.Warn("launching on protected branch", "branch", branch, "decision", string(decisionVal))
	}

	project, err := orgconfig.LoadProjectConfig(decision.MR)
	if err != nil {
		return err
	}

	exceptionStore := exception.NewStore(filepath.Join(decision.WR, ".scc", "exceptions.json"))
	exceptions, err := exceptionStore.Load(time.Now())
	if err != nil {
		return err
	}
	userExceptionStore := exception.NewStore(filepath.Join(configDir, "exceptions.json"))
	userExceptions, err := userExceptionStore.Load(time.Now())
	if err != nil {
		return err
	}
	exceptions = append(exceptions, userExceptions...)

	effective, err := policy.Compute(policy.Input{
		Org:        org,
		Team:       launchTeam,
		Project:    project,
		Exceptions: exceptions,
		ImageRef:   launchImage,
	})
	if err != nil {
		return err
	}
	for _, b := range effective.Blocked {
		log.Warn("blocked by security policy", "ref", b.Ref, "pattern", b.Pattern, "layer", string(b.Layer))
	}
	for _, d := range effective.Denied {
		log.Warn("denied", "ref", d.Ref, "reason", d.Reason)
	}

	marketplacesDir := filepath.Join(decision.WR, ".claude", ".scc-marketplaces")
	materializer := marketplace.NewMaterializer(marketplacesDir)
	dirs := settings.MarketplaceDir{}
	for _, name := range effective.ExtraMarketplaces {
		entry, ok := org.Marketplaces[name]
		if !ok {
			continue
		}
		if _, err := materializer.Materialize(ctx, name, entry.Source, false); err != nil {
			return err
		}
		rel, err := filepath.Rel(decision.WR, materializer.Dir(name))
		if err != nil {
			return scerr.WrapConfigError("computing marketplace relative path", err)
		}
		dirs[name] = rel
	}

	settingsPath := filepath.Join(decision.WR, ".claude", "settings.local.json")
	settingsWrite := func() error {
		existing, err := settings.Load(settingsPath)
		if err != nil {
			return err
		}
		managed, err := settings.LoadManagedState(settingsPath)
		if err != nil {
			return err
		}
		fragment, err := settings.Render(effective, dirs)
		if err != nil {
			return err
		}
		merged, newManaged := settings.Merge(existing, fragment, managed)
		return settings.Save(settingsPath, merged, newManaged)
	}

	rt, err := runtime.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	networkPolicy := "bridge"
	if launchNoNetwork {
		networkPolicy = "none"
	}

	spec := sandbox.Spec{
		ImageRef:      launchImage,
		WorkspaceHost: decision.WR,
		WorkspaceCtr:  decision.CW,
		WorkingDir:    decision.CW,
		NetworkPolicy: networkPolicy,
	}

	if mount, ok, err := sandbox.WriteSafetyNetMount(filepath.Join(cacheDir, "safety-net"), org.Security.SafetyNet); err != nil {
		return err
	} else if ok {
		spec.ExtraMounts = append(spec.ExtraMounts, mount)
	}

	orch := sandbox.New(rt, filepath.Join(configDir, "locks"))
	provision := func(ctx context.Context, rt runtime.Runtime, containerID string) error {
		return sandbox.ProvisionCredentials(ctx, rt, containerID, sandbox.DefaultCredentialLinks("/root"))
	}

	store := sessionstore.NewStore(filepath.Join(configDir, "sessions"))
	rec := sessionstore.SessionRecord{
		ID:        sessionstore.NewSessionID(),
		Workspace: decision.WR,
		Branch:    branch,
		Team:      launchTeam,
		Status:    sessionstore.StatusRunning,
		StartedAt: time.Now(),
	}
	if err := store.Append(rec); err != nil {
		log.Error("failed to record session start", "error", err)
	}

	result, err := orch.Launch(ctx, decision.WR, branch, spec, org.Security.BlockedBaseImages, settingsWrite, provision, attachInteractive)
	endedAt := time.Now()
	rec.EndedAt = &endedAt
	rec.Status = sessionstore.StatusStopped
	if err != nil {
		_ = store.Append(rec)
		return err
	}
	rec.ContainerHandle = result.Handle.ContainerID
	if appendErr := store.Append(rec); appendErr != nil {
		log.Error("failed to record session end", "error", appendErr)
	}
	if result.ProvisioningWarn != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), result.ProvisioningWarn)
	}
	return nil
}

func loadOrgConfig(ctx context.Context, configDir, cacheDir string) (*orgconfig.OrganizationConfig, error) {
	if launchOrgURL == "" {
		org, err := orgconfig.Load(filepath.Join(configDir, "org_config.json"))
		if err != nil {
			return nil, err
		}
		if org == nil {
			return nil, scerr.NewPrerequisiteError(
				"no org config found",
				"pass --org-config-url or place one at ~/.scc/org_config.json",
			)
		}
		return org, nil
	}

	loader := configsource.NewLoader(cacheDir)
	result, err := loader.Fetch(ctx, "org_config", launchOrgURL, launchOrgAuth, nil, time.Hour, false)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cacheDir, "org_config.fetched.json")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, scerr.WrapConfigError("preparing cache directory", err)
	}
	if err := os.WriteFile(path, result.Body, 0o644); err != nil {
		return nil, scerr.WrapConfigError("writing fetched org config", err)
	}
	return orgconfig.Load(path)
}

func currentGitBranch(repoRoot string) string {
	out, err := exec.Command("git", "-C", repoRoot, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "detached"
	}
	return strings.TrimSpace(string(out))
}
