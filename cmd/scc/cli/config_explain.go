package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccimen/scc/internal/exception"
	"github.com/ccimen/scc/internal/orgconfig"
	"github.com/ccimen/scc/internal/policy"
	"github.com/ccimen/scc/internal/scerr"
	"github.com/ccimen/scc/internal/worktree"
	"github.com/spf13/cobra"
)

var (
	explainTeam  string
	explainImage string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the effective plugin/MCP policy for the current workspace and team",
	Long: `explain runs the same compute_effective_config pipeline a launch
uses (spec §4.4) and prints its full decision trail: what's enabled, what
was denied or blocked and why, and which exceptions cleared what.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		home, err := os.UserHomeDir()
		if err != nil {
			return scerr.WrapConfigError("resolving home directory", err)
		}
		configDir := filepath.Join(home, ".scc")
		cacheDir := filepath.Join(configDir, "cache")

		org, err := loadOrgConfig(ctx, configDir, cacheDir)
		if err != nil {
			return err
		}
		if explainTeam == "" {
			return scerr.NewUsageError("--team is required", "pass --team <name>")
		}

		dir, err := os.Getwd()
		if err != nil {
			return scerr.WrapConfigError("resolving current directory", err)
		}
		repoRoot, err := worktree.FindRepoRoot(dir)
		if err != nil {
			repoRoot = dir
		}
		project, err := orgconfig.LoadProjectConfig(repoRoot)
		if err != nil {
			return err
		}

		repoExceptions, err := exception.NewStore(filepath.Join(repoRoot, ".scc", "exceptions.json")).Load(time.Now())
		if err != nil {
			return err
		}
		userExceptions, err := exception.NewStore(filepath.Join(configDir, "exceptions.json")).Load(time.Now())
		if err != nil {
			return err
		}

		effective, err := policy.Compute(policy.Input{
			Org:        org,
			Team:       explainTeam,
			Project:    project,
			Exceptions: append(repoExceptions, userExceptions...),
			ImageRef:   explainImage,
		})
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(effective)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "enabled:")
		for _, ref := range effective.Enabled {
			fmt.Fprintf(out, "  %s\n", ref.String())
		}
		fmt.Fprintln(out, "blocked:")
		for _, b := range effective.Blocked {
			fmt.Fprintf(out, "  %s (pattern %q, layer %s)\n", b.Ref, b.Pattern, b.Layer)
		}
		fmt.Fprintln(out, "denied:")
		for _, d := range effective.Denied {
			fmt.Fprintf(out, "  %s (%s)\n", d.Ref, d.Reason)
		}
		fmt.Fprintln(out, "exceptions applied:")
		for _, id := range effective.ExceptionsApplied {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExplainCmd)
	configExplainCmd.Flags().StringVar(&explainTeam, "team", "", "team profile to evaluate (required)")
	configExplainCmd.Flags().StringVar(&explainImage, "image", "", "base image to evaluate the security block against")
}
