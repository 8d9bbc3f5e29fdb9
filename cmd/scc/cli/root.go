// Package cli implements the scc command-line interface using Cobra. It
// wires the core packages together (org config, policy, marketplace,
// settings, workspace, worktree, sandbox, sessions, exceptions) but holds
// no business logic of its own.
package cli

import (
	"os"
	"path/filepath"

	"github.com/ccimen/scc/internal/credential"
	"github.com/ccimen/scc/internal/log"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	jsonOut bool
	profile string
)

var rootCmd = &cobra.Command{
	Use:   "scc",
	Short: "scc - policy-governed sandboxed agent launcher",
	Long: `scc launches coding agents inside sandboxed containers under an
organization's policy: plugin and MCP server allow-lists, delegation to
teams and projects, time-bounded exceptions, and a safety net mounted
read-only into every run whose organization configures one.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if profile == "" {
			profile = os.Getenv("SCC_PROFILE")
		}
		if profile != "" {
			if err := credential.ValidateProfile(profile); err != nil {
				return err
			}
			credential.ActiveProfile = profile
		}

		home, err := os.UserHomeDir()
		debugDir := ""
		if err == nil {
			debugDir = filepath.Join(home, ".scc", "debug")
		}

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Interactive:   true,
			DebugDir:      debugDir,
			RetentionDays: 14,
		}); err != nil {
			cmd.PrintErrf("warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command and returns its error, if any, for the
// caller to translate into a stable exit code via scerr.ExitCodeFor.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "credential profile to use (env: SCC_PROFILE)")
}
