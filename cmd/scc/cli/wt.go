package cli

import (
	"fmt"
	"os"

	"github.com/ccimen/scc/internal/interaction"
	"github.com/ccimen/scc/internal/scerr"
	"github.com/ccimen/scc/internal/worktree"
	"github.com/spf13/cobra"
)

var wtCmd = &cobra.Command{
	Use:   "wt",
	Short: "Manage auxiliary git worktrees for sandboxed launches",
}

var wtCreateAgent string

var wtCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create (or reuse) a worktree for a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, repoID, err := repoContext()
		if err != nil {
			return err
		}
		result, err := worktree.Resolve(repoRoot, repoID, args[0], wtCreateAgent)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", result.Branch, result.WorkspacePath)
		return nil
	},
}

var wtListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees for the current repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, repoID, err := repoContext()
		if err != nil {
			return err
		}
		entries, err := worktree.List(repoID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Branch, e.Path)
		}
		return nil
	},
}

var wtSwitchCmd = &cobra.Command{
	Use:   "switch <target>",
	Short: "Switch to a worktree by branch, \"-\" for previous, or \"^\" for the main repo root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, repoID, err := repoContext()
		if err != nil {
			return err
		}
		entries, err := worktree.List(repoID)
		if err != nil {
			return err
		}
		var previous *worktree.Entry
		if prev := os.Getenv("SCC_PREVIOUS_WORKTREE"); prev != "" {
			for i := range entries {
				if entries[i].Path == prev {
					previous = &entries[i]
					break
				}
			}
		}
		entry, err := worktree.Switch(args[0], entries, repoRoot, previous)
		if err != nil {
			var ambiguous *worktree.AmbiguousMatchError
			if asAmbiguous(err, &ambiguous) {
				fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
				for _, c := range ambiguous.Candidates {
					fmt.Println(c.Branch)
				}
				return nil
			}
			return err
		}
		fmt.Println(entry.Path)
		return nil
	},
}

var wtSelectCmd = &cobra.Command{
	Use:   "select <branch>",
	Short: "Resolve an interactive selection response to a worktree path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, repoID, err := repoContext()
		if err != nil {
			return err
		}
		entries, err := worktree.List(repoID)
		if err != nil {
			return err
		}
		entry, err := worktree.ResolveSelection(interaction.Response{Value: args[0]}, entries)
		if err != nil {
			return err
		}
		fmt.Println(entry.Path)
		return nil
	},
}

var wtRemoveForce bool

var wtRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, _, err := repoContext()
		if err != nil {
			return err
		}
		return worktree.Remove(repoRoot, args[0], wtRemoveForce)
	},
}

var wtPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale on-disk worktree directories git no longer tracks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot, repoID, err := repoContext()
		if err != nil {
			return err
		}
		removed, err := worktree.Prune(repoRoot, repoID)
		if err != nil {
			return err
		}
		for _, p := range removed {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(wtCmd)
	wtCmd.AddCommand(wtCreateCmd, wtListCmd, wtSwitchCmd, wtSelectCmd, wtRemoveCmd, wtPruneCmd)
	wtCreateCmd.Flags().StringVar(&wtCreateAgent, "agent", "", "agent name prefix for the run label")
	wtRemoveCmd.Flags().BoolVar(&wtRemoveForce, "force", false, "remove even if the worktree has uncommitted changes")
}

func repoContext() (repoRoot, repoID string, err error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", "", scerr.WrapConfigError("resolving current directory", err)
	}
	repoRoot, err = worktree.FindRepoRoot(dir)
	if err != nil {
		return "", "", err
	}
	repoID, err = worktree.ResolveRepoID(repoRoot)
	if err != nil {
		return "", "", err
	}
	return repoRoot, repoID, nil
}

func asAmbiguous(err error, target **worktree.AmbiguousMatchError) bool {
	if a, ok := err.(*worktree.AmbiguousMatchError); ok {
		*target = a
		return true
	}
	return false
}
